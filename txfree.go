package mt79

import (
	"log/slog"
	"time"

	"github.com/soypat/mt79/connac"
)

// txFree processes a TX-free notification: it releases the listed tokens,
// accounts delivery counters on the bound connections and hands the
// completed packets to the stack in one batch.
func (d *Device) txFree(buf []byte) {
	hdr, err := connac.DecodeTxFreeHeader(buf)
	if err != nil {
		d.stats.TxFreeMalformed.Add(1)
		d.warn("txFree:header", slog.String("err", err.Error()))
		return
	}
	nwords := len(buf) / connac.WordSize
	var (
		w       *WCID
		sta     *Station
		stat    uint8
		retries uint32
		count   uint16
		wake    bool
		done    []TxCompletion
	)
	for i := connac.TxFreeEntryWords; count < hdr.Total; i++ {
		if i >= nwords {
			// Deliver what was released so far.
			d.stats.TxFreeMalformed.Add(1)
			d.warn("txFree:overrun", slog.Int("count", int(count)), slog.Int("total", int(hdr.Total)))
			break
		}
		info := connac.TxFreeInfo(connac.Word(buf, i))
		switch {
		case info.IsPair():
			w, sta = d.reg.ResolveWCID(info.WlanID()), nil
			stat, retries = 0, 0
			if w != nil {
				sta = d.reg.Peer(w)
			}
			if w == nil || (w.hasSta && sta == nil) {
				// Peer torn down: its packets are released as dropped.
				w, sta = nil, nil
				stat = connac.TxStatHWDrop
			} else if sta != nil {
				d.pollStation(sta)
			}
			if hdr.Version == connac.TxFreeExtPairVersion && i+1 < nwords &&
				connac.TxFreeInfo(connac.Word(buf, i+1)).IsPair() {
				i++
			}
			continue
		case info.IsHeader():
			if w == nil {
				continue
			}
			stat = info.Stat()
			retries = 0
			if n := info.Count(); n > 0 {
				retries = uint32(n) - 1
			}
			w.Stats.TxRetries.Add(uint64(retries))
			w.Stats.TxFailed.Add(uint64(retries + b2u32(stat != connac.TxStatOK)))
			continue
		}
		for k := 0; k < 2; k++ {
			token, ok := info.Token(k)
			if !ok {
				continue
			}
			count++
			p, wk := d.tokens.release(token)
			wake = wake || wk
			if p == nil {
				d.stats.TxFreeUnknown.Add(1)
				d.debug("txFree:unknown-token", slog.Uint64("token", uint64(token)))
				continue
			}
			if d._traceenabled {
				d.trace("txFree", slog.Uint64("token", uint64(token)), slog.Uint64("txcnt", uint64(retries+1)), slog.Uint64("stat", uint64(stat)))
			}
			if c, ok := d.txwiFree(p, w, sta, retries+1, stat); ok {
				done = append(done, c)
			}
			// Retries are accounted once per header entry.
			retries = 0
			if b := d.bandAt(p.band); b != nil {
				switch stat {
				case connac.TxStatHWDrop:
					b.mib.TxHWDrop.Add(1)
				case connac.TxStatMCUDrop:
					b.mib.TxMCUDrop.Add(1)
				}
			}
		}
	}
	if wake {
		d.debug("txFree:unblocked", slog.Int("tokens", d.tokens.len()))
	}
	d.txw.schedule()
	if len(done) > 0 {
		d.stack.TxComplete(done)
	}
}

// pollStation queues every link of sta for firmware statistics polling.
func (d *Device) pollStation(sta *Station) {
	valid := sta.ValidLinks()
	for id := uint8(0); id < MaxLinks; id++ {
		if valid&(1<<id) != 0 {
			d.poll.add(d.reg.PeerLink(sta, id))
		}
	}
}

// txwiFree builds the completion of a packet whose token was released.
// Packets awaiting a TX-status report are only returned once the report is
// in as well.
func (d *Device) txwiFree(p *Packet, w *WCID, sta *Station, txCount uint32, stat uint8) (TxCompletion, bool) {
	c := TxCompletion{
		Packet:  p,
		WCID:    p.wcidx,
		Stat:    stat,
		TxCount: uint8(min(txCount, 0xff)),
		Acked:   stat == connac.TxStatOK && txCount > 0,
		RateIdx: -1,
	}
	if sta != nil && !p.isEAPOL() {
		d.txCheckAggr(p, w, sta)
	}
	if w != nil {
		if sta != nil {
			c.WCID = w.Idx
		}
		c.LinkID = w.LinkID
		c.LinkValid = sta != nil && sta.MLO
		c.RateIdx = w.rateIndex()
		if p.txo {
			w.Stats.TxoAttempts.Add(uint64(txCount))
			if stat == connac.TxStatOK {
				w.Stats.TxoOk.Add(1)
			} else {
				w.Stats.TxoFail.Add(1)
			}
		}
	}
	if c.Acked {
		if b := d.bandAt(p.band); b != nil {
			b.mib.TxPkts.Add(1)
			b.mib.TxBytes.Add(uint64(len(p.Data)))
		}
	}
	if p.pid >= connac.PacketIDFirst {
		return d.status.dmaDone(p, c)
	}
	return c, true
}

// txCheckAggr requests or refreshes an aggregation session for QoS data.
func (d *Device) txCheckAggr(p *Packet, w *WCID, sta *Station) {
	fc := p.fc(sta.WME)
	if fc&(connac.FCtlFType|connac.FCtlSType) != connac.FTypeData|connac.STypeQoSData {
		return
	}
	d.checkTxBA(w, p.TID&connac.QoSCtlTIDMask)
}

// checkTxBA refreshes an active session on tid or starts one, at most once
// per ADDBA retry period.
func (d *Device) checkTxBA(w *WCID, tid uint8) {
	if w == nil {
		return
	}
	sta := d.reg.Peer(w)
	if sta == nil || (!sta.MLO && !(w.HT || w.HE)) {
		return
	}
	tid &= connac.QoSCtlTIDMask
	if w.AMPDUActive(tid) {
		d.reg.RefreshBASession(w, tid)
		return
	}
	now := time.Now().UnixNano()
	last := sta.lastADDBA[tid].Load()
	if last != 0 && now-last <= int64(d.cfg.ADDBARetry) {
		return
	}
	if !w.claimAMPDU(tid) {
		// Another completion started the session.
		return
	}
	sta.lastADDBA[tid].Store(now)
	if err := d.reg.StartBASession(w, tid); err != nil {
		w.SetAMPDU(tid, false)
		d.debug("checkTxBA:start", slog.Uint64("wcid", uint64(w.Idx)), slog.Uint64("tid", uint64(tid)), slog.String("err", err.Error()))
	}
}
