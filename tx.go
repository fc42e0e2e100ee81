package mt79

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/soypat/mt79/connac"
)

// txQueue holds admitted packets until the TX worker submits them.
type txQueue struct {
	mu    sync.Mutex
	pkts  []*Packet
	depth int
}

func (q *txQueue) init(depth int) {
	q.depth = depth
	q.pkts = make([]*Packet, 0, min(depth, 256))
}

func (q *txQueue) push(p *Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pkts) >= q.depth {
		return false
	}
	q.pkts = append(q.pkts, p)
	return true
}

// pushFront returns a packet the worker could not submit. It may exceed the
// queue depth by the one packet it returns.
func (q *txQueue) pushFront(p *Packet) {
	q.mu.Lock()
	q.pkts = append(q.pkts, nil)
	copy(q.pkts[1:], q.pkts)
	q.pkts[0] = p
	q.mu.Unlock()
}

func (q *txQueue) pop() *Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pkts) == 0 {
		return nil
	}
	p := q.pkts[0]
	q.pkts[0] = nil
	q.pkts = q.pkts[1:]
	return p
}

func (q *txQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pkts)
}

// drain empties the queue and returns its packets in order.
func (q *txQueue) drain() []*Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	pkts := q.pkts
	q.pkts = nil
	return pkts
}

// Transmit admits p for transmission. On success the packet is returned
// exactly once through Stack.TxComplete. On error the caller keeps ownership.
func (d *Device) Transmit(p *Packet) error {
	switch {
	case d.closed.Load():
		return ErrClosed
	case !d.started.Load():
		return ErrNotStarted
	case d.failed.Load():
		return ErrDeviceFailed
	case d.resetting():
		return ErrResetInProgress
	case len(p.Data) <= connac.EthHeaderLen:
		d.stats.TxRejected.Add(1)
		return ErrShortFrame
	case len(p.Bufs) > connac.TXPMaxBufNum:
		d.stats.TxRejected.Add(1)
		return ErrTooManyBufs
	}
	if !d.txq.push(p) {
		return ErrTxQueueFull
	}
	if d.closed.Load() {
		// Close may have drained the queue before the push landed.
		d.failQueued(d.txq.drain())
		return nil
	}
	d.txw.schedule()
	return nil
}

// txWork submits queued packets until the queue is empty or the token table
// runs out. It runs on the TX worker.
func (d *Device) txWork() {
	var done []TxCompletion
	for !d.tokens.isBlocked() {
		p := d.txq.pop()
		if p == nil {
			break
		}
		band, blocked, err := d.txPrepare(p)
		if errors.Is(err, ErrTokensExhausted) {
			// Token release reschedules the worker.
			d.txq.pushFront(p)
			break
		}
		if err != nil {
			d.stats.TxRejected.Add(1)
			d.debug("txWork:prepare", slog.String("err", err.Error()))
			done = append(done, failedCompletion(p))
			continue
		}
		err = d.hw.Submit(band, p, p.head[:])
		if err != nil {
			d.stats.TxSubmitFailed.Add(1)
			d.logerr("txWork:submit", slog.Uint64("token", uint64(p.token)), slog.String("err", err.Error()))
			d.txAbort(p)
			done = append(done, failedCompletion(p))
			continue
		}
		if d._traceenabled {
			d.trace("txWork:submit", slog.Uint64("token", uint64(p.token)), slog.Uint64("band", uint64(band)), slog.Int("len", len(p.Data)))
		}
		if blocked {
			break
		}
	}
	if len(done) > 0 {
		d.stack.TxComplete(done)
	}
}

func failedCompletion(p *Packet) TxCompletion {
	return TxCompletion{Packet: p, WCID: p.wcidx, Stat: connac.TxStatHWDrop, RateIdx: -1}
}

// txAbort undoes the token and status registration of a prepared packet.
func (d *Device) txAbort(p *Packet) {
	d.tokens.release(p.token)
	d.status.remove(p)
}

// txPrepare selects the link and connection of p, assigns a token and writes
// the TX descriptor and firmware block to p.Head. blocked reports the token
// table crossed its free threshold.
func (d *Device) txPrepare(p *Packet) (band uint8, blocked bool, err error) {
	w := p.WCID
	if w == nil {
		w = d.reg.GlobalWCID()
	}
	sta := d.reg.Peer(w)
	if p.Vif == nil && sta != nil {
		p.Vif = sta.Vif
	}
	if p.Vif == nil {
		return 0, false, ErrNoLink
	}
	is8023 := p.is8023()
	eapol := p.isEAPOL()
	fc := p.fc(sta != nil && sta.WME)

	var linkID uint8
	if (is8023 || fc.IsDataQoS()) && sta != nil && sta.MLO {
		linkID = sta.DefLink
		if !eapol && (p.TID&connac.QoSCtlTIDMask)%2 == 1 {
			linkID = sta.SecLink
		}
	} else {
		linkID = p.LinkID
		if linkID >= LinkUnspecified || (sta != nil && !sta.MLO) {
			linkID = w.LinkID
		}
	}
	if sta != nil && linkID != w.LinkID {
		if lw := d.reg.PeerLink(sta, linkID); lw != nil {
			w = lw
		}
	}
	link := d.txLinkOf(p, w)
	if !link.ok {
		return 0, false, ErrNoLink
	}

	token, blocked, err := d.tokens.consume(p, link.Band)
	if errors.Is(err, ErrTokensExhausted) && sta != nil && sta.MLO {
		token, blocked, err = d.consumeAffiliated(p, sta)
	}
	if err != nil {
		return 0, false, err
	}
	p.wcidx = w.Idx
	p.pid = d.status.add(p, w, d.cfg.TxStatusTimeout)

	var txd connac.TXD
	applyTXD := !is8023 || p.pid >= connac.PacketIDFirst
	if applyTXD {
		d.writeTxwi(&txd, p, w, sta, p.pid)
	}
	txd.Put(p.head[:connac.TXDSize])

	if eapol && !is8023 && sta != nil && sta.MLO {
		if err := d.rewriteEAPOLAddrs(p, w, sta, link); err != nil {
			d.txAbort(p)
			return 0, false, err
		}
	}

	txp := connac.TXP{
		Flags: connac.CTInfoFromHost,
		Token: token,
	}
	if applyTXD {
		txp.Flags |= connac.CTInfoApplyTXD
	}
	if p.Flags&TxHWKey == 0 {
		txp.Flags |= connac.CTInfoNoneCipherFrame
	}
	if !is8023 && d.txUseMgmt(p, eapol) {
		txp.Flags |= connac.CTInfoMgmtFrame
	}
	if link.BSSIdx != 0 {
		txp.BSSIdx = link.BSSIdx - 1
	} else {
		txp.BSSIdx = link.OMACIdx
	}
	txp.ReptWDSWcid = connac.ReptWDSWcidNone
	if sta != nil {
		txp.ReptWDSWcid = w.Idx
	}
	txp.SetBufs(p.Bufs)
	txp.Put(p.head[connac.TXDSize:])
	return p.band, blocked, nil
}

// consumeAffiliated retries token allocation on the bands of the other links
// of a multi-link peer.
func (d *Device) consumeAffiliated(p *Packet, sta *Station) (token uint16, blocked bool, err error) {
	err = ErrTokensExhausted
	valid := sta.ValidLinks()
	for id := uint8(0); id < MaxLinks; id++ {
		if valid&(1<<id) == 0 {
			continue
		}
		l, ok := sta.Vif.Link(id)
		if !ok {
			continue
		}
		token, blocked, err = d.tokens.consume(p, l.Band)
		if err == nil {
			return token, blocked, nil
		}
	}
	return 0, false, err
}

// rewriteEAPOLAddrs replaces the multi-link addresses of an EAPOL frame with
// the link addresses, keeping the MLD addresses as source and destination.
func (d *Device) rewriteEAPOLAddrs(p *Packet, w *WCID, sta *Station, link txLink) error {
	if len(p.Data) < connac.Hdr3AddrLen {
		return ErrShortFrame
	}
	fc := connac.FrameFC(p.Data)
	if fc.HasA4() && len(p.Data) < connac.Hdr4AddrLen {
		return ErrShortFrame
	}
	d.hw.SyncForCPU(p)
	copy(p.Data[4:10], w.LinkAddr[:])
	copy(p.Data[10:16], link.Addr[:])
	switch {
	case fc.HasA4():
		copy(p.Data[16:22], sta.Addr[:])
		copy(p.Data[24:30], p.Vif.Addr[:])
	case fc.HasToDS():
		copy(p.Data[16:22], sta.Addr[:])
	case fc.HasFromDS():
		copy(p.Data[16:22], p.Vif.Addr[:])
	}
	d.hw.SyncForDevice(p)
	d.debug("txPrepare:eapol", slog.Uint64("wcid", uint64(w.Idx)), slog.Uint64("link", uint64(w.LinkID)))
	return nil
}

// txUseMgmt reports whether firmware should treat an 802.11 frame as
// management. Without the offload firmware EAPOL and 4-address null frames
// take the management path as well.
func (d *Device) txUseMgmt(p *Packet, eapol bool) bool {
	fc := connac.FrameFC(p.Data)
	if fc.IsMgmt() {
		return true
	}
	if !d.cfg.WAOffload {
		return eapol || (fc.HasA4() && !fc.IsDataPresent())
	}
	return false
}

// failQueued completes packets that were admitted but never submitted.
func (d *Device) failQueued(pkts []*Packet) {
	if len(pkts) == 0 {
		return
	}
	done := make([]TxCompletion, len(pkts))
	for i, p := range pkts {
		done[i] = TxCompletion{Packet: p, Stat: connac.TxStatHWDrop, RateIdx: -1}
		if p.WCID != nil {
			done[i].WCID = p.WCID.Idx
		}
	}
	d.stack.TxComplete(done)
}

// tokenPut releases every live token and completes its packet as failed.
// Packets waiting for a TX-status report are completed too.
func (d *Device) tokenPut() {
	var done []TxCompletion
	d.tokens.releaseAll(func(token uint16, p *Packet) {
		if c, ok := d.txwiFree(p, nil, nil, 0, connac.TxStatHWDrop); ok {
			done = append(done, c)
		}
	})
	done = d.status.flush(done)
	if len(done) > 0 {
		d.info("tokenPut", slog.Int("completed", len(done)))
		d.stack.TxComplete(done)
	}
}
