package mt79

import (
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/mt79/connac"
)

// statusTable tracks packets that requested a TX-status report. A tracked
// packet completes once both its token was freed and its report arrived or
// timed out.
type statusTable struct {
	mu      sync.Mutex
	nextPID map[uint16]uint8
	pending map[statusKey]*statusEntry
}

type statusKey struct {
	wcid uint16
	pid  uint8
}

type statusEntry struct {
	p        *Packet
	c        TxCompletion
	deadline time.Time
	// dma is set once the token was freed and c holds its outcome.
	dma bool
	// txs is set once the report arrived or timed out.
	txs     bool
	acked   bool
	timeout bool
}

func (t *statusTable) init() {
	t.nextPID = make(map[uint16]uint8)
	t.pending = make(map[statusKey]*statusEntry)
}

// add returns the packet id of p sent on w and starts tracking p if it
// requested a report.
func (t *statusTable) add(p *Packet, w *WCID, timeout time.Duration) uint8 {
	if p.Flags&TxNoAck != 0 {
		return connac.PacketIDNoAck
	}
	if p.Flags&TxReqStatus == 0 {
		return connac.PacketIDNoSKB
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	const span = connac.PacketIDMask - connac.PacketIDFirst + 1
	pid := t.nextPID[w.Idx]
	for i := 0; i < span; i++ {
		if pid < connac.PacketIDFirst || pid > connac.PacketIDMask {
			pid = connac.PacketIDFirst
		}
		key := statusKey{wcid: w.Idx, pid: pid}
		if _, busy := t.pending[key]; !busy {
			t.pending[key] = &statusEntry{p: p, deadline: time.Now().Add(timeout)}
			t.nextPID[w.Idx] = pid + 1
			return pid
		}
		pid++
	}
	// Every id of the connection is in flight.
	return connac.PacketIDNoSKB
}

func (t *statusTable) remove(p *Packet) {
	if p.pid < connac.PacketIDFirst {
		return
	}
	t.mu.Lock()
	key := statusKey{wcid: p.wcidx, pid: p.pid}
	if e := t.pending[key]; e != nil && e.p == p {
		delete(t.pending, key)
	}
	t.mu.Unlock()
}

// dmaDone records the token release of p with outcome c. It returns the
// final completion when the packet is done.
func (t *statusTable) dmaDone(p *Packet, c TxCompletion) (TxCompletion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := statusKey{wcid: p.wcidx, pid: p.pid}
	e := t.pending[key]
	if e == nil || e.p != p {
		return c, true
	}
	e.dma = true
	e.c = c
	if !e.txs {
		return c, false
	}
	delete(t.pending, key)
	return e.complete(), true
}

// txsDone records a report. It returns the tracked packet, if any, and its
// final completion when the packet is done.
func (t *statusTable) txsDone(wcid uint16, pid uint8, acked bool) (p *Packet, c TxCompletion, done bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := statusKey{wcid: wcid, pid: pid}
	e := t.pending[key]
	if e == nil || e.txs {
		return nil, c, false
	}
	e.txs = true
	e.acked = acked
	if !e.dma {
		return e.p, c, false
	}
	delete(t.pending, key)
	return e.p, e.complete(), true
}

// expire marks entries past their deadline as timed out and appends the
// completions of those whose token was already freed.
func (t *statusTable) expire(now time.Time, dst []TxCompletion) []TxCompletion {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.pending {
		if e.txs || now.Before(e.deadline) {
			continue
		}
		e.txs = true
		e.timeout = true
		if e.dma {
			delete(t.pending, key)
			dst = append(dst, e.complete())
		}
	}
	return dst
}

// flush drops every entry. Entries whose token was freed are completed as
// timed out. The others are owned by the token table.
func (t *statusTable) flush(dst []TxCompletion) []TxCompletion {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.pending {
		if e.dma {
			e.timeout = !e.txs || e.timeout
			dst = append(dst, e.complete())
		}
		delete(t.pending, key)
	}
	return dst
}

func (t *statusTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (e *statusEntry) complete() TxCompletion {
	c := e.c
	c.StatusTimeout = e.timeout
	if !e.timeout {
		c.Acked = e.acked
	}
	return c
}

// txStatus processes a TX-status buffer.
func (d *Device) txStatus(buf []byte) {
	var (
		s    connac.TXS
		done []TxCompletion
	)
	it := connac.NewTxStatusIter(buf)
	for it.Next(&s) {
		if c, ok := d.addTxStatus(&s); ok {
			done = append(done, c)
		}
	}
	if len(done) > 0 {
		d.stack.TxComplete(done)
	}
}

// addTxStatus accounts one TX-status record and returns the completion of a
// tracked packet it finished.
func (d *Device) addTxStatus(s *connac.TXS) (c TxCompletion, done bool) {
	pid := s.PID()
	if pid < connac.PacketIDNoSKB {
		return c, false
	}
	wcidx, bandIdx := s.WCID(), s.Band()
	if d._traceenabled {
		d.trace("addTxStatus", slog.Uint64("fmt", uint64(s.Format())), slog.Uint64("wcid", uint64(wcidx)), slog.Uint64("pid", uint64(pid)), slog.Uint64("band", uint64(bandIdx)))
	}
	w := d.reg.ResolveWCID(wcidx)
	if w == nil {
		d.stats.TxStatusUnknown.Add(1)
		return c, false
	}
	lw := d.rxGetWCID(wcidx, bandIdx)
	if lw == nil {
		d.stats.TxStatusUnknown.Add(1)
		return c, false
	}
	st := &lw.Stats

	switch s.Format() {
	case connac.TXSFormatMPDU:
		var p *Packet
		p, c, done = d.status.txsDone(w.Idx, pid, s.Acked())
		if p != nil && s.Acked() {
			d.probeAcked(p, w)
		}
	case connac.TXSFormatPPDU:
		txCnt, retries := uint64(s.MPDUTxCount()), uint64(s.MPDURetryCount())
		st.TxMPDUOk.Add(txCnt)
		st.TxAttempts.Add(txCnt + retries)
		st.TxFailed.Add(uint64(s.MPDUFailCount()))
		st.TxRetries.Add(retries)
	default:
		d.stats.TxStatusUnknown.Add(1)
		d.logerr("addTxStatus:format", slog.Uint64("fmt", uint64(s.Format())))
		return c, false
	}

	d.txStatusRate(s, w, lw)
	if d.reg.Peer(lw) != nil {
		d.poll.add(lw)
	}
	return c, done
}

// txStatusRate accounts the rate of a TX-status record in the histograms of
// lw and caches it on w.
func (d *Device) txStatusRate(s *connac.TXS, w, lw *WCID) {
	st := &lw.Stats
	rate := s.Rate()
	mcs, nss, mode := rate.Index(), rate.NSS(), rate.Mode()
	if s.STBC() && nss > 1 {
		nss >>= 1
	}
	if int(nss-1) < len(st.TxNSS) {
		st.TxNSS[nss-1].Add(1)
	}
	var mcsIdx uint8
	if int(mcs) < len(st.TxMCS) {
		mcsIdx = mcs
	}
	switch mode {
	case connac.PhyCCK, connac.PhyOFDM:
		b := d.bandAt(w.Band)
		mcsIdx = connac.LegacyRateIndex(mcs, mode == connac.PhyCCK, b != nil && b.cfg.Is2GHz())
	case connac.PhyHT, connac.PhyHTGF:
		if mcs > 31 {
			return
		}
		mcsIdx = mcs % 8
	case connac.PhyVHT:
		if mcs > 9 {
			return
		}
	case connac.PhyHESU, connac.PhyHEExtSU, connac.PhyHETB, connac.PhyHEMU:
		if mcs > 11 {
			return
		}
	case connac.PhyEHTSU, connac.PhyEHTTrig, connac.PhyEHTMU:
		if mcs > 13 {
			return
		}
	default:
		return
	}
	st.TxMCS[mcsIdx].Add(1)
	st.TxMode[mode].Add(1)
	bw := s.BW()
	if int(bw) < len(st.TxBW) {
		st.TxBW[bw].Add(1)
	}
	if s.FixedRate() {
		return
	}
	// Cache the rate reported to the stack and flag rate control changes.
	val := uint32(connac.MakeTxRate(mode, mcs, nss, false)) | uint32(bw)<<16
	old := w.rate.Swap(val)
	if old == 0 || old == val {
		return
	}
	var changed RCChange
	oldRate := connac.TxRate(old)
	if uint8(old>>16) != bw {
		changed |= RCChangedBW
	}
	if oldRate.NSS() != nss {
		changed |= RCChangedNSS
	}
	if oldRate.Index() != mcs || oldRate.Mode() != mode {
		changed |= RCChangedRate
	}
	d.reg.EnqueueRCEvent(w, changed)
}
