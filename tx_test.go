package mt79

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soypat/mt79/connac"
)

// txFreeBuf builds a TX-free notification reporting tokens freed for wcid
// after count transmissions with outcome stat.
func txFreeBuf(wcid uint16, count, stat uint8, tokens ...uint16) []byte {
	nwords := connac.TxFreeEntryWords + 2 + (len(tokens)+1)/2
	buf := make([]byte, nwords*connac.WordSize)
	connac.PutTxFreeHeader(buf, connac.TxFreeMinVersion, uint16(len(tokens)), len(buf))
	i := connac.TxFreeEntryWords
	connac.PutWord(buf, i, uint32(connac.TxFreePair(wcid)))
	connac.PutWord(buf, i+1, uint32(connac.TxFreeHeaderEntry(count, stat)))
	i += 2
	for k := 0; k < len(tokens); k += 2 {
		second := uint16(connac.TxFreeInfoMSDUID)
		if k+1 < len(tokens) {
			second = tokens[k+1]
		}
		connac.PutWord(buf, i, uint32(connac.TxFreeTokens(tokens[k], second)))
		i++
	}
	return buf
}

// txsBuf builds a TX-status buffer with one MPDU record.
func txsBuf(wcid uint16, band, pid uint8, acked bool) []byte {
	buf := make([]byte, connac.TXSHdrWords*connac.WordSize+connac.TXSSize)
	connac.PutWord(buf, 0, uint32(len(buf)))
	rec := buf[connac.TXSHdrWords*connac.WordSize:]
	w0 := connac.FieldPrep(connac.TXS0Format, uint32(connac.TXSFormatMPDU)) |
		connac.FieldPrep(connac.TXS0TxRate, uint32(connac.MakeTxRate(connac.PhyHT, 7, 1, false)))
	if !acked {
		w0 |= connac.FieldPrep(connac.TXS0AckErrorMask, uint32(1))
	}
	connac.PutWord(rec, 0, w0)
	connac.PutWord(rec, 2, connac.FieldPrep(connac.TXS2WCID, uint32(wcid))|connac.FieldPrep(connac.TXS2Band, uint32(band)))
	connac.PutWord(rec, 3, connac.FieldPrep(connac.TXS3PID, uint32(pid)))
	return buf
}

func TestQueueRouting(t *testing.T) {
	td := newTestDevice(t, nil)
	vif, _, w := td.addAP(t, 1)
	deauth := make([]byte, connac.Hdr3AddrLen+2)
	hdr := connac.Hdr{FC: connac.FTypeMgmt | connac.STypeDeauth, Addr1: staAddr, Addr2: apAddr, Addr3: apAddr}
	hdr.Put(deauth)
	beacon := make([]byte, connac.Hdr3AddrLen+12)
	hdr = connac.Hdr{FC: connac.FTypeMgmt | connac.STypeBeacon, Addr1: [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Addr2: apAddr, Addr3: apAddr}
	hdr.Put(beacon)
	tests := []struct {
		name  string
		p     Packet
		wantQ uint8
	}{
		{name: "deauth", p: Packet{Data: deauth, Queue: QueueBE}, wantQ: connac.LMACALTX0},
		{name: "qos-be", p: Packet{Data: qosDataFrame(0), Queue: QueueBE}, wantQ: 1*connac.MaxWMMSets + connac.LMACAC01},
		{name: "qos-vo", p: Packet{Data: qosDataFrame(6), Queue: QueueVO, TID: 6}, wantQ: 1*connac.MaxWMMSets + connac.LMACAC03},
		{name: "qos-bk", p: Packet{Data: qosDataFrame(1), Queue: QueueBK, TID: 1}, wantQ: 1*connac.MaxWMMSets + connac.LMACAC00},
		{name: "psd", p: Packet{Data: qosDataFrame(0), Queue: QueuePSD}, wantQ: connac.LMACALTX0},
		{name: "beacon", p: Packet{Data: beacon, Flags: TxBeacon, Queue: QueueBeacon}, wantQ: connac.LMACBCN0},
		{name: "offchannel", p: Packet{Data: qosDataFrame(0), Flags: TxOffChannel, Queue: QueueBE}, wantQ: connac.LMACALTX0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			p.Vif = vif
			txd, err := td.BuildTxDescriptor(&p, w)
			if err != nil {
				t.Fatal(err)
			}
			if q := txd.QueueIdx(); q != tt.wantQ {
				t.Errorf("queue %#x, want %#x", q, tt.wantQ)
			}
			if txd.WlanIdx() != w.Idx {
				t.Error("bad wlan index", txd.WlanIdx())
			}
		})
	}
	if connac.LMACALTX0 != 0x10 || 1*connac.MaxWMMSets+connac.LMACAC01 != 5 {
		t.Error("unexpected queue constants")
	}
}

func TestBuildTxDescriptorFields(t *testing.T) {
	td := newTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	p := &Packet{Data: qosDataFrame(5), Queue: QueueVI, TID: 5, Vif: vif}
	txd, err := td.BuildTxDescriptor(p, w)
	if err != nil {
		t.Fatal(err)
	}
	if txd.HdrFormat() != connac.HdrFormat80211 {
		t.Error("bad header format", txd.HdrFormat())
	}
	if txd.TID() != 5 {
		t.Error("bad tid", txd.TID())
	}
	if txd.FixedRate() {
		t.Error("unicast data sent at fixed rate")
	}
	if txd.RemTxCount() != connac.DefaultTxCount {
		t.Error("bad retry budget", txd.RemTxCount())
	}
	if int(txd.TxBytes()) != len(p.Data)+connac.TXDSize {
		t.Error("bad byte count", txd.TxBytes())
	}

	// Group addressed data goes out at the multicast basic rate.
	mcast := qosDataFrame(0)
	mcast[4] = 0xff
	p = &Packet{Data: mcast, Queue: QueueBE, Vif: vif}
	txd, err = td.BuildTxDescriptor(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !txd.FixedRate() || txd.RateIdx() != 0 {
		t.Error("multicast frame not sent at link basic rate", txd.FixedRate(), txd.RateIdx())
	}

	if _, err := td.BuildTxDescriptor(&Packet{Data: make([]byte, connac.EthHeaderLen)}, w); !errors.Is(err, ErrShortFrame) {
		t.Error("want short frame error, got", err)
	}
}

func TestTransmitAdmission(t *testing.T) {
	td := newTestDevice(t, nil)
	p := &Packet{Data: qosDataFrame(0)}
	if err := td.Transmit(p); !errors.Is(err, ErrNotStarted) {
		t.Error("want not started, got", err)
	}
	if err := td.Device.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := td.Transmit(&Packet{Data: make([]byte, connac.EthHeaderLen)}); !errors.Is(err, ErrShortFrame) {
		t.Error("want short frame, got", err)
	}
	if err := td.Transmit(&Packet{Data: qosDataFrame(0), Bufs: make([]connac.DMABuf, connac.TXPMaxBufNum+1)}); !errors.Is(err, ErrTooManyBufs) {
		t.Error("want too many buffers, got", err)
	}
	if n := td.Counters().TxRejected.Load(); n != 2 {
		t.Error("want 2 rejections, got", n)
	}
	td.setBandsReset(true)
	if err := td.Transmit(p); !errors.Is(err, ErrResetInProgress) {
		t.Error("want reset in progress, got", err)
	}
	td.setBandsReset(false)
	td.Close()
	if err := td.Transmit(p); !errors.Is(err, ErrClosed) {
		t.Error("want closed, got", err)
	}
	if len(td.stack.completions()) != 0 {
		t.Error("rejected packets were completed")
	}
}

func TestTransmitCompletesOnTxFree(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	var baStarts int
	td.reg.StartBA = func(bw *WCID, tid uint8) error {
		baStarts++
		return nil
	}
	p := &Packet{Data: qosDataFrame(0), Queue: QueueBE, WCID: w, Vif: vif}
	if err := td.Transmit(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 1 })

	txd, err := connac.DecodeTXD(p.Head())
	if err != nil {
		t.Fatal(err)
	}
	if txd.PID() != connac.PacketIDNoSKB {
		t.Error("untracked packet got pid", txd.PID())
	}
	txp, err := connac.DecodeTXP(p.Head()[connac.TXDSize:])
	if err != nil {
		t.Fatal(err)
	}
	if txp.Token != p.Token() {
		t.Error("firmware block token mismatch", txp.Token, p.Token())
	}

	td.OnDescriptorReady(txFreeBuf(w.Idx, 2, connac.TxStatOK, p.Token()))
	done := td.stack.completions()
	if len(done) != 1 {
		t.Fatalf("want 1 completion, got %d", len(done))
	}
	c := done[0]
	if c.Packet != p || !c.Acked || c.TxCount != 2 || c.WCID != w.Idx || c.Stat != connac.TxStatOK {
		t.Errorf("bad completion %+v", c)
	}
	if n := w.Stats.TxRetries.Load(); n != 1 {
		t.Error("want 1 retry, got", n)
	}
	if n := td.bands[0].mib.TxPkts.Load(); n != 1 {
		t.Error("band tx packets", n)
	}
	if baStarts != 1 || !w.AMPDUActive(0) {
		t.Error("aggregation session not requested", baStarts)
	}
	if td.tokens.len() != 0 {
		t.Error("token not released")
	}

	// A second notification for the same token completes nothing.
	td.OnDescriptorReady(txFreeBuf(w.Idx, 1, connac.TxStatOK, p.Token()))
	if len(td.stack.completions()) != 1 {
		t.Error("packet completed twice")
	}
	if n := td.Counters().TxFreeUnknown.Load(); n != 1 {
		t.Error("want unknown token counted, got", n)
	}
}

func TestTxFreeDropOutcome(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	pkts := []*Packet{
		{Data: qosDataFrame(0), WCID: w, Vif: vif},
		{Data: qosDataFrame(0), WCID: w, Vif: vif},
		{Data: qosDataFrame(0), WCID: w, Vif: vif},
	}
	for _, p := range pkts {
		if err := td.Transmit(p); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 3 })
	td.OnDescriptorReady(txFreeBuf(w.Idx, 15, connac.TxStatHWDrop, pkts[0].Token(), pkts[1].Token(), pkts[2].Token()))
	done := td.stack.completions()
	if len(done) != 3 {
		t.Fatalf("want 3 completions, got %d", len(done))
	}
	for i, c := range done {
		if c.Acked || c.Stat != connac.TxStatHWDrop {
			t.Errorf("completion %d: %+v", i, c)
		}
	}
	// Retries are accounted once per header entry.
	if n := w.Stats.TxRetries.Load(); n != 14 {
		t.Error("retries", n)
	}
	if n := td.bands[0].mib.TxHWDrop.Load(); n != 3 {
		t.Error("hardware drops", n)
	}
}

func TestTxFreeOverrun(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif}
	if err := td.Transmit(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 1 })
	buf := txFreeBuf(w.Idx, 1, connac.TxStatOK, p.Token())
	// Claim more tokens than the entries carry.
	connac.PutTxFreeHeader(buf, connac.TxFreeMinVersion, 4, len(buf))
	td.OnDescriptorReady(buf)
	if n := td.Counters().TxFreeMalformed.Load(); n != 1 {
		t.Error("overrun not counted", n)
	}
	if len(td.stack.completions()) != 1 {
		t.Error("tokens released before the overrun were not completed")
	}
}

func TestTxFreeRemovedPeer(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, sta, w := td.addAP(t, 0)
	p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif}
	if err := td.Transmit(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 1 })
	idx := w.Idx
	td.reg.RemoveStation(sta)

	td.OnDescriptorReady(txFreeBuf(idx, 1, connac.TxStatOK, p.Token()))
	done := td.stack.completions()
	if len(done) != 1 {
		t.Fatalf("want 1 completion, got %d", len(done))
	}
	if c := done[0]; c.Packet != p || c.Acked || c.Stat != connac.TxStatHWDrop {
		t.Errorf("packet of removed peer completed as %+v", c)
	}
	if td.tokens.len() != 0 {
		t.Error("token not released")
	}
	if n := td.bands[0].mib.TxPkts.Load(); n != 0 {
		t.Error("dropped packet counted as sent", n)
	}
}

func TestTxFreeTokenBeforePair(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif}
	if err := td.Transmit(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 1 })

	buf := make([]byte, (connac.TxFreeEntryWords+1)*connac.WordSize)
	connac.PutTxFreeHeader(buf, connac.TxFreeMinVersion, 1, len(buf))
	connac.PutWord(buf, connac.TxFreeEntryWords, uint32(connac.TxFreeTokens(p.Token(), connac.TxFreeInfoMSDUID)))
	td.OnDescriptorReady(buf)

	done := td.stack.completions()
	if len(done) != 1 || done[0].Packet != p {
		t.Fatalf("unbound token not completed: %+v", done)
	}
	if td.tokens.len() != 0 {
		t.Error("token not released")
	}
	if n := td.Counters().TxFreeMalformed.Load(); n != 0 {
		t.Error("unbound token treated as malformed", n)
	}
	if r, f := w.Stats.TxRetries.Load(), w.Stats.TxFailed.Load(); r != 0 || f != 0 {
		t.Error("unbound token accounted on a connection", r, f)
	}
}

func TestTxFreeADDBABackoff(t *testing.T) {
	const retry = 200 * time.Millisecond
	td := startTestDevice(t, func(cfg *Config) { cfg.ADDBARetry = retry })
	vif, _, w := td.addAP(t, 0)
	var baStarts int
	td.reg.StartBA = func(bw *WCID, tid uint8) error {
		baStarts++
		return nil
	}
	sent := 0
	complete := func() {
		t.Helper()
		p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif}
		if err := td.Transmit(p); err != nil {
			t.Fatal(err)
		}
		sent++
		waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == sent })
		td.OnDescriptorReady(txFreeBuf(w.Idx, 1, connac.TxStatOK, p.Token()))
	}

	complete()
	if baStarts != 1 {
		t.Fatal("session not requested", baStarts)
	}
	// Session torn down by the peer.
	w.SetAMPDU(0, false)
	complete()
	if baStarts != 1 || w.AMPDUActive(0) {
		t.Error("session requested again within the retry period", baStarts)
	}
	time.Sleep(retry + 50*time.Millisecond)
	complete()
	if baStarts != 2 || !w.AMPDUActive(0) {
		t.Error("session not requested after the retry period", baStarts)
	}
}

func TestCheckTxBAConcurrent(t *testing.T) {
	td := startTestDevice(t, nil)
	_, _, w := td.addAP(t, 0)
	var baStarts atomic.Int32
	td.reg.StartBA = func(bw *WCID, tid uint8) error {
		baStarts.Add(1)
		return nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			td.checkTxBA(w, 0)
		}()
	}
	wg.Wait()
	if n := baStarts.Load(); n != 1 {
		t.Error("want one session request, got", n)
	}
	if !w.AMPDUActive(0) {
		t.Error("session not marked active")
	}
}

func TestTxStatusTracking(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)

	send := func() *Packet {
		t.Helper()
		p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif, Flags: TxReqStatus}
		n := td.hw.nsubmitted()
		if err := td.Transmit(p); err != nil {
			t.Fatal(err)
		}
		waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == n+1 })
		return p
	}

	// Token freed first, report second.
	p := send()
	if p.pid < connac.PacketIDFirst {
		t.Fatal("tracked packet got untracked pid", p.pid)
	}
	txd, _ := connac.DecodeTXD(p.Head())
	if txd.PID() != p.pid || txd[5]&connac.TXD5TxStatusHost == 0 {
		t.Error("descriptor does not request a report", txd.PID())
	}
	td.OnDescriptorReady(txFreeBuf(w.Idx, 1, connac.TxStatOK, p.Token()))
	if len(td.stack.completions()) != 0 {
		t.Fatal("tracked packet completed before its report")
	}
	td.OnDescriptorReady(txsBuf(w.Idx, 0, p.pid, true))
	done := td.stack.completions()
	if len(done) != 1 || done[0].Packet != p || !done[0].Acked || done[0].StatusTimeout {
		t.Fatalf("bad completions %+v", done)
	}
	if r, _ := w.TxRate(); r.Mode() != connac.PhyHT || r.Index() != 7 {
		t.Error("reported rate not cached", r.Mode(), r.Index())
	}

	// Report first, token second. The report outcome wins.
	p = send()
	td.OnDescriptorReady(txsBuf(w.Idx, 0, p.pid, false))
	if len(td.stack.completions()) != 1 {
		t.Fatal("tracked packet completed before its token was freed")
	}
	td.OnDescriptorReady(txFreeBuf(w.Idx, 1, connac.TxStatOK, p.Token()))
	done = td.stack.completions()
	if len(done) != 2 || done[1].Packet != p || done[1].Acked {
		t.Fatalf("bad completions %+v", done)
	}
	if td.status.len() != 0 {
		t.Error("status entries leaked", td.status.len())
	}
}

func TestTxStatusTimeout(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif, Flags: TxReqStatus}
	if err := td.Transmit(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 1 })
	td.OnDescriptorReady(txFreeBuf(w.Idx, 1, connac.TxStatOK, p.Token()))

	td.txStatusCheck(time.Now())
	if len(td.stack.completions()) != 0 {
		t.Fatal("report expired early")
	}
	td.txStatusCheck(time.Now().Add(time.Minute))
	done := td.stack.completions()
	if len(done) != 1 || !done[0].StatusTimeout {
		t.Fatalf("want one timed out completion, got %+v", done)
	}
	// A late report finds nothing to complete.
	td.OnDescriptorReady(txsBuf(w.Idx, 0, p.pid, true))
	if len(td.stack.completions()) != 1 {
		t.Error("late report completed the packet again")
	}
}

func TestTxBackpressure(t *testing.T) {
	td := startTestDevice(t, func(cfg *Config) {
		cfg.Tokens = 4
		cfg.TokenFreeThreshold = 1
	})
	vif, _, w := td.addAP(t, 0)
	pkts := make([]*Packet, 6)
	for i := range pkts {
		pkts[i] = &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif}
		if err := td.Transmit(pkts[i]); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "blocked table", func() bool {
		return td.hw.nsubmitted() == 3 && td.txq.len() == 3
	})
	select {
	case <-td.OnTokenExhausted():
		t.Fatal("token table reported unblocked")
	default:
	}
	td.OnDescriptorReady(txFreeBuf(w.Idx, 1, connac.TxStatOK, pkts[0].Token()))
	waitFor(t, "resumed submission", func() bool {
		return td.hw.nsubmitted() == 4 && td.txq.len() == 2
	})
	if td.hw.lastSubmitted() != pkts[3] {
		t.Error("queue order not kept")
	}
}

func TestSubmitFailureCompletes(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	td.hw.mu.Lock()
	td.hw.submitErr = errFake
	td.hw.mu.Unlock()
	p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif, Flags: TxReqStatus}
	if err := td.Transmit(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failed completion", func() bool { return len(td.stack.completions()) == 1 })
	c := td.stack.completions()[0]
	if c.Packet != p || c.Acked || c.Stat != connac.TxStatHWDrop {
		t.Errorf("bad completion %+v", c)
	}
	if td.tokens.len() != 0 || td.status.len() != 0 {
		t.Error("failed submission leaked state", td.tokens.len(), td.status.len())
	}
	if n := td.Counters().TxSubmitFailed.Load(); n != 1 {
		t.Error("submit failures", n)
	}
}

func TestCloseFailsOutstanding(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	for i := 0; i < 3; i++ {
		if err := td.Transmit(&Packet{Data: qosDataFrame(0), WCID: w, Vif: vif}); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 3 })
	td.Close()
	done := td.stack.completions()
	if len(done) != 3 {
		t.Fatalf("want 3 completions, got %d", len(done))
	}
	for _, c := range done {
		if c.Acked {
			t.Error("outstanding packet completed as acked")
		}
	}
}

func TestTransmitRacingClose(t *testing.T) {
	td := startTestDevice(t, nil)
	vif, _, w := td.addAP(t, 0)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted = make(map[*Packet]bool)
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p := &Packet{Data: qosDataFrame(0), WCID: w, Vif: vif}
				err := td.Transmit(p)
				if errors.Is(err, ErrClosed) {
					return
				}
				if err == nil {
					mu.Lock()
					accepted[p] = true
					mu.Unlock()
				}
			}
		}()
	}
	waitFor(t, "traffic", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(accepted) > 16
	})
	td.Close()
	wg.Wait()

	seen := make(map[*Packet]int)
	for _, c := range td.stack.completions() {
		seen[c.Packet]++
	}
	for p := range accepted {
		if n := seen[p]; n != 1 {
			t.Fatalf("accepted packet completed %d times", n)
		}
	}
	if len(seen) != len(accepted) {
		t.Errorf("completed %d packets, accepted %d", len(seen), len(accepted))
	}
}

func TestEAPOLMultiLinkRewrite(t *testing.T) {
	td := startTestDevice(t, nil)
	var (
		apLink0  = [6]byte{0x02, 0, 0, 0, 1, 0}
		apLink1  = [6]byte{0x02, 0, 0, 0, 1, 1}
		staLink0 = [6]byte{0x02, 0, 0, 0, 2, 0}
		staLink1 = [6]byte{0x02, 0, 0, 0, 2, 1}
	)
	vif := NewVif(apAddr, VifAP, true)
	for _, l := range []VifLink{
		{LinkID: 0, Band: 0, OMACIdx: 1, Addr: apLink0, BSSID: apLink0},
		{LinkID: 1, Band: 1, OMACIdx: 2, Addr: apLink1, BSSID: apLink1},
	} {
		if err := vif.AddLink(l); err != nil {
			t.Fatal(err)
		}
	}
	td.reg.AddVif(vif)
	sta, err := td.reg.AddStation(vif, staAddr, true, true,
		StationLink{LinkID: 0, Band: 0, Addr: staLink0},
		StationLink{LinkID: 1, Band: 1, Addr: staLink1},
	)
	if err != nil {
		t.Fatal(err)
	}
	w := td.reg.PeerLink(sta, 0)

	hdr := connac.Hdr{
		FC:    connac.FTypeData | connac.STypeData | connac.FCtlFromDS,
		Addr1: staAddr,
		Addr2: apAddr,
		Addr3: apAddr,
	}
	frame := make([]byte, connac.Hdr3AddrLen+8+32)
	hdr.Put(frame)
	llc := frame[connac.Hdr3AddrLen:]
	copy(llc, connac.RFC1042Header[:])
	llc[6], llc[7] = 0x88, 0x8e
	p := &Packet{Data: frame, WCID: w, Vif: vif}
	if err := td.Transmit(p); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "submission", func() bool { return td.hw.nsubmitted() == 1 })
	got, err := connac.DecodeHdr(p.Data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr1 != staLink0 || got.Addr2 != apLink0 || got.Addr3 != apAddr {
		t.Errorf("addresses not rewritten to link 0: %x %x %x", got.Addr1, got.Addr2, got.Addr3)
	}
	if p.Band() != 0 {
		t.Error("sent on band", p.Band())
	}
	// Management path without offload firmware.
	txp, err := connac.DecodeTXP(p.Head()[connac.TXDSize:])
	if err != nil {
		t.Fatal(err)
	}
	if txp.Flags&connac.CTInfoMgmtFrame == 0 {
		t.Error("EAPOL not flagged as management", txp.Flags)
	}
}
