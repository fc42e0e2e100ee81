package mt79

import (
	"errors"
	"log/slog"
	"math/bits"
	"time"

	"github.com/soypat/mt79/connac"
)

// Receive drop reasons. They are counted and logged, never returned to the
// bus glue.
var (
	errBandStopped   = errors.New("band not running")
	errAMSDUErr      = errors.New("A-MSDU deaggregation error")
	errHdrTransCM    = errors.New("translated frame with cipher mismatch")
	errMaxLen        = errors.New("frame exceeds maximum length")
	errNoChannel     = errors.New("no channel configured")
	errMcastFrag     = errors.New("non-unicast fragment")
	errNoPeerLink    = errors.New("no peer link to rebuild header")
	errBadRxRate     = errors.New("invalid receive rate")
	errLengthInvalid = errors.New("declared length does not match buffer")
)

// OnDescriptorReady classifies one buffer delivered by the co-processor and
// dispatches it. It is called from the bus glue and may run concurrently
// with itself. buf is only used during the call.
func (d *Device) OnDescriptorReady(buf []byte) {
	if !d.rxgate.enter() {
		d.stats.RxGated.Add(1)
		return
	}
	defer d.rxgate.leave()
	length, _, err := connac.DecodeRxHeader(buf)
	if err != nil {
		d.stats.RxTooShort.Add(1)
		return
	}
	if int(length) != len(buf) {
		d.stats.RxLengthMismatch.Add(1)
		d.debug("rx:drop", slog.String("err", errLengthInvalid.Error()), slog.Int("declared", int(length)), slog.Int("len", len(buf)))
		return
	}
	typ := connac.EffectiveType(connac.Word(buf, 0))
	switch typ {
	case connac.PktTypeTxRxNotify:
		d.txFree(buf)
	case connac.PktTypeRxEvent:
		d.mcu.RxEvent(buf)
	case connac.PktTypeTXS:
		d.txStatus(buf)
	case connac.PktTypeFwMonitor:
		d.stack.FirmwareLog(buf)
	case connac.PktTypeNormal:
		d.rxFrame(buf)
	default:
		d.stats.RxUnknownType.Add(1)
		d.debug("rx:unknown-type", slog.String("type", typ.String()))
	}
}

// RxCheck handles notification buffers inline and reports whether buf is a
// frame that must still go through OnDescriptorReady. Bus glue may call it
// from interrupt context to skip queueing completions.
func (d *Device) RxCheck(buf []byte) bool {
	if len(buf) < connac.WordSize {
		return true
	}
	switch connac.EffectiveType(connac.Word(buf, 0)) {
	case connac.PktTypeTxRxNotify, connac.PktTypeTXS, connac.PktTypeRxEvent, connac.PktTypeFwMonitor:
		d.OnDescriptorReady(buf)
		return false
	}
	return true
}

func (d *Device) rxFrame(buf []byte) {
	var st RxStatus
	start, err := d.fillRx(buf, &st)
	if err != nil {
		d.stats.RxDropped.Add(1)
		if d._traceenabled {
			d.trace("rx:drop", slog.String("err", err.Error()))
		}
		return
	}
	d.stack.Receive(&st, buf[start:])
}

// fillRx classifies a normal frame descriptor into st and prepares the frame
// in place. It returns the offset of the frame within buf.
func (d *Device) fillRx(buf []byte, st *RxStatus) (start int, err error) {
	desc, err := connac.DecodeRxDesc(buf)
	if errors.Is(err, connac.ErrShortBuffer) {
		d.stats.RxTooShort.Add(1)
		return 0, err
	}
	bandIdx := desc.Band()
	b := d.bandAt(bandIdx)
	if b == nil {
		return 0, ErrBadBand
	}
	b.mib.RxSkb.Add(1)
	if !b.running.Load() {
		return 0, errBandStopped
	}
	if err != nil {
		if errors.Is(err, connac.ErrTooShort) {
			b.mib.RxTooShort.Add(1)
		}
		return 0, err
	}
	rxd1, rxd2, rxd3 := desc.W[1], desc.W[2], desc.W[3]
	if rxd2&connac.RXD2AMSDUErr != 0 {
		b.mib.RxAMSDUErr.Add(1)
		return 0, errAMSDUErr
	}
	hdrTrans := desc.HdrTrans()
	if hdrTrans && rxd1&connac.RXD1CM != 0 {
		return 0, errHdrTransCM
	}
	unicast := desc.Unicast()
	st.Band = bandIdx
	if rxd1&connac.RXD1ICVErr != 0 {
		st.Flags |= RxOnlyMonitor
	}

	w := d.rxGetWCID(desc.WlanIdx(), bandIdx)
	if w != nil {
		if d.reg.Peer(w) != nil {
			d.poll.add(w)
		}
		if w.Disabled() {
			w = d.activeLinkWCID(w)
		}
	}
	st.WCID = w

	st.Freq = b.cfg.Freq
	if st.Freq == 0 {
		b.mib.RxNullChannels.Add(1)
		return 0, errNoChannel
	}
	const csumMask = connac.RXD3IPSum | connac.RXD3UDPTCPSum
	if rxd3&csumMask == csumMask {
		st.Flags |= RxChecksumOK
	}
	if rxd3&connac.RXD3FCSErr != 0 {
		st.Flags |= RxFailedFCS
	}
	if rxd1&connac.RXD1TKIPMICErr != 0 {
		st.Flags |= RxMMICError
	}
	if desc.SecMode() != 0 && rxd1&(connac.RXD1CLM|connac.RXD1CM) == 0 {
		st.Flags |= RxDecrypted | RxIVStripped | RxMMICStripped | RxPNChecked
	}
	if rxd2&connac.RXD2MaxLenErr != 0 {
		b.mib.RxMaxLenErr.Add(1)
		return 0, errMaxLen
	}

	var (
		fc         connac.FrameControl
		seqCtrl    uint16
		qosCtl     uint8
		insertCCMP bool
	)
	if desc.HasGroup(connac.RXD1Group4) {
		fc = desc.FrameControl()
		seqCtrl = desc.SeqCtrl()
		qosCtl = uint8(desc.QoSCtl())
	}
	if desc.HasGroup(connac.RXD1Group1) && st.Flags&RxDecrypted != 0 {
		st.IV = desc.IV()
		st.KeyID = desc.KeyID()
		switch desc.SecMode() {
		case connac.CipherAESCCMP, connac.CipherCCMPCCX, connac.CipherCCMP256:
			insertCCMP = rxd2&connac.RXD2Frag != 0
		}
	}
	if desc.HasGroup(connac.RXD1Group2) {
		st.Timestamp = desc.Timestamp()
		st.Flags |= RxMACTimeStart
		if rxd2&connac.RXD2NonAMPDU == 0 {
			d.rxAMPDURef(b, st)
		}
	}
	if desc.HasGroup(connac.RXD1Group3) {
		if err := d.rxPhy(b, &desc, st, w); err != nil {
			return 0, err
		}
	}

	d.rxAMSDU(b, &desc, st, w)
	if (fc.HasMoreFrags() || seqCtrl&connac.SCtlFrag != 0) && !unicast {
		return 0, errMcastFrag
	}

	start = desc.PayloadOffset + desc.HdrPad()
	if start > len(buf) {
		b.mib.RxTooShort.Add(1)
		return 0, connac.ErrTooShort
	}
	if hdrTrans && fc.HasMoreFrags() {
		start, err = d.rxRebuildHdr(buf, start, &desc, w)
		if err != nil {
			return 0, err
		}
		hdrTrans = false
	} else {
		padStart := 0
		if !hdrTrans && st.Flags&RxAMSDU != 0 && !(fc.HasA4() && desc.IsMesh()) {
			padStart = connac.HdrLen(connac.FrameFC(buf[start:]))
		} else if hdrTrans && rxd2&connac.RXD2HdrTransError != 0 {
			padStart = connac.HdrTransPadStart(buf[start:])
		}
		start, err = connac.RemovePad(buf, start, padStart)
		if err != nil {
			return 0, err
		}
	}

	if !hdrTrans {
		if insertCCMP && st.Flags&RxOnlyMonitor == 0 {
			st.Flags &^= RxIVStripped
			start, err = connac.InsertCCMPHdr(buf, start, st.IV, st.KeyID)
			if err != nil {
				return 0, err
			}
		}
		frame := buf[start:]
		if len(frame) < 2 {
			return 0, connac.ErrShort80211Frame
		}
		fc = connac.FrameFC(frame)
		if fc.IsDataQoS() {
			off := connac.Hdr3AddrLen
			if fc.HasA4() {
				off = connac.Hdr4AddrLen
			}
			if len(frame) < off+connac.QoSCtlLen {
				return 0, connac.ErrShort80211Frame
			}
			seqCtrl = uint16(frame[22]) | uint16(frame[23])<<8
			if fc.HasA4() && desc.IsMesh() && st.Flags&RxAMSDU != 0 {
				frame[off] &^= connac.QoSCtlAMSDUPresent
			}
			qosCtl = frame[off]
		} else if fc.IsBeacon() || fc.IsProbeResp() {
			d.rxBeacon(bandIdx, frame)
		}
	} else {
		st.Flags |= Rx8023
	}

	b.mib.RxPkts.Add(1)
	b.mib.RxBytes.Add(uint64(len(buf) - start))

	if w == nil || w == d.reg.GlobalWCID() || !fc.IsDataQoS() {
		return start, nil
	}
	st.Aggr = unicast && !fc.IsQoSNullfunc()
	st.QoSCtl = qosCtl
	st.SeqNo = connac.SeqToSN(seqCtrl)
	return start, nil
}

// rxAMPDURef assigns the A-MPDU reference of a frame. Frames of one A-MPDU
// share the timestamp of its first subframe. Zero is never used.
func (d *Device) rxAMPDURef(b *band, st *RxStatus) {
	b.rxmu.Lock()
	if !b.ampduValid || b.ampduTs != st.Timestamp {
		b.ampduValid = true
		b.ampduRef++
		if b.ampduRef == 0 {
			b.ampduRef++
		}
		b.ampduTs = st.Timestamp
	}
	st.AMPDURef = b.ampduRef
	b.rxmu.Unlock()
	st.Flags |= RxAMPDUDetails
}

// rxPhy decodes the receive vector: per chain signal and rate, feeding the
// receive histograms of w.
func (d *Device) rxPhy(b *band, desc *connac.RxDesc, st *RxStatus, w *WCID) error {
	for i := range st.ChainSignal {
		st.ChainSignal[i] = connac.RSSI(desc.RCPI(i))
	}
	rate, err := connac.DecodeRxRate(desc.PRXV[0], desc.PRXV[2], b.cfg.Is2GHz())
	if err != nil {
		switch {
		case errors.Is(err, connac.ErrBadRateHT):
			b.mib.RxBadHTRix.Add(1)
		case errors.Is(err, connac.ErrBadRateVHT):
			b.mib.RxBadVHTRix.Add(1)
		case errors.Is(err, connac.ErrBadMode):
			b.mib.RxBadMode.Add(1)
		case errors.Is(err, connac.ErrBadBW):
			b.mib.RxBadBW.Add(1)
		}
		return errjoin(errBadRxRate, err)
	}
	st.Rate = rate
	nss := max(min(int(rate.NSS), len(st.ChainSignal)), 1)
	st.Chains = uint8(1)<<nss - 1
	st.Signal = combineSignal(b.cfg.AntennaMask, &st.ChainSignal)

	if w == nil {
		return nil
	}
	s := &w.Stats
	s.Signal.Store(int32(st.Signal))
	for i := range st.ChainSignal {
		s.ChainSignal[i].Store(int32(st.ChainSignal[i]))
	}
	s.RxRateIdx[rate.HistogramIndex()].Add(1)
	s.RxBW[rate.BW].Add(1)
	if rate.BW == connac.BWHERU {
		s.RxRU106.Add(1)
	}
	s.RxNSS[nss-1].Add(1)
	s.RxMode[rate.Mode].Add(1)
	return nil
}

// combineSignal returns the signal of a frame received on the chains in mask:
// the strongest chain plus a combining gain for each further chain close to
// it in power.
func combineSignal(mask uint8, chain *[4]int8) int8 {
	signal := int8(-128)
	for i := range chain {
		if mask&(1<<i) == 0 {
			continue
		}
		cur := chain[i]
		if signal == -128 {
			signal = cur
			continue
		}
		diff := int(signal) - int(cur)
		if diff < 0 {
			signal, diff = cur, -diff
		}
		switch {
		case diff == 0:
			signal += 3
		case diff <= 2:
			signal += 2
		case diff <= 6:
			signal++
		}
	}
	if signal > 0 {
		signal = 0
	}
	return signal
}

// rxAMSDU sets the A-MSDU subframe flags of a frame and accounts the chain
// length when the last subframe arrives.
func (d *Device) rxAMSDU(b *band, desc *connac.RxDesc, st *RxStatus, w *WCID) {
	format := desc.PayloadFormat()
	if format != 0 {
		st.Flags |= RxAMSDU
		switch format {
		case connac.AMSDUFirst:
			st.Flags |= RxFirstAMSDU
		case connac.AMSDULast:
			st.Flags |= RxLastAMSDU
		}
	}
	if w == nil {
		return
	}
	n := w.rxChain.Add(1)
	if format != 0 && format != connac.AMSDULast {
		return
	}
	w.rxChain.Store(0)
	bucket := chainBucket(n)
	w.Stats.RxAMPDULen[bucket].Add(1)
	if format == connac.AMSDULast {
		b.mib.RxAMSDU.Add(1)
		b.mib.RxAMSDUChain[bucket].Add(1)
	}
}

// chainBucket maps a chain length to its power of two bucket: 1, 2, 3-4,
// 5-8 and so on, capped at the last bucket.
func chainBucket(n uint32) int {
	if n <= 1 {
		return 0
	}
	return min(bits.Len32(n-1), 7)
}

// rxRebuildHdr restores the 802.11 header of a translated first fragment so
// the stack can defragment it.
func (d *Device) rxRebuildHdr(buf []byte, off int, desc *connac.RxDesc, w *WCID) (int, error) {
	if w == nil {
		return 0, errNoPeerLink
	}
	sta := d.reg.Peer(w)
	if sta == nil || sta.Vif == nil {
		return 0, errNoPeerLink
	}
	link, ok := sta.Vif.Link(w.LinkID)
	if !ok {
		return 0, errNoPeerLink
	}
	addrs := connac.LinkAddrs{Own: link.Addr, Peer: w.LinkAddr, BSSID: link.BSSID}
	if !sta.MLO {
		addrs.Own = sta.Vif.Addr
		addrs.Peer = sta.Addr
	}
	return connac.ReverseHdrTrans(buf, off, desc, &addrs)
}

// rxGetWCID resolves the connection of a received frame. Frames of a
// multi-link peer are attributed to the peer's link on band.
func (d *Device) rxGetWCID(idx uint16, band uint8) *WCID {
	w := d.reg.ResolveWCID(idx)
	if w == nil {
		return nil
	}
	if w.Band == band {
		return w
	}
	sta := d.reg.Peer(w)
	if sta == nil || sta.Vif == nil {
		return nil
	}
	sta.Vif.mu.Lock()
	id, ok := sta.Vif.bandLink(band)
	sta.Vif.mu.Unlock()
	if !ok {
		return w
	}
	if lw := d.reg.PeerLink(sta, id); lw != nil {
		return lw
	}
	return w
}

// activeLinkWCID returns an active link of the peer owning a disabled
// connection: the default link, the secondary link or the first active one.
func (d *Device) activeLinkWCID(old *WCID) *WCID {
	sta := d.reg.Peer(old)
	if sta == nil {
		return old
	}
	var w *WCID
	if old.LinkID != sta.DefLink {
		w = d.reg.PeerLink(sta, sta.DefLink)
	} else if old.LinkID != sta.SecLink {
		w = d.reg.PeerLink(sta, sta.SecLink)
	}
	if w != nil && !w.Disabled() {
		return w
	}
	for b := uint8(0); b < MaxBands; b++ {
		if w = d.rxGetWCID(old.Idx, b); w != nil && !w.Disabled() {
			return w
		}
	}
	return old
}

// rxBeacon feeds a beacon or probe response to the connection monitors of
// the stations it comes from.
func (d *Device) rxBeacon(band uint8, frame []byte) {
	if len(frame) < connac.Hdr3AddrLen {
		return
	}
	addr2 := [6]byte(frame[10:16])
	for _, sta := range d.reg.Stations(nil) {
		if sta.Vif == nil || sta.Vif.Type != VifStation {
			continue
		}
		if sta.Addr == addr2 {
			d.beaconHint(sta.Vif, band)
			continue
		}
		valid := sta.ValidLinks()
		for id := uint8(0); id < MaxLinks; id++ {
			if valid&(1<<id) == 0 {
				continue
			}
			if lw := d.reg.PeerLink(sta, id); lw != nil && lw.LinkAddr == addr2 {
				d.beaconHint(sta.Vif, band)
				break
			}
		}
	}
}

// beaconHint records a beacon from the peer of vif on band and revives the
// link if it was declared lost.
func (d *Device) beaconHint(vif *Vif, band uint8) {
	if band >= MaxBands {
		return
	}
	vif.mu.Lock()
	defer vif.mu.Unlock()
	vif.mon[band].beaconReceived = time.Now()
	id, ok := vif.bandLink(band)
	if !ok {
		return
	}
	if vif.lostLinks&(1<<id) != 0 {
		vif.lostLinks &^= 1 << id
		vif.txPaused &^= 1 << id
		d.debug("beaconHint:link-restored", slog.Uint64("link", uint64(id)), slog.Uint64("band", uint64(band)))
	}
}
