package mt79

import (
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/mt79/connac"
)

// overrideMinLen is the shortest frame the test override applies to.
const overrideMinLen = 400

// BuildTxDescriptor returns the TX descriptor of p addressed to w without
// assigning a token. A nil w selects the global connection.
func (d *Device) BuildTxDescriptor(p *Packet, w *WCID) (connac.TXD, error) {
	var txd connac.TXD
	if len(p.Data) <= connac.EthHeaderLen {
		return txd, ErrShortFrame
	}
	if w == nil {
		w = d.reg.GlobalWCID()
	}
	d.writeTxwi(&txd, p, w, d.reg.Peer(w), p.pid)
	return txd, nil
}

// txLink is the interface link configuration a frame is sent on.
type txLink struct {
	VifLink
	ok bool
}

func (d *Device) txLinkOf(p *Packet, w *WCID) (l txLink) {
	if p.Vif == nil {
		return l
	}
	id := w.LinkID
	if w == d.reg.GlobalWCID() {
		id = p.LinkID
	}
	if id >= LinkUnspecified {
		id = p.Vif.ctrlLink()
	}
	l.VifLink, l.ok = p.Vif.Link(id)
	return l
}

func (d *Device) writeTxwi(txd *connac.TXD, p *Packet, w *WCID, sta *Station, pid uint8) {
	link := d.txLinkOf(p, w)
	mld := p.Vif != nil && p.Vif.MLD
	is8023 := p.is8023()
	eapol := p.isEAPOL()

	var q, pktFmt uint8 = 0, connac.TxTypeCT
	switch {
	case p.Flags&TxInbandDiscovery != 0:
		pktFmt, q = connac.TxTypeFW, connac.LMACALTX0
	case p.Flags&TxBeacon != 0:
		pktFmt, q = connac.TxTypeFW, connac.LMACBCN0
	case p.Queue >= QueuePSD:
		q = connac.LMACALTX0
	default:
		q = link.WMMIdx*connac.MaxWMMSets + connac.LMACMapping(connac.AC(p.Queue))
	}

	txd[0] = connac.FieldPrep(connac.TXD0TxBytes, uint32(len(p.Data)+connac.TXDSize)) |
		connac.FieldPrep(connac.TXD0PktFmt, uint32(pktFmt)) |
		connac.FieldPrep(connac.TXD0QIdx, uint32(q))

	txd[1] = connac.FieldPrep(connac.TXD1WlanIdx, uint32(w.Idx)) |
		connac.FieldPrep(connac.TXD1OwnMAC, uint32(link.OMACIdx))
	if link.Band != 0 {
		txd[1] |= connac.FieldPrep(connac.TXD1TGID, uint32(link.Band))
	}

	txd[3] = connac.TXD3SWPowerMgmt | connac.FieldPrep(connac.TXD3RemTxCount, uint32(connac.DefaultTxCount))
	if p.Flags&TxHWKey != 0 {
		txd[3] |= connac.TXD3ProtectFrame
	}
	if p.Flags&TxNoAck != 0 {
		txd[3] |= connac.TXD3NoAck
	}

	txd[5] = connac.FieldPrep(connac.TXD5PID, uint32(pid))
	if pid >= connac.PacketIDFirst {
		txd[5] |= connac.TXD5TxStatusHost
	}

	txd[6] = connac.TXD6DAS | connac.TXD6VTA | connac.FieldPrep(connac.TXD6MSDUCnt, uint32(1))
	if (q >= connac.LMACALTX0 && q <= connac.LMACBCN0) || eapol {
		txd[6] |= connac.TXD6DisMAT
	}
	txd[7] = 0

	var mcast bool
	if is8023 {
		d.writeTxwi8023(txd, p, w, sta)
	} else {
		mcast = d.writeTxwi80211(txd, p, w, sta, link, mld, eapol)
	}

	if txd[1]&connac.TXD1FixedRate != 0 {
		fc := connac.FrameFC(p.Data)
		mcastData := !is8023 && fc.IsData() && mcast
		idx := d.cfg.BasicRatesTableID
		if link.ok {
			switch {
			case mcastData && link.McastRatesIdx != 0:
				idx = link.McastRatesIdx
			case fc.IsBeacon() && link.BeaconRatesIdx != 0:
				idx = link.BeaconRatesIdx
			default:
				idx = link.BasicRatesIdx
			}
		}
		txd[6] |= connac.FieldPrep(connac.TXD6TxRate, uint32(idx)) | connac.TXD6FixedBW
		if mcastData {
			txd[6] |= connac.TXD6DisMAT
		}
		txd[3] |= connac.TXD3BADisable
	}

	d.writeTxwiOverride(txd, p, sta, link.Band)
}

func (d *Device) writeTxwi8023(txd *connac.TXD, p *Packet, w *WCID, sta *Station) {
	tid := p.TID & connac.QoSCtlTIDMask
	txd[1] |= connac.FieldPrep(connac.TXD1HdrFormat, uint32(connac.HdrFormat8023)) |
		connac.FieldPrep(connac.TXD1TID, uint32(tid))
	if efrm, err := ethernet.NewFrame(p.Data); err == nil && uint16(efrm.EtherTypeOrSize()) >= connac.EthP8023Min {
		txd[1] |= connac.TXD1Eth8023
	}
	var stype connac.FrameControl
	if sta != nil && sta.WME {
		stype = connac.STypeQoSData
	}
	txd[2] |= connac.FieldPrep(connac.TXD2FrameType, uint32(connac.FTypeData>>2)) |
		connac.FieldPrep(connac.TXD2SubType, uint32(stype>>4))
	if w.AMSDU {
		txd[3] |= connac.TXD3HWAMSDU
	}
}

// writeTxwi80211 fills the 802.11 specific fields and reports whether the
// receiver address is a group address.
func (d *Device) writeTxwi80211(txd *connac.TXD, p *Packet, w *WCID, sta *Station, link txLink, mld, eapol bool) (mcast bool) {
	hdr, err := connac.DecodeHdr(p.Data)
	if err != nil {
		// Control frames carry fewer addresses than the header decoder needs.
		hdr.FC = connac.FrameFC(p.Data)
		if len(p.Data) >= 10 {
			copy(hdr.Addr1[:], p.Data[4:10])
		}
	}
	fc := hdr.FC
	mcast = connac.IsMulticast(hdr.Addr1[:])
	tid := p.TID & connac.QoSCtlTIDMask

	if d.isAltxFrame(p, fc) {
		txd[0] = connac.FieldReplace(txd[0], connac.TXD0QIdx, uint32(connac.LMACALTX0))
	}
	if cat, code, ok := connac.ActionCode(p.Data); ok && fc.IsAction() &&
		cat == connac.CategoryBACK && code == connac.ActionADDBAReq {
		tid = connac.TxTIDADDBA
	} else if fc.IsMgmt() {
		tid = connac.TxTIDNormal
	}

	txd[1] |= connac.FieldPrep(connac.TXD1HdrFormat, uint32(connac.HdrFormat80211)) |
		connac.FieldPrep(connac.TXD1HdrInfo, uint32(connac.HdrLen(fc)/2)) |
		connac.FieldPrep(connac.TXD1TID, uint32(tid))
	if !fc.IsData() || mcast || p.Flags&TxUseMinRate != 0 {
		txd[1] |= connac.TXD1FixedRate
	}
	key := p.Flags&TxHWKey != 0
	if (key && mcast && connac.IsRobustMgmt(p.Data)) || (fc.IsBeacon() && link.ok && link.HWBeaconProt) {
		txd[1] |= connac.TXD1BIP
		txd[3] &^= connac.TXD3ProtectFrame
	}

	txd[2] |= connac.FieldPrep(connac.TXD2FrameType, uint32(fc.Type()>>2)) |
		connac.FieldPrep(connac.TXD2SubType, uint32(fc.Subtype()>>4))
	first := connac.IsFirstFrag(hdr.SeqCtrl)
	var frag uint32
	switch {
	case fc.HasMoreFrags() && first:
		frag = connac.TxFragFirst
	case fc.HasMoreFrags():
		frag = connac.TxFragMid
	case !first:
		frag = connac.TxFragLast
	default:
		frag = connac.TxFragNone
	}
	txd[2] |= connac.FieldPrep(connac.TXD2Frag, frag)

	txd[3] |= connac.FieldPrep(connac.TXD3BCM, b2u32(mcast))
	if fc.IsBeacon() {
		txd[3] &^= connac.TXD3SWPowerMgmt
		txd[3] |= connac.TXD3RemTxCount
	}
	seqno := hdr.SeqCtrl
	if mcast && mld {
		txd[3] |= connac.TXD3SNValid | connac.FieldPrep(connac.TXD3Seq, uint32(connac.SeqToSN(seqno)))
	}
	if p.Flags&TxInjected != 0 {
		if fc.IsBackReq() && len(p.Data) >= barStartSeqOff+2 {
			seqno = uint16(p.Data[barStartSeqOff]) | uint16(p.Data[barStartSeqOff+1])<<8
		}
		txd[3] |= connac.TXD3SNValid | connac.FieldPrep(connac.TXD3Seq, uint32(connac.SeqToSN(seqno)))
		txd[3] &^= connac.TXD3HWAMSDU
	}
	if mld && (mcast || eapol || p.Flags&TxInjected != 0) {
		txd[5] |= connac.TXD5FL
	}
	if fc.IsNullfunc() && fc.HasA4() && mld {
		txd[5] |= connac.TXD5FL
		txd[6] |= connac.TXD6DisMAT
	}
	if sta == nil && fc.IsMgmt() {
		txd[6] |= connac.TXD6DisMAT
	}
	return mcast
}

// barStartSeqOff is the offset of the starting sequence control of a block
// ack request.
const barStartSeqOff = 18

// isAltxFrame reports whether a frame goes to the alternate queue: off
// channel frames, deauthentication and protected EHT link mapping actions.
func (d *Device) isAltxFrame(p *Packet, fc connac.FrameControl) bool {
	if p.Flags&TxOffChannel != 0 || fc.IsDeauth() {
		return true
	}
	if !fc.IsAction() {
		return false
	}
	cat, code, ok := connac.ActionCode(p.Data)
	if !ok || cat != connac.CategoryProtectedEHT {
		return false
	}
	switch code {
	case connac.ActionTTLMReq, connac.ActionTTLMRes, connac.ActionTTLMTeardown:
		return true
	}
	return false
}

func (d *Device) writeTxwiOverride(txd *connac.TXD, p *Packet, sta *Station, bandIdx uint8) {
	if sta == nil || len(p.Data) < overrideMinLen {
		return
	}
	if !p.is8023() {
		fc := connac.FrameFC(p.Data)
		if !fc.IsData() || fc.IsNullfunc() || fc.IsQoSNullfunc() {
			return
		}
	}
	dw := d.reg.PeerLink(sta, sta.DefLink)
	if dw == nil {
		return
	}
	o := dw.override.Load()
	if o == nil {
		return
	}
	p.txo = true

	mode, idx, nss := o.Mode, o.RateIdx, o.NSS
	switch mode {
	case connac.PhyHT:
		nss = 1 + idx>>3
	case connac.PhyCCK, connac.PhyOFDM:
		is2GHz := bandIdx < MaxBands && d.bands[bandIdx].cfg.Is2GHz()
		cck := mode == connac.PhyCCK
		i := idx
		if !cck && is2GHz {
			i += 4
		}
		idx, mode = connac.LegacyHWCode(i, is2GHz)
		if cck && mode == connac.PhyCCK {
			// Short preamble.
			idx |= 1 << 2
		}
	}
	stbc := o.STBC && nss == 1
	if stbc {
		nss++
	}
	rate := connac.MakeTxRate(mode, idx, nss, stbc)

	txd[1] |= connac.TXD1FixedRate
	// Quarter dB offset from the lowest power the descriptor can express.
	txd[2] = connac.FieldReplace(txd[2], connac.TXD2PowerOffset, uint32(int32(o.TxPower)*2-32))
	count := uint32(o.XmitCount)
	if count == 0 {
		count = 1
		txd[3] |= connac.TXD3NoAck
	}
	txd[3] = connac.FieldReplace(txd[3], connac.TXD3RemTxCount, count)
	if mode < connac.PhyHT {
		txd[3] |= connac.TXD3BADisable
	}
	txd[3] &^= connac.TXD3SNValid
	txd[6] = connac.FieldReplace(txd[6], connac.TXD6BW, uint32(o.BW))
	txd[6] = connac.FieldReplace(txd[6], connac.TXD6TxRate, uint32(rate))
	txd[6] |= connac.TXD6FixedBW
}

func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
