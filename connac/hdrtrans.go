package connac

import (
	"bytes"

	"github.com/soypat/lneto/ethernet"
)

// LinkAddrs are the addresses of the link a frame was received on, used to
// rebuild the 802.11 header of a hardware translated frame.
type LinkAddrs struct {
	// Own is the local interface address, the receiver of the frame.
	Own [6]byte
	// Peer is the transmitting station address.
	Peer [6]byte
	// BSSID of the link.
	BSSID [6]byte
}

// ReverseHdrTrans rebuilds the 802.11 header of a first fragment that the
// hardware translated to 802.3. buf[off:] must start with the 802.3 header.
// The header is rebuilt in place in the headroom before off using the
// descriptor's cached frame control, sequence, QoS and HT control fields.
// It returns the offset of the rebuilt 802.11 frame within buf.
func ReverseHdrTrans(buf []byte, off int, d *RxDesc, link *LinkAddrs) (start int, err error) {
	if !d.Unicast() {
		return 0, ErrNotUnicast
	}
	if !d.HasGroup(RXD1Group4) {
		return 0, ErrNoGroup4
	}
	if off < 0 || off > len(buf) {
		return 0, ErrShortBuffer
	}
	efrm, err := ethernet.NewFrame(buf[off:])
	if err != nil {
		return 0, err
	}
	var dst, src [6]byte
	copy(dst[:], buf[off:off+6])
	copy(src[:], buf[off+6:off+12])
	etype := efrm.EtherTypeOrSize()

	fc := d.FrameControl()
	hdr := Hdr{
		FC:      fc,
		SeqCtrl: d.SeqCtrl(),
		Addr1:   link.Own,
		Addr2:   link.Peer,
	}
	switch fc & (FCtlToDS | FCtlFromDS) {
	case 0:
		hdr.Addr3 = link.BSSID
	case FCtlFromDS:
		hdr.Addr3 = src
	case FCtlToDS:
		hdr.Addr3 = dst
	default:
		hdr.Addr3 = dst
		hdr.Addr4 = src
	}

	// p is the position of the ethertype field, which stays in place as the
	// last two bytes of the LLC/SNAP header.
	p := off + EthHeaderLen - 2
	var snap *[6]byte
	switch {
	case uint16(etype) == EthPAARP || uint16(etype) == EthPIPX:
		snap = &BridgeTunnelHeader
		p -= len(snap)
	case !etype.IsSize():
		snap = &RFC1042Header
		p -= len(snap)
	default:
		p += 2
	}
	need := hdr.Len()
	if fc.HasOrder() {
		need += HTCtlLen
	}
	if fc.IsDataQoS() {
		need += QoSCtlLen
	}
	start = p - need
	if start < 0 {
		return 0, ErrNoHeadroom
	}

	if snap != nil {
		copy(buf[p:], snap[:])
	}
	if fc.HasOrder() {
		p -= HTCtlLen
		order.PutUint32(buf[p:], d.HTControl())
	}
	if fc.IsDataQoS() {
		p -= QoSCtlLen
		order.PutUint16(buf[p:], d.QoSCtl())
	}
	p -= hdr.Len()
	hdr.Put(buf[p:])
	return start, nil
}

// Decap8023 derives the 802.3 header of a full 802.11 data frame in place.
// The destination and source are taken from the addresses selected by the
// distribution system bits. It returns the offset within frame where the
// 802.3 frame starts.
func Decap8023(frame []byte) (start int, err error) {
	fc := FrameFC(frame)
	if !fc.IsData() {
		return 0, ErrNotDataFrame
	}
	hdr, err := DecodeHdr(frame)
	if err != nil {
		return 0, err
	}
	hlen := HdrLen(fc)
	if len(frame) < hlen {
		return 0, ErrShort80211Frame
	}
	var da, sa [6]byte
	switch fc & (FCtlToDS | FCtlFromDS) {
	case 0:
		da, sa = hdr.Addr1, hdr.Addr2
	case FCtlFromDS:
		da, sa = hdr.Addr1, hdr.Addr3
	case FCtlToDS:
		da, sa = hdr.Addr3, hdr.Addr2
	default:
		da, sa = hdr.Addr3, hdr.Addr4
	}
	payload := frame[hlen:]
	if len(payload) >= 8 && (bytes.HasPrefix(payload, RFC1042Header[:]) || bytes.HasPrefix(payload, BridgeTunnelHeader[:])) {
		// Keep the ethertype of the SNAP header as the 802.3 type.
		start = hlen + len(RFC1042Header) - 12
	} else {
		start = hlen - EthHeaderLen
		frame[hlen-2] = byte(len(payload) >> 8)
		frame[hlen-1] = byte(len(payload))
	}
	copy(frame[start:], da[:])
	copy(frame[start+6:], sa[:])
	return start, nil
}

// InsertCCMPHdr reinserts the 8 byte CCMP header stripped by hardware after
// the MAC header of the frame at buf[start:]. The header is moved 8 bytes into
// the headroom. iv holds the packet number most significant byte first.
func InsertCCMPHdr(buf []byte, start int, iv [6]byte, keyID uint8) (newStart int, err error) {
	const ccmpHdrLen = 8
	if start < ccmpHdrLen {
		return 0, ErrNoHeadroom
	}
	hlen := HdrLen(FrameFC(buf[start:]))
	if len(buf)-start < hlen {
		return 0, ErrShort80211Frame
	}
	newStart = start - ccmpHdrLen
	copy(buf[newStart:], buf[start:start+hlen])
	h := buf[newStart+hlen : newStart+hlen+ccmpHdrLen]
	h[0] = iv[5]
	h[1] = iv[4]
	h[2] = 0
	h[3] = 0x20 | keyID<<6
	h[4] = iv[3]
	h[5] = iv[2]
	h[6] = iv[1]
	h[7] = iv[0]
	return newStart, nil
}

// RemovePad removes the 2 padding bytes the hardware inserts padStart bytes
// into the frame at buf[start:]. It returns the new start of the frame.
func RemovePad(buf []byte, start, padStart int) (int, error) {
	if padStart <= 0 {
		return start, nil
	}
	if len(buf)-start < padStart+2 {
		return start, ErrShortBuffer
	}
	copy(buf[start+2:], buf[start:start+padStart])
	return start + 2, nil
}

// HdrTransPadStart returns where the hardware inserted a 2 byte length field
// into a translated 802.3 frame that carries a VLAN tag, or 0 when there is
// none to remove.
func HdrTransPadStart(eth []byte) int {
	const typeOff = 2 * ETHALen
	if len(eth) < typeOff+2 {
		return 0
	}
	if uint16(eth[typeOff])<<8|uint16(eth[typeOff+1]) == EthP8021Q {
		return typeOff + 4
	}
	return 0
}
