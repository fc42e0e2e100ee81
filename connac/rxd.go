package connac

// RXD fixed portion and group sizes in words.
const (
	RXDFixedWords  = 8
	RXDFixedSize   = RXDFixedWords * WordSize
	RXDGroup1Words = 4
	RXDGroup2Words = 4
	RXDGroup3Words = 4
	RXDGroup4Words = 4
	RXDGroup5Words = 24
)

// RXD word 0.
const (
	RXD0Length        = 0xffff
	RXD0Mesh          = 1 << 18
	RXD0MHCP          = 1 << 19
	RXD0PktType       = 0x1f << 27
	RXD0SWPktTypeMask = 0xffff << 16

	SWPktTypeMap   = 0x380f
	SWPktTypeFrame = 0x3801
)

// RXD word 1 (normal frames).
const (
	RXD1WlanIdx    = 0xfff
	RXD1Group1     = 1 << 16
	RXD1Group2     = 1 << 17
	RXD1Group3     = 1 << 18
	RXD1Group4     = 1 << 19
	RXD1Group5     = 1 << 20
	RXD1KeyID      = 0x3 << 21
	RXD1CM         = 1 << 23
	RXD1CLM        = 1 << 24
	RXD1ICVErr     = 1 << 25
	RXD1TKIPMICErr = 1 << 26
	RXD1BandIdx    = 0x3 << 27
	RXD1SecDone    = 1 << 31
)

// RXD word 2 (normal frames).
const (
	RXD2BSSIdx        = 0x3f
	RXD2HdrTrans      = 1 << 7
	RXD2MACHdrLen     = 0x1f << 8
	RXD2HdrOffset     = 0x7 << 13
	RXD2SecMode       = 0x1f << 16
	RXD2AMSDUErr      = 1 << 23
	RXD2MaxLenErr     = 1 << 24
	RXD2HdrTransError = 1 << 25
	RXD2Frag          = 1 << 27
	RXD2NullFrame     = 1 << 28
	RXD2NonAMPDU      = 1 << 30
)

// RXD word 3 (normal frames).
const (
	RXD3ChFreq    = 0xff << 8
	RXD3AddrType  = 0x3 << 16
	RXD3HTCValid  = 1 << 18
	RXD3BeaconMC  = 1 << 20
	RXD3BeaconUC  = 1 << 21
	RXD3FCSErr    = 1 << 24
	RXD3IPSum     = 1 << 26
	RXD3UDPTCPSum = 1 << 27

	// AddrTypeU2M is the RXD3AddrType value of a unicast-to-me frame.
	AddrTypeU2M = 1
)

// RXD word 4 (normal frames).
const (
	RXD4PayloadFormat = 0x3

	AMSDUFirst = 3
	AMSDUMid   = 2
	AMSDULast  = 1
)

// Group 4 words, relative to the start of the group.
const (
	RXD8FrameControl = 0xffff
	RXD10SeqCtrl     = 0xffff
	RXD10QoSCtl      = 0xffff << 16
)

// Cipher suites reported in RXD2SecMode.
const (
	CipherNone       = 0
	CipherWEP40      = 1
	CipherTKIP       = 2
	CipherTKIPNoMIC  = 3
	CipherAESCCMP    = 4
	CipherWEP104     = 5
	CipherBIPCMAC128 = 6
	CipherWEP128     = 7
	CipherWAPI       = 8
	CipherCCMPCCX    = 9
	CipherCCMP256    = 10
	CipherGCMP       = 11
	CipherGCMP256    = 12
)

// Cursor walks the optional groups of a descriptor. Every advance checks that
// the group plus at least one payload byte fits in the buffer.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a cursor positioned after the fixed descriptor words.
func NewCursor(buf []byte) Cursor {
	return Cursor{buf: buf, off: RXDFixedSize}
}

// Offset returns the byte offset of the cursor within the buffer.
func (c *Cursor) Offset() int { return c.off }

// Next consumes n words and returns them. It fails with ErrTooShort when the
// group would reach or overrun the end of the buffer.
func (c *Cursor) Next(n int) ([]byte, error) {
	end := c.off + n*WordSize
	if end >= len(c.buf) {
		return nil, ErrTooShort
	}
	g := c.buf[c.off:end:end]
	c.off = end
	return g, nil
}

// RxDesc is the decoded descriptor of a received frame. The group arrays are
// only meaningful when the corresponding RXD1 group bit is set.
type RxDesc struct {
	W      [RXDFixedWords]uint32
	Group4 [RXDGroup4Words]uint32
	Group1 [RXDGroup1Words]uint32
	Group2 [RXDGroup2Words]uint32
	// PRXV holds group 3, the physical layer receive vector.
	PRXV [RXDGroup3Words]uint32
	// PayloadOffset is the byte offset just past the last group. Header padding
	// reported in RXD2HdrOffset is not included.
	PayloadOffset int
}

// DecodeRxHeader decodes word 0 of any buffer delivered by the co-processor.
func DecodeRxHeader(buf []byte) (length uint16, typ PacketType, err error) {
	if len(buf) < WordSize {
		return 0, 0, ErrShortBuffer
	}
	w0 := Word(buf, 0)
	return uint16(FieldGet(RXD0Length, w0)), PacketType(FieldGet(RXD0PktType, w0)), nil
}

// EffectiveType returns the packet type with the software override applied:
// non-normal packets whose software type matches the frame pattern are frames.
func EffectiveType(w0 uint32) PacketType {
	typ := PacketType(FieldGet(RXD0PktType, w0))
	if typ != PktTypeNormal {
		sw := FieldGet(RXD0SWPktTypeMask, w0)
		if sw&SWPktTypeMap == SWPktTypeFrame {
			typ = PktTypeNormal
		}
	}
	return typ
}

// DecodeRxDesc decodes the fixed words and walks the optional groups of a
// normal frame descriptor in hardware order: 4, 1, 2, 3 and 5.
func DecodeRxDesc(buf []byte) (d RxDesc, err error) {
	if len(buf) < RXDFixedSize {
		return d, ErrShortBuffer
	}
	_ = buf[RXDFixedSize-1]
	for i := range d.W {
		d.W[i] = Word(buf, i)
	}
	c := NewCursor(buf)
	rxd1 := d.W[1]
	if rxd1&RXD1Group4 != 0 {
		g, err := c.Next(RXDGroup4Words)
		if err != nil {
			return d, err
		}
		getWords(d.Group4[:], g)
	}
	if rxd1&RXD1Group1 != 0 {
		g, err := c.Next(RXDGroup1Words)
		if err != nil {
			return d, err
		}
		getWords(d.Group1[:], g)
	}
	if rxd1&RXD1Group2 != 0 {
		g, err := c.Next(RXDGroup2Words)
		if err != nil {
			return d, err
		}
		getWords(d.Group2[:], g)
	}
	if rxd1&RXD1Group3 != 0 {
		g, err := c.Next(RXDGroup3Words)
		if err != nil {
			return d, err
		}
		getWords(d.PRXV[:], g)
		if rxd1&RXD1Group5 != 0 {
			_, err = c.Next(RXDGroup5Words)
			if err != nil {
				return d, err
			}
		}
	}
	d.PayloadOffset = c.Offset()
	return d, nil
}

func getWords(dst []uint32, b []byte) {
	for i := range dst {
		dst[i] = Word(b, i)
	}
}

func (d *RxDesc) Length() int              { return int(FieldGet(RXD0Length, d.W[0])) }
func (d *RxDesc) PacketType() PacketType   { return EffectiveType(d.W[0]) }
func (d *RxDesc) IsMesh() bool             { return d.W[0]&(RXD0Mesh|RXD0MHCP) == RXD0Mesh|RXD0MHCP }
func (d *RxDesc) WlanIdx() uint16          { return uint16(FieldGet(RXD1WlanIdx, d.W[1])) }
func (d *RxDesc) Band() uint8              { return uint8(FieldGet(RXD1BandIdx, d.W[1])) }
func (d *RxDesc) KeyID() uint8             { return uint8(FieldGet(RXD1KeyID, d.W[1])) }
func (d *RxDesc) HasGroup(bit uint32) bool { return d.W[1]&bit != 0 }
func (d *RxDesc) BSSIdx() uint8            { return uint8(FieldGet(RXD2BSSIdx, d.W[2])) }
func (d *RxDesc) SecMode() uint8           { return uint8(FieldGet(RXD2SecMode, d.W[2])) }
func (d *RxDesc) HdrTrans() bool           { return d.W[2]&RXD2HdrTrans != 0 }

// HdrPad returns the bytes of padding inserted by hardware before the payload.
func (d *RxDesc) HdrPad() int { return 2 * int(FieldGet(RXD2HdrOffset, d.W[2])) }

// Unicast reports whether the receiver address was this station.
func (d *RxDesc) Unicast() bool { return FieldGet(RXD3AddrType, d.W[3]) == AddrTypeU2M }

func (d *RxDesc) PayloadFormat() uint8 { return uint8(FieldGet(RXD4PayloadFormat, d.W[4])) }

// FrameControl returns the cached 802.11 frame control from group 4.
func (d *RxDesc) FrameControl() FrameControl {
	return FrameControl(FieldGet(RXD8FrameControl, d.Group4[0]))
}

func (d *RxDesc) SeqCtrl() uint16 { return uint16(FieldGet(RXD10SeqCtrl, d.Group4[2])) }
func (d *RxDesc) QoSCtl() uint16  { return uint16(FieldGet(RXD10QoSCtl, d.Group4[2])) }

// HTControl returns the 4 byte HT control field cached in group 4.
func (d *RxDesc) HTControl() uint32 { return d.Group4[3] }

// IV returns the 48 bit packet number from group 1 with the most significant byte first.
func (d *RxDesc) IV() (iv [6]byte) {
	var raw [8]byte
	order.PutUint32(raw[:], d.Group1[0])
	order.PutUint32(raw[4:], d.Group1[1])
	for i := range iv {
		iv[i] = raw[5-i]
	}
	return iv
}

// Timestamp returns the group 2 MAC start timestamp.
func (d *RxDesc) Timestamp() uint32 { return d.Group2[0] }

// RCPI returns the received channel power indicator of chain i (0..3).
func (d *RxDesc) RCPI(i int) uint8 { return uint8(d.PRXV[3] >> (8 * i)) }

// RSSI converts an RCPI reading to dBm.
func RSSI(rcpi uint8) int8 { return int8((int(rcpi) - 220) / 2) }

// Size returns the descriptor length implied by the group bits of RXD1.
func (d *RxDesc) Size() int {
	n := RXDFixedWords
	rxd1 := d.W[1]
	if rxd1&RXD1Group4 != 0 {
		n += RXDGroup4Words
	}
	if rxd1&RXD1Group1 != 0 {
		n += RXDGroup1Words
	}
	if rxd1&RXD1Group2 != 0 {
		n += RXDGroup2Words
	}
	if rxd1&RXD1Group3 != 0 {
		n += RXDGroup3Words
		if rxd1&RXD1Group5 != 0 {
			n += RXDGroup5Words
		}
	}
	return n * WordSize
}

// Put writes the fixed words and present groups to dst in hardware order and
// returns the number of bytes written. Group 5 is written as zeros.
func (d *RxDesc) Put(dst []byte) (int, error) {
	size := d.Size()
	if len(dst) < size {
		return 0, ErrShortDst
	}
	w := 0
	put := func(words []uint32) {
		for _, v := range words {
			PutWord(dst, w, v)
			w++
		}
	}
	put(d.W[:])
	rxd1 := d.W[1]
	if rxd1&RXD1Group4 != 0 {
		put(d.Group4[:])
	}
	if rxd1&RXD1Group1 != 0 {
		put(d.Group1[:])
	}
	if rxd1&RXD1Group2 != 0 {
		put(d.Group2[:])
	}
	if rxd1&RXD1Group3 != 0 {
		put(d.PRXV[:])
		if rxd1&RXD1Group5 != 0 {
			var zero [RXDGroup5Words]uint32
			put(zero[:])
		}
	}
	return size, nil
}

// SetLength stores the total buffer length and packet type in RXD0.
func (d *RxDesc) SetLength(n int, typ PacketType) {
	d.W[0] = FieldReplace(d.W[0], RXD0Length, uint32(n))
	d.W[0] = FieldReplace(d.W[0], RXD0PktType, uint32(typ))
}
