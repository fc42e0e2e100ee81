package connac

// TXDSize is the size of the TX descriptor the host writes in front of every
// submitted frame.
const (
	TXDWords = 8
	TXDSize  = TXDWords * WordSize
)

// TXD word 0.
const (
	TXD0TxBytes       = 0xffff
	TXD0EthTypeOffset = 0x7f << 16
	TXD0PktFmt        = 0x3 << 23
	TXD0QIdx          = 0x7f << 25
)

// TXD word 1.
const (
	TXD1WlanIdx   = 0xfff
	TXD1TGID      = 0x3 << 12
	TXD1HdrFormat = 0x3 << 14
	TXD1HdrInfo   = 0x1f << 16
	TXD1Eth8023   = 1 << 20
	TXD1TID       = 0xf << 21
	// TXD1BIP shares a bit with TXD1TID; it is only set on management frames.
	TXD1BIP       = 1 << 24
	TXD1OwnMAC    = 0x3f << 25
	TXD1FixedRate = 1 << 31
)

// TXD word 2.
const (
	TXD2SubType     = 0xf
	TXD2FrameType   = 0x3 << 4
	TXD2Frag        = 0x3 << 14
	TXD2PowerOffset = 0x3f << 26
)

// TXD word 3.
const (
	TXD3NoAck        = 1 << 0
	TXD3ProtectFrame = 1 << 1
	TXD3BCM          = 1 << 4
	TXD3HWAMSDU      = 1 << 5
	TXD3RemTxCount   = 0x1f << 11
	TXD3Seq          = 0xfff << 16
	TXD3BADisable    = 1 << 28
	TXD3SWPowerMgmt  = 1 << 29
	TXD3SNValid      = 1 << 31
)

// TXD words 5 and 6.
const (
	TXD5PID          = 0xff
	TXD5TxStatusHost = 1 << 10
	TXD5FL           = 1 << 31

	TXD6DAS     = 1 << 2
	TXD6DisMAT  = 1 << 3
	TXD6MSDUCnt = 0x3f << 4
	TXD6TxRate  = 0x3f << 16
	TXD6BW      = 0xf << 22
	// TXD6FixedBW is the top bit of TXD6BW.
	TXD6FixedBW = 1 << 25
	TXD6VTA     = 1 << 28
)

// Packet formats in TXD0PktFmt.
const (
	TxTypeCT = 0
	TxTypeFW = 3
)

// Header formats in TXD1HdrFormat.
const (
	HdrFormat8023  = 0
	HdrFormat80211 = 2
)

// Fragment positions in TXD2Frag.
const (
	TxFragNone  = 0
	TxFragFirst = 1
	TxFragMid   = 2
	TxFragLast  = 3
)

// LMAC queue indices written to TXD0QIdx.
const (
	LMACAC00  = 0x00
	LMACAC01  = 0x01
	LMACAC02  = 0x02
	LMACAC03  = 0x03
	LMACALTX0 = 0x10
	LMACBMC0  = 0x11
	LMACBCN0  = 0x12
	// MaxWMMSets is the number of LMAC queues per WMM set.
	MaxWMMSets = 4
)

// Access categories in the upper stack's numbering.
type AC uint8

const (
	ACVO AC = iota
	ACVI
	ACBE
	ACBK
)

// LMACMapping translates an access category to the hardware queue offset
// within a WMM set.
func LMACMapping(ac AC) uint8 {
	switch ac {
	case ACVO:
		return LMACAC03
	case ACVI:
		return LMACAC02
	case ACBK:
		return LMACAC00
	}
	return LMACAC01
}

// Special TID values written to TXD1TID for management frames.
const (
	TxTIDNormal = 0
	TxTIDADDBA  = 2
)

// DefaultTxCount is the retransmission budget written to TXD3RemTxCount.
const DefaultTxCount = 15

// TXD is a host TX descriptor held in native word order.
type TXD [TXDWords]uint32

// DecodeTXD reads a TX descriptor from b.
func DecodeTXD(b []byte) (t TXD, err error) {
	if len(b) < TXDSize {
		return t, ErrShortBuffer
	}
	_ = b[TXDSize-1]
	for i := range t {
		t[i] = Word(b, i)
	}
	return t, nil
}

// Put writes the descriptor to dst in wire order.
func (t *TXD) Put(dst []byte) error {
	if len(dst) < TXDSize {
		return ErrShortDst
	}
	_ = dst[TXDSize-1]
	for i, w := range t {
		PutWord(dst, i, w)
	}
	return nil
}

// Set ors the field bits into word i.
func (t *TXD) Set(i int, mask, v uint32) { t[i] |= FieldPrep(mask, v) }

// Replace overwrites the field of word i.
func (t *TXD) Replace(i int, mask, v uint32) { t[i] = FieldReplace(t[i], mask, v) }

// Get returns the field of word i.
func (t *TXD) Get(i int, mask uint32) uint32 { return FieldGet(mask, t[i]) }

func (t *TXD) TxBytes() uint16   { return uint16(t.Get(0, TXD0TxBytes)) }
func (t *TXD) QueueIdx() uint8   { return uint8(t.Get(0, TXD0QIdx)) }
func (t *TXD) PktFmt() uint8     { return uint8(t.Get(0, TXD0PktFmt)) }
func (t *TXD) WlanIdx() uint16   { return uint16(t.Get(1, TXD1WlanIdx)) }
func (t *TXD) HdrFormat() uint8  { return uint8(t.Get(1, TXD1HdrFormat)) }
func (t *TXD) TID() uint8        { return uint8(t.Get(1, TXD1TID)) }
func (t *TXD) FixedRate() bool   { return t[1]&TXD1FixedRate != 0 }
func (t *TXD) Frag() uint8       { return uint8(t.Get(2, TXD2Frag)) }
func (t *TXD) Seq() uint16       { return uint16(t.Get(3, TXD3Seq)) }
func (t *TXD) RemTxCount() uint8 { return uint8(t.Get(3, TXD3RemTxCount)) }
func (t *TXD) PID() uint8        { return uint8(t.Get(5, TXD5PID)) }
func (t *TXD) RateIdx() uint8    { return uint8(t.Get(6, TXD6TxRate)) }
