package connac

// TX-status buffers carry a 4 word header followed by fixed size records.
const (
	TXSHdrWords = 4
	TXSWords    = 12
	TXSSize     = TXSWords * WordSize
)

// TX-status record fields.
const (
	TXS0BW           = 0x7 << 29
	TXS0TID          = 0x7 << 26
	TXS0AMPDU        = 1 << 25
	TXS0Format       = 0x3 << 23
	TXS0AckErrorMask = 0x7 << 16
	TXS0TxStatusHost = 1 << 15
	TXS0TxRate       = 0x3fff

	TXS2Band = 0x3 << 30
	TXS2WCID = 0xfff << 16

	TXS3PID       = 0xff << 24
	TXS3RateSTBC  = 1 << 7
	TXS3FixedRate = 1 << 6

	TXS5MPDUTxCnt    = 0x1ff << 23
	TXS6MPDUFailCnt  = 0x1ff << 23
	TXS7MPDURetryCnt = 0x3ff << 22
)

// TX-status formats.
const (
	TXSFormatMPDU = 0
	TXSFormatPPDU = 2
)

// Packet ids written to TXD5PID. Ids below PacketIDNoSKB carry no tracked
// packet; ids from PacketIDFirst are allocated per connection.
const (
	PacketIDNoAck = 0
	PacketIDNoSKB = 1
	PacketIDFirst = 3
	PacketIDMask  = 0x7f
)

// TXS is one TX-status record.
type TXS [TXSWords]uint32

func (s *TXS) Format() uint8          { return uint8(FieldGet(TXS0Format, s[0])) }
func (s *TXS) Acked() bool            { return s[0]&TXS0AckErrorMask == 0 }
func (s *TXS) TID() uint8             { return uint8(FieldGet(TXS0TID, s[0])) }
func (s *TXS) BW() uint8              { return uint8(FieldGet(TXS0BW, s[0])) }
func (s *TXS) Rate() TxRate           { return TxRate(FieldGet(TXS0TxRate, s[0])) }
func (s *TXS) WCID() uint16           { return uint16(FieldGet(TXS2WCID, s[2])) }
func (s *TXS) Band() uint8            { return uint8(FieldGet(TXS2Band, s[2])) }
func (s *TXS) PID() uint8             { return uint8(FieldGet(TXS3PID, s[3])) }
func (s *TXS) STBC() bool             { return s[3]&TXS3RateSTBC != 0 }
func (s *TXS) FixedRate() bool        { return s[3]&TXS3FixedRate != 0 }
func (s *TXS) MPDUTxCount() uint32    { return FieldGet(TXS5MPDUTxCnt, s[5]) }
func (s *TXS) MPDUFailCount() uint32  { return FieldGet(TXS6MPDUFailCnt, s[6]) }
func (s *TXS) MPDURetryCount() uint32 { return FieldGet(TXS7MPDURetryCnt, s[7]) }

// TxStatusIter walks the records of a TX-status buffer. Trailing bytes that
// do not form a complete record are ignored.
type TxStatusIter struct {
	buf []byte
	off int
}

// NewTxStatusIter returns an iterator positioned at the first record.
func NewTxStatusIter(buf []byte) TxStatusIter {
	return TxStatusIter{buf: buf, off: TXSHdrWords * WordSize}
}

// Next decodes the next record into s. It returns false when no complete
// record remains.
func (it *TxStatusIter) Next(s *TXS) bool {
	end := it.off + TXSSize
	if end > len(it.buf) {
		return false
	}
	rec := it.buf[it.off:end]
	for i := range s {
		s[i] = Word(rec, i)
	}
	it.off = end
	return true
}
