package connac

// TX-free notification layout. Word 0 and 1 form the header, entries follow
// from word 2.
const (
	TxFree0PktType = 0x1f << 27
	TxFree0MSDUCnt = 0x3ff << 16
	TxFree0RxByte  = 0xffff
	TxFree1Ver     = 0xf << 16

	TxFreeInfoPair   = 1 << 31
	TxFreeInfoHeader = 1 << 30
	TxFreeInfoStat   = 0x3 << 28
	TxFreeInfoCount  = 0xf << 24
	TxFreeInfoWlanID = 0xfff << 12
	TxFreeInfoMSDUID = 0x7fff

	// TxFreeMinVersion is the oldest notification format understood.
	TxFreeMinVersion = 5
	// TxFreeExtPairVersion carries an extra pair word after each pair entry.
	TxFreeExtPairVersion = 7
	// TxFreeEntryWords is the word index of the first entry.
	TxFreeEntryWords = 2
)

// Delivery outcomes reported in TxFreeInfoStat.
const (
	TxStatOK      = 0
	TxStatHWDrop  = 1
	TxStatMCUDrop = 2
)

// TxFreeHeader is the decoded prefix of a TX-free notification.
type TxFreeHeader struct {
	Version uint8
	// Total counts valid token ids across all entries.
	Total uint16
}

// DecodeTxFreeHeader validates and decodes the first two words of a TX-free
// notification.
func DecodeTxFreeHeader(buf []byte) (h TxFreeHeader, err error) {
	if len(buf) < TxFreeEntryWords*WordSize {
		return h, ErrShortBuffer
	}
	w0, w1 := Word(buf, 0), Word(buf, 1)
	h.Version = uint8(FieldGet(TxFree1Ver, w1))
	h.Total = uint16(FieldGet(TxFree0MSDUCnt, w0))
	if h.Version < TxFreeMinVersion {
		return h, ErrTxFreeVersion
	}
	return h, nil
}

// TxFreeInfo is one entry word of a TX-free notification. It is either a pair
// entry binding a connection, a header entry carrying delivery counters for
// the bound connection, or a token entry with up to two token ids.
type TxFreeInfo uint32

func (e TxFreeInfo) IsPair() bool   { return e&TxFreeInfoPair != 0 }
func (e TxFreeInfo) IsHeader() bool { return e&TxFreeInfoHeader != 0 }
func (e TxFreeInfo) WlanID() uint16 { return uint16(FieldGet(TxFreeInfoWlanID, uint32(e))) }
func (e TxFreeInfo) Stat() uint8    { return uint8(FieldGet(TxFreeInfoStat, uint32(e))) }
func (e TxFreeInfo) Count() uint8   { return uint8(FieldGet(TxFreeInfoCount, uint32(e))) }

// Token returns the i'th (0 or 1) token id of a token entry. ok is false for
// the invalid id marker.
func (e TxFreeInfo) Token(i int) (token uint16, ok bool) {
	id := (uint32(e) >> (15 * i)) & TxFreeInfoMSDUID
	return uint16(id), id != TxFreeInfoMSDUID
}

// PutTxFreeHeader writes the two header words of a notification with
// total valid token ids and the given byte length.
func PutTxFreeHeader(dst []byte, version uint8, total uint16, length int) {
	PutWord(dst, 0, FieldPrep(TxFree0PktType, uint32(PktTypeTxRxNotify))|
		FieldPrep(TxFree0MSDUCnt, uint32(total))|
		FieldPrep(TxFree0RxByte, uint32(length)))
	PutWord(dst, 1, FieldPrep(TxFree1Ver, uint32(version)))
}

// TxFreePair returns a pair entry binding wcid.
func TxFreePair(wcid uint16) TxFreeInfo {
	return TxFreeInfo(TxFreeInfoPair | FieldPrep(TxFreeInfoWlanID, uint32(wcid)))
}

// TxFreeHeaderEntry returns a header entry reporting count transmissions
// with the final outcome stat.
func TxFreeHeaderEntry(count, stat uint8) TxFreeInfo {
	return TxFreeInfo(TxFreeInfoHeader |
		FieldPrep(TxFreeInfoCount, uint32(count)) |
		FieldPrep(TxFreeInfoStat, uint32(stat)))
}

// TxFreeTokens returns a token entry. Pass TxFreeInfoMSDUID as b to leave
// the second slot empty.
func TxFreeTokens(a, b uint16) TxFreeInfo {
	return TxFreeInfo(uint32(a)&TxFreeInfoMSDUID | (uint32(b)&TxFreeInfoMSDUID)<<15)
}
