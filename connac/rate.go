package connac

// PhyType is the modulation family reported in PRXV and TX-status rate fields.
type PhyType uint8

const (
	PhyCCK     PhyType = 0
	PhyOFDM    PhyType = 1
	PhyHT      PhyType = 2
	PhyHTGF    PhyType = 3
	PhyVHT     PhyType = 4
	PhyHESU    PhyType = 8
	PhyHEExtSU PhyType = 9
	PhyHETB    PhyType = 10
	PhyHEMU    PhyType = 11
	PhyEHTSU   PhyType = 13
	PhyEHTTrig PhyType = 14
	PhyEHTMU   PhyType = 15
	// PhyTypeMax bounds per-mode histograms.
	PhyTypeMax = 16
)

func (p PhyType) String() (s string) {
	switch p {
	case PhyCCK:
		s = "cck"
	case PhyOFDM:
		s = "ofdm"
	case PhyHT:
		s = "ht"
	case PhyHTGF:
		s = "ht-gf"
	case PhyVHT:
		s = "vht"
	case PhyHESU:
		s = "he-su"
	case PhyHEExtSU:
		s = "he-ext-su"
	case PhyHETB:
		s = "he-tb"
	case PhyHEMU:
		s = "he-mu"
	case PhyEHTSU:
		s = "eht-su"
	case PhyEHTTrig:
		s = "eht-trig"
	case PhyEHTMU:
		s = "eht-mu"
	default:
		s = "unknown"
	}
	return s
}

// IsHE reports whether p belongs to the HE family.
func (p PhyType) IsHE() bool { return p >= PhyHESU && p <= PhyHEMU }

// IsEHT reports whether p belongs to the EHT family.
func (p PhyType) IsEHT() bool { return p >= PhyEHTSU && p <= PhyEHTMU }

// Encoding is the rate family reported upward.
type Encoding uint8

const (
	EncLegacy Encoding = iota
	EncHT
	EncVHT
	EncHE
	EncEHT
)

func (e Encoding) String() string {
	switch e {
	case EncLegacy:
		return "legacy"
	case EncHT:
		return "ht"
	case EncVHT:
		return "vht"
	case EncHE:
		return "he"
	case EncEHT:
		return "eht"
	}
	return "unknown"
}

// Bandwidth is the decoded channel width of a received frame.
type Bandwidth uint8

const (
	BW20 Bandwidth = iota
	BW40
	BW80
	BW160
	BW320
	// BWHERU is a 106-tone HE resource unit on an extended range SU PPDU.
	BWHERU
)

func (b Bandwidth) String() string {
	switch b {
	case BW20:
		return "20MHz"
	case BW40:
		return "40MHz"
	case BW80:
		return "80MHz"
	case BW160:
		return "160MHz"
	case BW320:
		return "320MHz"
	case BWHERU:
		return "he-ru-106"
	}
	return "unknown"
}

// PRXV word 0 and word 2 fields.
const (
	PRXVTxRate    = 0x7f
	PRXVTxERSU106 = 1 << 5
	PRXVNSTS      = 0xf << 7

	PRXVFrameMode  = 0x7 << 12
	PRXVHTShortGI  = 0x3 << 15
	PRXVDCM        = 1 << 17
	PRXVHTSTBC     = 0x3 << 22
	PRXVTxMode     = 0xf << 24
	PRXVRCPI0      = 0xff
	PRXVRCPI1      = 0xff << 8
	PRXVRCPI2      = 0xff << 16
	PRXVRCPI3      = 0xff << 24
	rxBW320Code    = 4
	rxBW320AltCode = 5
)

// RxRate is the physical layer rate decoded from the receive vector.
type RxRate struct {
	Mode     PhyType
	Encoding Encoding
	// Index is the MCS for HT and later, and the legacy bitrate table index
	// for CCK and OFDM.
	Index uint8
	NSS   uint8
	BW    Bandwidth
	GI    uint8
	DCM   bool
	STBC  bool
}

// ShortGI reports a short guard interval on HT and VHT frames.
func (r RxRate) ShortGI() bool { return r.Mode < PhyHESU && r.GI != 0 }

// HistogramIndex returns the bucket of the per-connection receive rate histogram.
func (r RxRate) HistogramIndex() int {
	switch r.Encoding {
	case EncHT:
		return int(r.Index % 8)
	}
	return min(int(r.Index), 13)
}

// DecodeRxRate decodes words 0 and 2 of the receive vector. is2GHz selects
// the legacy bitrate table, which carries the four CCK rates before OFDM on
// the 2.4GHz band.
func DecodeRxRate(v0, v2 uint32, is2GHz bool) (r RxRate, err error) {
	idx := uint8(FieldGet(PRXVTxRate, v0))
	i := idx
	nss := uint8(FieldGet(PRXVNSTS, v0)) + 1
	stbc := FieldGet(PRXVHTSTBC, v2) != 0
	r.GI = uint8(FieldGet(PRXVHTShortGI, v2))
	r.Mode = PhyType(FieldGet(PRXVTxMode, v2))
	r.DCM = v2&PRXVDCM != 0
	bw := FieldGet(PRXVFrameMode, v2)

	switch r.Mode {
	case PhyCCK, PhyOFDM:
		i = LegacyRateIndex(i, r.Mode == PhyCCK, is2GHz)
		nss = 1
		if stbc {
			nss = 2
		}
	case PhyHT, PhyHTGF:
		r.Encoding = EncHT
		nss = i/8 + 1
		if i > 31 {
			return r, ErrBadRateHT
		}
	case PhyVHT:
		r.Encoding = EncVHT
		if i > 11 {
			return r, ErrBadRateVHT
		}
	case PhyHESU, PhyHEExtSU, PhyHETB, PhyHEMU:
		r.Encoding = EncHE
		i &= 0xf
	case PhyEHTSU, PhyEHTTrig, PhyEHTMU:
		r.Encoding = EncEHT
		i &= 0xf
	default:
		return r, ErrBadMode
	}
	r.Index = i

	switch bw {
	case 0:
		r.BW = BW20
	case 1:
		if r.Mode == PhyHEExtSU && idx&PRXVTxERSU106 != 0 {
			r.BW = BWHERU
		} else {
			r.BW = BW40
		}
	case 2:
		r.BW = BW80
	case 3:
		r.BW = BW160
	case rxBW320Code, rxBW320AltCode:
		r.BW = BW320
	default:
		return r, ErrBadBW
	}
	r.STBC = stbc
	if stbc && nss > 1 {
		// Hardware reports two streams for a single STBC stream.
		nss >>= 1
	}
	r.NSS = nss
	return r, nil
}

// OFDM hardware rate codes in bitrate table order: 6, 9, 12, 18, 24, 36, 48, 54 Mbps.
var ofdmHWCodes = [8]uint8{0xb, 0xf, 0xa, 0xe, 0x9, 0xd, 0x8, 0xc}

// LegacyRateIndex maps a CCK or OFDM hardware rate code to the index of the
// band's bitrate table. Unknown codes map to index 0.
func LegacyRateIndex(code uint8, cck, is2GHz bool) uint8 {
	if cck {
		// Bit 2 flags short preamble.
		code &^= 1 << 2
		if code > 3 {
			return 0
		}
		return code
	}
	var offset uint8
	if is2GHz {
		offset = 4
	}
	for i, c := range ofdmHWCodes {
		if c == code {
			return uint8(i) + offset
		}
	}
	return 0
}

// LegacyHWCode is the inverse of LegacyRateIndex.
func LegacyHWCode(idx uint8, is2GHz bool) (code uint8, mode PhyType) {
	if is2GHz {
		if idx < 4 {
			return idx, PhyCCK
		}
		idx -= 4
	}
	if int(idx) >= len(ofdmHWCodes) {
		idx = 0
	}
	return ofdmHWCodes[idx], PhyOFDM
}

// TX rate value, as written to TXD6 and reported in TXS0.
const (
	TxRateIdx  = 0x3f
	TxRateDCM  = 1 << 4
	TxRateER   = 1 << 5
	TxRateMode = 0xf << 6
	TxRateNSS  = 0xf << 10
	TxRateSTBC = 1 << 14
)

// TxRate is the 14 bit fixed rate descriptor.
type TxRate uint16

// MakeTxRate builds a fixed rate value. nss counts spatial streams from 1.
func MakeTxRate(mode PhyType, idx, nss uint8, stbc bool) TxRate {
	if nss == 0 {
		nss = 1
	}
	v := FieldPrep(TxRateIdx, uint32(idx)) |
		FieldPrep(TxRateMode, uint32(mode)) |
		FieldPrep(TxRateNSS, uint32(nss-1))
	if stbc {
		v |= TxRateSTBC
	}
	return TxRate(v)
}

func (t TxRate) Index() uint8  { return uint8(FieldGet(TxRateIdx, uint32(t))) }
func (t TxRate) Mode() PhyType { return PhyType(FieldGet(TxRateMode, uint32(t))) }
func (t TxRate) NSS() uint8    { return uint8(FieldGet(TxRateNSS, uint32(t))) + 1 }
func (t TxRate) STBC() bool    { return uint32(t)&TxRateSTBC != 0 }
