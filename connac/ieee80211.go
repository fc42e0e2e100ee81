package connac

// FrameControl is the 802.11 frame control field in host order.
type FrameControl uint16

const (
	FCtlFType     FrameControl = 0x000c
	FCtlSType     FrameControl = 0x00f0
	FCtlToDS      FrameControl = 0x0100
	FCtlFromDS    FrameControl = 0x0200
	FCtlMoreFrags FrameControl = 0x0400
	FCtlRetry     FrameControl = 0x0800
	FCtlPM        FrameControl = 0x1000
	FCtlMoreData  FrameControl = 0x2000
	FCtlProtected FrameControl = 0x4000
	FCtlOrder     FrameControl = 0x8000

	FTypeMgmt FrameControl = 0x0000
	FTypeCtl  FrameControl = 0x0004
	FTypeData FrameControl = 0x0008

	STypeProbeResp FrameControl = 0x0050
	STypeBeacon    FrameControl = 0x0080
	STypeDisassoc  FrameControl = 0x00a0
	STypeAuth      FrameControl = 0x00b0
	STypeDeauth    FrameControl = 0x00c0
	STypeAction    FrameControl = 0x00d0

	STypeBackReq FrameControl = 0x0080
	STypeCTS     FrameControl = 0x00c0
	STypeACK     FrameControl = 0x00d0

	STypeData        FrameControl = 0x0000
	STypeNullfunc    FrameControl = 0x0040
	STypeQoSData     FrameControl = 0x0080
	STypeQoSNullfunc FrameControl = 0x00c0
)

func (fc FrameControl) Type() FrameControl    { return fc & FCtlFType }
func (fc FrameControl) Subtype() FrameControl { return fc & FCtlSType }
func (fc FrameControl) IsMgmt() bool          { return fc.Type() == FTypeMgmt }
func (fc FrameControl) IsCtl() bool           { return fc.Type() == FTypeCtl }
func (fc FrameControl) IsData() bool          { return fc.Type() == FTypeData }

// IsDataQoS reports a data frame carrying a QoS control field.
func (fc FrameControl) IsDataQoS() bool {
	return fc&(FCtlFType|STypeQoSData) == FTypeData|STypeQoSData
}

// IsDataPresent reports a data frame that is not a null function frame.
func (fc FrameControl) IsDataPresent() bool {
	return fc.IsData() && fc&STypeNullfunc == 0
}

func (fc FrameControl) is(typ, sub FrameControl) bool {
	return fc&(FCtlFType|FCtlSType) == typ|sub
}

func (fc FrameControl) IsNullfunc() bool    { return fc.is(FTypeData, STypeNullfunc) }
func (fc FrameControl) IsQoSNullfunc() bool { return fc.is(FTypeData, STypeQoSNullfunc) }
func (fc FrameControl) IsBeacon() bool      { return fc.is(FTypeMgmt, STypeBeacon) }
func (fc FrameControl) IsProbeResp() bool   { return fc.is(FTypeMgmt, STypeProbeResp) }
func (fc FrameControl) IsDeauth() bool      { return fc.is(FTypeMgmt, STypeDeauth) }
func (fc FrameControl) IsAction() bool      { return fc.is(FTypeMgmt, STypeAction) }
func (fc FrameControl) IsBackReq() bool     { return fc.is(FTypeCtl, STypeBackReq) }
func (fc FrameControl) HasToDS() bool       { return fc&FCtlToDS != 0 }
func (fc FrameControl) HasFromDS() bool     { return fc&FCtlFromDS != 0 }
func (fc FrameControl) HasA4() bool         { return fc&(FCtlToDS|FCtlFromDS) == FCtlToDS|FCtlFromDS }
func (fc FrameControl) HasMoreFrags() bool  { return fc&FCtlMoreFrags != 0 }
func (fc FrameControl) HasOrder() bool      { return fc&FCtlOrder != 0 }
func (fc FrameControl) HasProtected() bool  { return fc&FCtlProtected != 0 }

// Sequence control and QoS control fields.
const (
	SCtlFrag = 0x000f
	SCtlSeq  = 0xfff0

	QoSCtlTIDMask      = 0x000f
	QoSCtlAMSDUPresent = 0x0080

	HTCtlLen  = 4
	QoSCtlLen = 2
)

// SeqToSN extracts the sequence number from a sequence control field.
func SeqToSN(seqCtrl uint16) uint16 { return (seqCtrl & SCtlSeq) >> 4 }

// SNToSeq places a sequence number in a sequence control field.
func SNToSeq(sn uint16) uint16 { return sn << 4 }

// IsFirstFrag reports whether the sequence control names fragment 0.
func IsFirstFrag(seqCtrl uint16) bool { return seqCtrl&SCtlFrag == 0 }

// Header lengths.
const (
	Hdr3AddrLen = 24
	Hdr4AddrLen = 30
	ETHALen     = 6
)

// HdrLen returns the length of the MAC header for frame control fc,
// including QoS and HT control fields.
func HdrLen(fc FrameControl) int {
	switch {
	case fc.IsData():
		n := Hdr3AddrLen
		if fc.HasA4() {
			n = Hdr4AddrLen
		}
		if fc.IsDataQoS() {
			n += QoSCtlLen
			if fc.HasOrder() {
				n += HTCtlLen
			}
		}
		return n
	case fc.IsMgmt():
		if fc.HasOrder() {
			return Hdr3AddrLen + HTCtlLen
		}
		return Hdr3AddrLen
	case fc.IsCtl():
		if fc.Subtype() == STypeCTS || fc.Subtype() == STypeACK {
			return 10
		}
		return 16
	}
	return Hdr3AddrLen
}

// Hdr is the generic 802.11 MAC header. Addr4 is only on the wire when both
// distribution system bits are set.
type Hdr struct {
	FC       FrameControl
	Duration uint16
	Addr1    [6]byte
	Addr2    [6]byte
	Addr3    [6]byte
	SeqCtrl  uint16
	Addr4    [6]byte
}

// Len returns the on-wire length of the address portion of the header.
func (h *Hdr) Len() int {
	if h.FC.HasA4() {
		return Hdr4AddrLen
	}
	return Hdr3AddrLen
}

// Put writes the header to dst and returns the bytes written.
func (h *Hdr) Put(dst []byte) (int, error) {
	n := h.Len()
	if len(dst) < n {
		return 0, ErrShortDst
	}
	order.PutUint16(dst[0:], uint16(h.FC))
	order.PutUint16(dst[2:], h.Duration)
	copy(dst[4:10], h.Addr1[:])
	copy(dst[10:16], h.Addr2[:])
	copy(dst[16:22], h.Addr3[:])
	order.PutUint16(dst[22:], h.SeqCtrl)
	if n == Hdr4AddrLen {
		copy(dst[24:30], h.Addr4[:])
	}
	return n, nil
}

// DecodeHdr decodes the header at the start of an 802.11 frame.
func DecodeHdr(b []byte) (h Hdr, err error) {
	if len(b) < Hdr3AddrLen {
		return h, ErrShort80211Frame
	}
	h.FC = FrameControl(order.Uint16(b[0:]))
	h.Duration = order.Uint16(b[2:])
	copy(h.Addr1[:], b[4:10])
	copy(h.Addr2[:], b[10:16])
	copy(h.Addr3[:], b[16:22])
	h.SeqCtrl = order.Uint16(b[22:])
	if h.FC.HasA4() {
		if len(b) < Hdr4AddrLen {
			return h, ErrShort80211Frame
		}
		copy(h.Addr4[:], b[24:30])
	}
	return h, nil
}

// FrameFC returns the frame control of an 802.11 frame without a full decode.
func FrameFC(frame []byte) FrameControl {
	if len(frame) < 2 {
		return 0
	}
	return FrameControl(order.Uint16(frame))
}

// IsMulticast reports whether addr is a group address.
func IsMulticast(addr []byte) bool { return len(addr) > 0 && addr[0]&1 != 0 }

// Action frame categories and codes.
const (
	CategoryBACK         = 3
	categoryPublic       = 4
	categoryHT           = 7
	categoryWNMUnprot    = 11
	categorySelfProt     = 15
	categoryDMGUnprot    = 20
	categoryVHT          = 21
	categoryS1GUnprot    = 22
	categoryVendor       = 127
	CategoryProtectedEHT = 37

	ActionADDBAReq = 0

	ActionTTLMReq      = 0
	ActionTTLMRes      = 1
	ActionTTLMTeardown = 2

	actionCategoryOffset = 24
	actionCodeOffset     = 25
)

// ActionCode returns the category and action code of an action frame.
// ok is false if frame is too short.
func ActionCode(frame []byte) (category, code uint8, ok bool) {
	if len(frame) <= actionCodeOffset {
		return 0, 0, false
	}
	return frame[actionCategoryOffset], frame[actionCodeOffset], true
}

// IsRobustMgmt reports whether frame is a management frame protected by
// management frame protection: disassociation, deauthentication and action
// frames of the protected categories.
func IsRobustMgmt(frame []byte) bool {
	fc := FrameFC(frame)
	if fc.is(FTypeMgmt, STypeDisassoc) || fc.IsDeauth() {
		return true
	}
	if !fc.IsAction() || len(frame) <= actionCategoryOffset {
		return false
	}
	cat := frame[actionCategoryOffset]
	if fc.HasProtected() {
		// Category is encrypted.
		return true
	}
	switch cat {
	case categoryPublic, categoryHT, categoryWNMUnprot, categorySelfProt,
		categoryDMGUnprot, categoryVHT, categoryS1GUnprot, categoryVendor:
		return false
	}
	return true
}

// LLC/SNAP headers and ethertypes relevant to 802.11 encapsulation.
var (
	RFC1042Header      = [6]byte{0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00}
	BridgeTunnelHeader = [6]byte{0xaa, 0xaa, 0x03, 0x00, 0x00, 0xf8}
)

const (
	EthPAARP     = 0x80f3
	EthPIPX      = 0x8137
	EthP8021Q    = 0x8100
	EthP8023Min  = 0x0600
	EthHeaderLen = 14
)
