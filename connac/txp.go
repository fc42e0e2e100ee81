package connac

// TXP is the firmware transmit block that follows the TX descriptor. It names
// the token and the DMA buffers holding the frame.
const (
	TXPSize      = 32
	TXPMaxBufNum = 4

	TXPBufLen    = 0xfff
	TXPDMAAddrHi = 0xf << 12
)

// CT info flags in TXP.Flags.
const (
	CTInfoApplyTXD        = 1 << 0
	CTInfoMgmtFrame       = 1 << 2
	CTInfoNoneCipherFrame = 1 << 3
	CTInfoFromHost        = 1 << 7
)

// ReptWDSWcidNone is written to TXP.ReptWDSWcid when no station is attached.
const ReptWDSWcidNone = 0xfff

// DMABuf is one DMA segment of an outbound frame.
type DMABuf struct {
	Addr uint64
	Len  uint16
}

type TXP struct {
	Flags       uint16
	Token       uint16
	BSSIdx      uint8
	ReptWDSWcid uint16
	NBuf        uint8
	Buf         [TXPMaxBufNum]uint32
	Len         [TXPMaxBufNum]uint16
}

// SetBufs fills the buffer table. Segments beyond TXPMaxBufNum are ignored.
func (p *TXP) SetBufs(bufs []DMABuf) {
	n := min(len(bufs), TXPMaxBufNum)
	for i := 0; i < n; i++ {
		p.Buf[i] = uint32(bufs[i].Addr)
		p.Len[i] = uint16(FieldPrep(TXPBufLen, uint32(bufs[i].Len)) |
			FieldPrep(TXPDMAAddrHi, uint32(bufs[i].Addr>>32)))
	}
	p.NBuf = uint8(n)
}

// Put writes the block to dst in wire order.
func (p *TXP) Put(dst []byte) error {
	if len(dst) < TXPSize {
		return ErrShortDst
	}
	_ = dst[TXPSize-1]
	order.PutUint16(dst[0:], p.Flags)
	order.PutUint16(dst[2:], p.Token)
	dst[4] = p.BSSIdx
	order.PutUint16(dst[5:], p.ReptWDSWcid)
	dst[7] = p.NBuf
	for i := range p.Buf {
		order.PutUint32(dst[8+4*i:], p.Buf[i])
		order.PutUint16(dst[24+2*i:], p.Len[i])
	}
	return nil
}

// DecodeTXP reads a firmware transmit block.
func DecodeTXP(b []byte) (p TXP, err error) {
	if len(b) < TXPSize {
		return p, ErrShortBuffer
	}
	_ = b[TXPSize-1]
	p.Flags = order.Uint16(b[0:])
	p.Token = order.Uint16(b[2:])
	p.BSSIdx = b[4]
	p.ReptWDSWcid = order.Uint16(b[5:])
	p.NBuf = b[7]
	for i := range p.Buf {
		p.Buf[i] = order.Uint32(b[8+4*i:])
		p.Len[i] = order.Uint16(b[24+2*i:])
	}
	return p, nil
}
