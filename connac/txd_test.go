package connac

import "testing"

func TestTXPBufs(t *testing.T) {
	var p TXP
	p.SetBufs([]DMABuf{
		{Addr: 0x3_1234_5678, Len: 1500},
		{Addr: 0x1000, Len: 64},
		{Addr: 0x2000, Len: 1}, {Addr: 0x3000, Len: 1}, {Addr: 0x4000, Len: 1},
	})
	if p.NBuf != TXPMaxBufNum {
		t.Fatal("segments beyond the table must be dropped, got", p.NBuf)
	}
	if p.Buf[0] != 0x1234_5678 || FieldGet(TXPDMAAddrHi, uint32(p.Len[0])) != 3 || FieldGet(TXPBufLen, uint32(p.Len[0])) != 1500 {
		t.Errorf("bad first segment %#x len %#x", p.Buf[0], p.Len[0])
	}
	p.Flags = CTInfoFromHost | CTInfoApplyTXD
	p.Token = 0x2345
	p.ReptWDSWcid = ReptWDSWcidNone
	var buf [TXPSize]byte
	if err := p.Put(buf[:]); err != nil {
		t.Fatal(err)
	}
	// Token and the repeater wcid sit at fixed offsets read by firmware.
	if buf[2] != 0x45 || buf[3] != 0x23 || buf[5] != 0xff || buf[6] != 0x0f {
		t.Errorf("bad packed layout % x", buf[:8])
	}
	got, err := DecodeTXP(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("decoded %+v, want %+v", got, p)
	}
	if err := p.Put(buf[:TXPSize-1]); err != ErrShortDst {
		t.Error("want ErrShortDst, got", err)
	}
}

func TestTXDFields(t *testing.T) {
	var d TXD
	d.Set(0, TXD0QIdx, LMACALTX0)
	d.Set(1, TXD1WlanIdx, 0x3ff)
	d.Set(3, TXD3RemTxCount, DefaultTxCount)
	d.Replace(3, TXD3RemTxCount, 0x1f)
	d.Set(5, TXD5PID, PacketIDFirst)
	if d.QueueIdx() != LMACALTX0 || d.WlanIdx() != 0x3ff || d.RemTxCount() != 0x1f || d.PID() != PacketIDFirst {
		t.Errorf("bad fields %x", d)
	}
	if FieldGet(TXD6BW, uint32(TXD6FixedBW)) != 8 {
		t.Error("fixed bandwidth bit must be the top bit of the bandwidth field")
	}
}

func TestLMACMapping(t *testing.T) {
	want := map[AC]uint8{ACVO: LMACAC03, ACVI: LMACAC02, ACBE: LMACAC01, ACBK: LMACAC00}
	for ac, q := range want {
		if got := LMACMapping(ac); got != q {
			t.Errorf("ac %d: got queue %d, want %d", ac, got, q)
		}
	}
}
