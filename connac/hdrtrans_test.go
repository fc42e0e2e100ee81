package connac

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var (
	ownAddr   = [6]byte{0x02, 0, 0, 0, 0, 0x01}
	peerAddr  = [6]byte{0x02, 0, 0, 0, 0, 0x02}
	bssidAddr = [6]byte{0x02, 0, 0, 0, 0, 0x03}
	farDst    = [6]byte{0x02, 0, 0, 0, 0, 0x04}
	farSrc    = [6]byte{0x02, 0, 0, 0, 0, 0x05}
)

func ethFrame(dst, src [6]byte, etype uint16, payload []byte) []byte {
	b := make([]byte, 0, EthHeaderLen+len(payload))
	b = append(b, dst[:]...)
	b = append(b, src[:]...)
	b = append(b, byte(etype>>8), byte(etype))
	return append(b, payload...)
}

func hdrTransDesc(fc FrameControl) *RxDesc {
	var d RxDesc
	d.W[1] = RXD1Group4
	d.W[2] = RXD2HdrTrans
	d.W[3] = FieldPrep(RXD3AddrType, uint32(AddrTypeU2M))
	d.Group4[0] = uint32(fc)
	d.Group4[2] = FieldPrep(RXD10SeqCtrl, uint32(0x7a0)) | FieldPrep(RXD10QoSCtl, uint32(6))
	return &d
}

func TestReverseHdrTransRoundTrip(t *testing.T) {
	link := &LinkAddrs{Own: ownAddr, Peer: peerAddr, BSSID: bssidAddr}
	payload := []byte("fragment zero payload")
	for _, test := range []struct {
		name     string
		ds       FrameControl
		dst, src [6]byte
		a3, a4   [6]byte
		etype    uint16
	}{
		{name: "ibss", ds: 0, dst: ownAddr, src: peerAddr, a3: bssidAddr, etype: 0x0800},
		{name: "from-ds", ds: FCtlFromDS, dst: ownAddr, src: farSrc, a3: farSrc, etype: 0x86dd},
		{name: "to-ds", ds: FCtlToDS, dst: farDst, src: peerAddr, a3: farDst, etype: 0x0806},
		{name: "wds", ds: FCtlToDS | FCtlFromDS, dst: farDst, src: farSrc, a3: farDst, a4: farSrc, etype: EthPAARP},
		{name: "llc length", ds: FCtlFromDS, dst: ownAddr, src: farSrc, a3: farSrc, etype: uint16(len(payload))},
	} {
		fc := FTypeData | STypeQoSData | FCtlMoreFrags | test.ds
		eth := ethFrame(test.dst, test.src, test.etype, payload)
		const headroom = 64
		buf := make([]byte, headroom+len(eth), headroom+len(eth)+4)
		copy(buf[headroom:], eth)

		start, err := ReverseHdrTrans(buf, headroom, hdrTransDesc(fc), link)
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
			continue
		}
		frame := buf[start:]
		hdr, err := DecodeHdr(frame)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		if hdr.FC != fc || hdr.SeqCtrl != 0x7a0 {
			t.Errorf("%s: bad rebuilt fc %#x seq %#x", test.name, uint16(hdr.FC), hdr.SeqCtrl)
		}
		if hdr.Addr1 != ownAddr || hdr.Addr2 != peerAddr || hdr.Addr3 != test.a3 || hdr.Addr4 != test.a4 {
			t.Errorf("%s: bad rebuilt addresses %+v", test.name, hdr)
		}
		hlen := HdrLen(fc)
		if qos := order.Uint16(frame[hlen-QoSCtlLen:]); qos != 6 {
			t.Errorf("%s: bad qos control %#x", test.name, qos)
		}

		// Cross-check the rebuilt header with an independent decoder. It
		// expects a trailing FCS.
		var dot11 layers.Dot11
		withFCS := append(frame[:len(frame):len(frame)], 0, 0, 0, 0)
		if err := dot11.DecodeFromBytes(withFCS, gopacket.NilDecodeFeedback); err != nil {
			t.Fatalf("%s: gopacket: %v", test.name, err)
		}
		if dot11.Type != layers.Dot11TypeDataQOSData {
			t.Errorf("%s: gopacket type %v", test.name, dot11.Type)
		}
		if dot11.Flags.ToDS() != test.ds.HasToDS() || dot11.Flags.FromDS() != test.ds.HasFromDS() {
			t.Errorf("%s: gopacket ds flags %v", test.name, dot11.Flags)
		}
		if !bytes.Equal(dot11.Address1, ownAddr[:]) || !bytes.Equal(dot11.Address3, test.a3[:]) {
			t.Errorf("%s: gopacket addresses %v %v", test.name, dot11.Address1, dot11.Address3)
		}
		if dot11.SequenceNumber != SeqToSN(0x7a0) {
			t.Errorf("%s: gopacket sequence %d", test.name, dot11.SequenceNumber)
		}

		off, err := Decap8023(frame)
		if err != nil {
			t.Fatalf("%s: decap: %v", test.name, err)
		}
		if !bytes.Equal(frame[off:], eth) {
			t.Errorf("%s: decap mismatch\n got % x\nwant % x", test.name, frame[off:], eth)
		}
	}
}

func TestReverseHdrTransErrors(t *testing.T) {
	link := &LinkAddrs{Own: ownAddr, Peer: peerAddr}
	eth := ethFrame(ownAddr, peerAddr, 0x0800, []byte("data"))
	d := hdrTransDesc(FTypeData | STypeQoSData)
	if _, err := ReverseHdrTrans(eth, 0, d, link); !errors.Is(err, ErrNoHeadroom) {
		t.Error("want ErrNoHeadroom, got", err)
	}
	d.W[3] = 0
	if _, err := ReverseHdrTrans(eth, 0, d, link); !errors.Is(err, ErrNotUnicast) {
		t.Error("want ErrNotUnicast, got", err)
	}
	d = hdrTransDesc(FTypeData)
	d.W[1] = 0
	if _, err := ReverseHdrTrans(eth, 0, d, link); !errors.Is(err, ErrNoGroup4) {
		t.Error("want ErrNoGroup4, got", err)
	}
}

func TestInsertCCMPHdr(t *testing.T) {
	hdr := Hdr{FC: FTypeData | FCtlProtected, Addr1: ownAddr, Addr2: peerAddr, Addr3: bssidAddr}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	const start = 16
	buf := make([]byte, start+Hdr3AddrLen+len(payload))
	if _, err := hdr.Put(buf[start:]); err != nil {
		t.Fatal(err)
	}
	copy(buf[start+Hdr3AddrLen:], payload)
	want := append([]byte(nil), buf[start:start+Hdr3AddrLen]...)

	iv := [6]byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	ns, err := InsertCCMPHdr(buf, start, iv, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ns != start-8 {
		t.Fatal("bad new start", ns)
	}
	if !bytes.Equal(buf[ns:ns+Hdr3AddrLen], want) {
		t.Error("mac header not preserved")
	}
	ccmp := []byte{0x01, 0x02, 0, 0x60, 0x03, 0x04, 0x05, 0x06}
	if got := buf[ns+Hdr3AddrLen : ns+Hdr3AddrLen+8]; !bytes.Equal(got, ccmp) {
		t.Errorf("ccmp header % x, want % x", got, ccmp)
	}
	if !bytes.Equal(buf[ns+Hdr3AddrLen+8:], payload) {
		t.Error("payload moved")
	}
	if _, err := InsertCCMPHdr(buf, 4, iv, 0); !errors.Is(err, ErrNoHeadroom) {
		t.Error("want ErrNoHeadroom, got", err)
	}
}

func TestRemovePad(t *testing.T) {
	buf := []byte{0, 0, 'h', 'd', 'r', '!', 0xff, 0xff, 'b', 'o', 'd', 'y'}
	start, err := RemovePad(buf, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[start:]) != "hdr!body" {
		t.Errorf("got %q", buf[start:])
	}
	if s, _ := RemovePad(buf, 2, 0); s != 2 {
		t.Error("zero pad start must not move the frame")
	}
	if _, err := RemovePad(buf, 2, 20); !errors.Is(err, ErrShortBuffer) {
		t.Error("want ErrShortBuffer, got", err)
	}
}

func TestHdrTransPadStart(t *testing.T) {
	vlan := ethFrame(ownAddr, peerAddr, EthP8021Q, []byte{0, 5, 0, 0, 0x08, 0})
	if HdrTransPadStart(vlan) != 16 {
		t.Error("vlan tagged frame should pad after the tag")
	}
	plain := ethFrame(ownAddr, peerAddr, 0x0800, nil)
	if HdrTransPadStart(plain) != 0 {
		t.Error("untagged frame has no pad")
	}
}
