package mt79

import (
	"errors"
	"testing"
)

func TestTokenTableExhaustion(t *testing.T) {
	const size = 8
	var tt tokenTable
	var bands [MaxBands]BandConfig
	tt.init(size, 2, &bands)
	seen := make(map[uint16]bool)
	pkts := make([]*Packet, size)
	for i := range pkts {
		pkts[i] = &Packet{}
		tok, _, err := tt.consume(pkts[i], 0)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if seen[tok] {
			t.Fatalf("token %d handed out twice", tok)
		}
		seen[tok] = true
		if pkts[i].Token() != tok {
			t.Error("packet token not recorded", pkts[i].Token(), tok)
		}
	}
	if _, _, err := tt.consume(&Packet{}, 0); !errors.Is(err, ErrTokensExhausted) {
		t.Fatal("want exhaustion on consume past capacity, got", err)
	}
	if tt.len() != size {
		t.Error("want full table, got", tt.len())
	}

	p, _ := tt.release(pkts[3].Token())
	if p != pkts[3] {
		t.Fatal("release returned wrong packet")
	}
	if p, _ := tt.release(pkts[3].Token()); p != nil {
		t.Error("token released twice")
	}
	if _, _, err := tt.consume(&Packet{}, 0); err != nil {
		t.Error("consume after release:", err)
	}
}

func TestTokenTableThreshold(t *testing.T) {
	var tt tokenTable
	var bands [MaxBands]BandConfig
	tt.init(4, 1, &bands)
	select {
	case <-tt.waitChan():
	default:
		t.Fatal("wait channel of unblocked table is not closed")
	}
	var last *Packet
	for i := 0; i < 3; i++ {
		last = &Packet{}
		_, blocked, err := tt.consume(last, 0)
		if err != nil {
			t.Fatal(err)
		}
		if want := i == 2; blocked != want {
			t.Errorf("consume %d: blocked=%v, want %v", i, blocked, want)
		}
	}
	ch := tt.waitChan()
	select {
	case <-ch:
		t.Fatal("wait channel closed while blocked")
	default:
	}
	if _, wake := tt.release(last.Token()); !wake {
		t.Error("release below threshold did not wake")
	}
	select {
	case <-ch:
	default:
		t.Error("wait channel not closed after unblocking")
	}
}

func TestTokenTableCyclic(t *testing.T) {
	var tt tokenTable
	var bands [MaxBands]BandConfig
	tt.init(4, 0, &bands)
	p0 := &Packet{}
	tok0, _, _ := tt.consume(p0, 0)
	tt.release(tok0)
	tok1, _, _ := tt.consume(&Packet{}, 0)
	if tok1 == tok0 {
		t.Error("released token reused immediately", tok0)
	}
}

func TestTokenTableBandQuota(t *testing.T) {
	var tt tokenTable
	var bands [MaxBands]BandConfig
	bands[1].Tokens = 2
	tt.init(16, 0, &bands)
	for i := 0; i < 2; i++ {
		if _, _, err := tt.consume(&Packet{}, 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := tt.consume(&Packet{}, 1); !errors.Is(err, ErrTokensExhausted) {
		t.Error("band quota not enforced:", err)
	}
	if _, _, err := tt.consume(&Packet{}, 0); err != nil {
		t.Error("quota of band 1 limited band 0:", err)
	}
	if tt.bandLen(1) != 2 || tt.bandLen(0) != 1 {
		t.Error("bad per band counts", tt.bandLen(0), tt.bandLen(1))
	}
}

func TestTokenTableReleaseAll(t *testing.T) {
	var tt tokenTable
	var bands [MaxBands]BandConfig
	tt.init(32, 4, &bands)
	const n = 29
	for i := 0; i < n; i++ {
		if _, _, err := tt.consume(&Packet{}, uint8(i%MaxBands)); err != nil {
			t.Fatal(err)
		}
	}
	if !tt.isBlocked() {
		t.Fatal("table past threshold not blocked")
	}
	var got []uint16
	tt.releaseAll(func(token uint16, p *Packet) {
		if p.Token() != token {
			t.Error("token mismatch", p.Token(), token)
		}
		got = append(got, token)
	})
	if len(got) != n {
		t.Fatalf("released %d packets, want %d", len(got), n)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatal("tokens not released in ascending order", got)
		}
	}
	if tt.len() != 0 || tt.isBlocked() {
		t.Error("table not reset", tt.len(), tt.isBlocked())
	}
	for b := uint8(0); b < MaxBands; b++ {
		if tt.bandLen(b) != 0 {
			t.Error("band count not reset", b)
		}
	}
}
