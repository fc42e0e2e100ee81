package mt79

import "sync"

// tokenTable maps tokens handed to firmware back to the packets they
// identify. Tokens are allocated cyclically so a recently released token is
// not reused while a stale completion for it may still be in flight.
type tokenTable struct {
	mu        sync.Mutex
	pkts      []*Packet
	next      int
	count     int
	band      [MaxBands]int
	quota     [MaxBands]int
	threshold int
	blocked   bool
	// unblock is closed when a blocked table drops below the threshold.
	unblock chan struct{}
}

func (t *tokenTable) init(size, freeThreshold int, bands *[MaxBands]BandConfig) {
	t.pkts = make([]*Packet, size)
	t.threshold = size - freeThreshold
	for i := range t.quota {
		t.quota[i] = bands[i].Tokens
	}
	t.unblock = make(chan struct{})
}

// consume assigns a token to p on band. blocked reports that the table
// crossed the free threshold and transmission should pause.
func (t *tokenTable) consume(p *Packet, band uint8) (token uint16, blocked bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count >= len(t.pkts) || (t.quota[band] > 0 && t.band[band] >= t.quota[band]) {
		return 0, t.blocked, ErrTokensExhausted
	}
	n := len(t.pkts)
	for i := 0; i < n; i++ {
		idx := (t.next + i) % n
		if t.pkts[idx] != nil {
			continue
		}
		t.pkts[idx] = p
		t.next = (idx + 1) % n
		t.count++
		t.band[band]++
		p.token = uint16(idx)
		p.band = band
		if t.count >= t.threshold && !t.blocked {
			t.blocked = true
		}
		return uint16(idx), t.blocked, nil
	}
	return 0, t.blocked, ErrTokensExhausted
}

// release returns the packet of token, or nil if token is not live. wake
// reports that the table dropped below the free threshold.
func (t *tokenTable) release(token uint16) (p *Packet, wake bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(token) >= len(t.pkts) {
		return nil, false
	}
	p = t.pkts[token]
	if p == nil {
		return nil, false
	}
	t.pkts[token] = nil
	t.count--
	t.band[p.band]--
	if t.blocked && t.count < t.threshold {
		t.blocked = false
		close(t.unblock)
		t.unblock = make(chan struct{})
		wake = true
	}
	return p, wake
}

// releaseAll removes every live entry in ascending token order and resets
// the table. fn is called without the table lock held.
func (t *tokenTable) releaseAll(fn func(token uint16, p *Packet)) {
	t.mu.Lock()
	var live []*Packet
	for i, p := range t.pkts {
		if p != nil {
			live = append(live, p)
			t.pkts[i] = nil
		}
	}
	t.count = 0
	t.next = 0
	t.band = [MaxBands]int{}
	if t.blocked {
		t.blocked = false
		close(t.unblock)
		t.unblock = make(chan struct{})
	}
	t.mu.Unlock()
	for _, p := range live {
		fn(p.token, p)
	}
}

func (t *tokenTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *tokenTable) bandLen(band uint8) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.band[band]
}

// waitChan returns a channel that is closed once the table is not blocked.
func (t *tokenTable) waitChan() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.blocked {
		c := make(chan struct{})
		close(c)
		return c
	}
	return t.unblock
}

func (t *tokenTable) isBlocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blocked
}
