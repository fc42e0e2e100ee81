package mt79

import (
	"math/bits"
	"sync"
)

// StationLink describes one link of a peer being registered.
type StationLink struct {
	LinkID   uint8
	Band     uint8
	Addr     [6]byte
	AMSDU    bool
	HT       bool
	HE       bool
	Disabled bool
}

// Registry is an in-memory StationRegistry. Connections live in an arena
// indexed by their hardware index and peers refer to their links by index
// plus a validity bitmask.
type Registry struct {
	mu       sync.RWMutex
	wcids    []*WCID
	used     []uint32
	stations map[uint16]*Station
	nextSta  uint16
	vifs     []*Vif
	global   *WCID
	rc       map[uint16]RCChange

	// StartBA is called to request an aggregation session. A nil StartBA
	// accepts every request.
	StartBA func(w *WCID, tid uint8) error
	// RefreshBA is called when traffic flows on an active session.
	RefreshBA func(w *WCID, tid uint8)
}

var _ StationRegistry = (*Registry)(nil)

// NewRegistry returns a registry with size connection indices. The last
// index is reserved for the global connection.
func NewRegistry(size int) *Registry {
	if size < 2 {
		size = 2
	}
	r := &Registry{
		wcids:    make([]*WCID, size),
		used:     make([]uint32, (size+31)/32),
		stations: make(map[uint16]*Station),
		rc:       make(map[uint16]RCChange),
	}
	g := uint16(size - 1)
	r.global = &WCID{Idx: g, LinkID: LinkUnspecified}
	r.wcids[g] = r.global
	r.used[g/32] |= 1 << (g % 32)
	return r
}

// allocIdx returns the lowest free connection index. Must be called with
// r.mu held.
func (r *Registry) allocIdx() (uint16, bool) {
	for i, m := range r.used {
		free := ^m
		if free == 0 {
			continue
		}
		idx := i*32 + bits.TrailingZeros32(free)
		if idx >= len(r.wcids) {
			break
		}
		r.used[i] |= 1 << (idx % 32)
		return uint16(idx), true
	}
	return 0, false
}

func (r *Registry) freeIdx(idx uint16) {
	r.used[idx/32] &^= 1 << (idx % 32)
	r.wcids[idx] = nil
	delete(r.rc, idx)
}

// AddVif registers an interface so it is visited by beacon updates.
func (r *Registry) AddVif(v *Vif) {
	r.mu.Lock()
	r.vifs = append(r.vifs, v)
	r.mu.Unlock()
}

// RemoveVif unregisters v.
func (r *Registry) RemoveVif(v *Vif) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, vv := range r.vifs {
		if vv == v {
			r.vifs = append(r.vifs[:i], r.vifs[i+1:]...)
			return
		}
	}
}

// AddStation registers a peer of vif with the given links. The first link
// becomes the default link and the second, if any, the secondary link.
func (r *Registry) AddStation(vif *Vif, addr [6]byte, mlo, wme bool, links ...StationLink) (*Station, error) {
	if vif == nil {
		return nil, ErrNoVif
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sta := &Station{Addr: addr, Vif: vif, MLO: mlo, WME: wme, idx: r.nextSta}
	r.nextSta++
	for i, l := range links {
		if _, err := r.addLink(sta, l); err != nil {
			r.removeStation(sta)
			return nil, err
		}
		switch i {
		case 0:
			sta.DefLink = l.LinkID
			sta.SecLink = l.LinkID
		case 1:
			sta.SecLink = l.LinkID
		}
	}
	r.stations[sta.idx] = sta
	return sta, nil
}

// AddLink adds a link to a registered peer.
func (r *Registry) AddLink(sta *Station, l StationLink) (*WCID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addLink(sta, l)
}

func (r *Registry) addLink(sta *Station, l StationLink) (*WCID, error) {
	if l.LinkID >= MaxLinks {
		return nil, ErrLinkID
	}
	if l.Band >= MaxBands {
		return nil, ErrBadBand
	}
	if sta.ValidLinks()&(1<<l.LinkID) != 0 {
		return nil, ErrLinkExists
	}
	idx, ok := r.allocIdx()
	if !ok {
		return nil, ErrWCIDExhausted
	}
	w := &WCID{
		Idx:      idx,
		LinkID:   l.LinkID,
		Band:     l.Band,
		LinkAddr: l.Addr,
		AMSDU:    l.AMSDU,
		HT:       l.HT,
		HE:       l.HE,
		sta:      sta.idx,
		hasSta:   true,
	}
	w.disabled.Store(l.Disabled)
	r.wcids[idx] = w
	sta.links[l.LinkID].Store(uint32(idx))
	sta.validMask.Or(1 << l.LinkID)
	return w, nil
}

// RemoveLink invalidates a link of sta and frees its connection index.
func (r *Registry) RemoveLink(sta *Station, linkID uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := sta.linkWCID(linkID)
	if !ok {
		return
	}
	sta.validMask.And(^uint32(1 << linkID))
	r.freeIdx(idx)
}

// RemoveStation invalidates every link of sta.
func (r *Registry) RemoveStation(sta *Station) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeStation(sta)
}

func (r *Registry) removeStation(sta *Station) {
	valid := sta.ValidLinks()
	sta.validMask.Store(0)
	for id := uint8(0); id < MaxLinks; id++ {
		if valid&(1<<id) != 0 {
			r.freeIdx(uint16(sta.links[id].Load()))
		}
	}
	delete(r.stations, sta.idx)
}

func (r *Registry) ResolveWCID(idx uint16) *WCID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(idx) >= len(r.wcids) {
		return nil
	}
	return r.wcids[idx]
}

func (r *Registry) GlobalWCID() *WCID { return r.global }

func (r *Registry) Peer(w *WCID) *Station {
	if w == nil || !w.hasSta {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stations[w.sta]
}

func (r *Registry) PeerLink(sta *Station, linkID uint8) *WCID {
	if sta == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := sta.linkWCID(linkID)
	if !ok || int(idx) >= len(r.wcids) {
		return nil
	}
	return r.wcids[idx]
}

func (r *Registry) Stations(dst []*Station) []*Station {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.stations {
		dst = append(dst, s)
	}
	return dst
}

func (r *Registry) Vifs(dst []*Vif) []*Vif {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(dst, r.vifs...)
}

func (r *Registry) EnqueueRCEvent(w *WCID, changed RCChange) {
	r.mu.Lock()
	r.rc[w.Idx] |= changed
	r.mu.Unlock()
}

// TakeRCEvents removes and returns the pending rate control changes keyed by
// connection index.
func (r *Registry) TakeRCEvents() map[uint16]RCChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := r.rc
	r.rc = make(map[uint16]RCChange)
	return ev
}

func (r *Registry) StartBASession(w *WCID, tid uint8) error {
	if r.StartBA == nil {
		return nil
	}
	return r.StartBA(w, tid)
}

func (r *Registry) RefreshBASession(w *WCID, tid uint8) {
	if r.RefreshBA != nil {
		r.RefreshBA(w, tid)
	}
}
