package mt79

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/mt79/connac"
)

// MaxLinks is the number of links of a multi-link device.
const MaxLinks = 15

// LinkUnspecified is the link id of frames not bound to a specific link.
const LinkUnspecified = MaxLinks

// WCID is a hardware connection table entry: one peer on one link, or the
// global entry used for frames without a peer. Identity fields are set
// when the connection is registered and are not modified afterwards.
type WCID struct {
	Idx    uint16
	LinkID uint8
	Band   uint8
	// LinkAddr is the peer address on this link.
	LinkAddr [6]byte
	// AMSDU enables hardware A-MSDU aggregation of 802.3 frames.
	AMSDU bool
	HT    bool
	HE    bool

	Stats WCIDStats

	sta      uint16
	hasSta   bool
	disabled atomic.Bool
	ampdu    atomic.Uint32
	// rate caches the last reported TX rate in the low 16 bits and the
	// bandwidth above them.
	rate     atomic.Uint32
	override atomic.Pointer[TestOverride]
	// rxChain counts received subframes of the current A-MSDU.
	rxChain atomic.Uint32
	// polled is guarded by the poll list lock.
	polled bool
}

// Disabled reports whether the link of this connection is inactive.
func (w *WCID) Disabled() bool { return w.disabled.Load() }

// SetDisabled marks the link of this connection inactive. Received frames
// attributed to a disabled link are accounted on an active link.
func (w *WCID) SetDisabled(v bool) { w.disabled.Store(v) }

// SetAMPDU records whether an aggregation session is active on tid.
func (w *WCID) SetAMPDU(tid uint8, active bool) {
	bit := uint32(1) << (tid & 0xf)
	if active {
		w.ampdu.Or(bit)
	} else {
		w.ampdu.And(^bit)
	}
}

// AMPDUActive reports whether an aggregation session is active on tid.
func (w *WCID) AMPDUActive(tid uint8) bool { return w.ampdu.Load()&(1<<(tid&0xf)) != 0 }

// claimAMPDU marks tid active and reports whether it was inactive before.
func (w *WCID) claimAMPDU(tid uint8) bool {
	bit := uint32(1) << (tid & 0xf)
	for {
		old := w.ampdu.Load()
		if old&bit != 0 {
			return false
		}
		if w.ampdu.CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

// SetTestOverride installs or, with nil, removes a transmit override.
func (w *WCID) SetTestOverride(o *TestOverride) { w.override.Store(o) }

// TxRate returns the last TX rate and bandwidth reported by firmware.
func (w *WCID) TxRate() (rate connac.TxRate, bw uint8) {
	v := w.rate.Load()
	return connac.TxRate(v), uint8(v >> 16)
}

// rateIndex returns the rate index reported in completions, or -1 if no
// rate was reported yet.
func (w *WCID) rateIndex() int {
	v := w.rate.Load()
	if v == 0 {
		return -1
	}
	r := connac.TxRate(v)
	switch r.Mode() {
	case connac.PhyHT, connac.PhyHTGF:
		return int(r.Index()) + int(r.NSS()-1)*8
	case connac.PhyVHT, connac.PhyHESU, connac.PhyHEExtSU, connac.PhyHETB, connac.PhyHEMU,
		connac.PhyEHTSU, connac.PhyEHTTrig, connac.PhyEHTMU:
		return int(r.NSS()-1)<<4 | int(r.Index())
	}
	return int(r.Index())
}

// TestOverride forces the transmit parameters of large data frames sent to
// a peer. It is used for RF testing.
type TestOverride struct {
	Mode    connac.PhyType
	RateIdx uint8
	NSS     uint8
	STBC    bool
	// BW is the TXD6 bandwidth code.
	BW uint8
	// TxPower is in half dB units.
	TxPower int8
	// XmitCount is the number of transmissions. Zero sends once without
	// waiting for an acknowledgement.
	XmitCount uint8
}

// Station is a peer. Multi-link peers hold one WCID per valid link.
type Station struct {
	Addr [6]byte
	Vif  *Vif
	MLO  bool
	WME  bool
	// DefLink and SecLink are the primary and secondary links of a
	// multi-link peer.
	DefLink uint8
	SecLink uint8

	idx       uint16
	validMask atomic.Uint32
	links     [MaxLinks]atomic.Uint32
	lastADDBA [16]atomic.Int64
}

// ValidLinks returns the bitmask of valid link ids.
func (s *Station) ValidLinks() uint16 { return uint16(s.validMask.Load()) }

func (s *Station) linkWCID(linkID uint8) (idx uint16, ok bool) {
	if linkID >= MaxLinks || s.ValidLinks()&(1<<linkID) == 0 {
		return 0, false
	}
	return uint16(s.links[linkID].Load()), true
}

// VifType is the operating mode of an interface.
type VifType uint8

const (
	VifStation VifType = iota
	VifAP
	VifMesh
	VifAdHoc
	VifMonitor
)

// beacons reports whether the interface transmits beacons.
func (t VifType) beacons() bool { return t == VifAP || t == VifMesh || t == VifAdHoc }

// VifLink is the per-link configuration of an interface.
type VifLink struct {
	LinkID  uint8
	Band    uint8
	OMACIdx uint8
	WMMIdx  uint8
	BSSIdx  uint8
	Addr    [6]byte
	BSSID   [6]byte

	BeaconInterval time.Duration
	HWBeaconProt   bool
	// Rate table indices used for fixed rate frames.
	McastRatesIdx  uint8
	BeaconRatesIdx uint8
	BasicRatesIdx  uint8
	// BSSWCID is the connection of the BSS peer, used for connection
	// monitoring probes.
	BSSWCID uint16
}

// Vif is a virtual interface. Links live in a fixed arena indexed by link
// id with a validity bitmask.
type Vif struct {
	Addr [6]byte
	Type VifType
	MLD  bool

	mu    sync.Mutex
	links [MaxLinks]VifLink
	valid uint16
	// Connection monitoring state, guarded by mu.
	mon       [MaxBands]bandMonitor
	lostLinks uint16
	txPaused  uint16
}

// NewVif returns an interface without links.
func NewVif(addr [6]byte, typ VifType, mld bool) *Vif {
	return &Vif{Addr: addr, Type: typ, MLD: mld}
}

// AddLink configures link l.LinkID.
func (v *Vif) AddLink(l VifLink) error {
	if l.LinkID >= MaxLinks {
		return ErrLinkID
	}
	if l.Band >= MaxBands {
		return ErrBadBand
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.valid&(1<<l.LinkID) != 0 {
		return ErrLinkExists
	}
	v.links[l.LinkID] = l
	v.valid |= 1 << l.LinkID
	return nil
}

// RemoveLink drops link id and its monitoring state.
func (v *Vif) RemoveLink(id uint8) {
	if id >= MaxLinks {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.valid&(1<<id) == 0 {
		return
	}
	v.valid &^= 1 << id
	v.lostLinks &^= 1 << id
	v.mon[v.links[id].Band] = bandMonitor{}
}

// Link returns a copy of the configuration of link id.
func (v *Vif) Link(id uint8) (VifLink, bool) {
	if id >= MaxLinks {
		return VifLink{}, false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.links[id], v.valid&(1<<id) != 0
}

// ValidLinks returns the bitmask of configured link ids.
func (v *Vif) ValidLinks() uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.valid
}

// SetTxPaused pauses or resumes transmission on link id. Paused links are
// not probed by the connection monitor.
func (v *Vif) SetTxPaused(id uint8, paused bool) {
	if id >= MaxLinks {
		return
	}
	v.mu.Lock()
	if paused {
		v.txPaused |= 1 << id
	} else {
		v.txPaused &^= 1 << id
	}
	v.mu.Unlock()
}

// LostLinks returns the links declared lost by the connection monitor.
func (v *Vif) LostLinks() uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lostLinks
}

// bandLink returns the link on band. Must be called with v.mu held.
func (v *Vif) bandLink(band uint8) (uint8, bool) {
	for id := uint8(0); id < MaxLinks; id++ {
		if v.valid&(1<<id) != 0 && v.links[id].Band == band {
			return id, true
		}
	}
	return 0, false
}

// ctrlLink returns the lowest valid link, the one used for frames without a
// link binding.
func (v *Vif) ctrlLink() uint8 {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id := uint8(0); id < MaxLinks; id++ {
		if v.valid&(1<<id) != 0 {
			return id
		}
	}
	return 0
}

// WCIDStats are the per-connection counters. All fields are updated
// atomically and may be read at any time.
type WCIDStats struct {
	TxRetries   atomic.Uint64
	TxFailed    atomic.Uint64
	TxMPDUOk    atomic.Uint64
	TxAttempts  atomic.Uint64
	TxoAttempts atomic.Uint64
	TxoOk       atomic.Uint64
	TxoFail     atomic.Uint64

	RxRateIdx [14]atomic.Uint64
	RxBW      [connac.BWHERU + 1]atomic.Uint64
	RxRU106   atomic.Uint64
	RxNSS     [4]atomic.Uint64
	RxMode    [connac.PhyTypeMax]atomic.Uint64
	// RxAMPDULen buckets A-MPDU lengths by powers of two: 1, 2, 3-4, 5-8, ...
	RxAMPDULen [8]atomic.Uint64

	TxNSS  [4]atomic.Uint64
	TxMCS  [16]atomic.Uint64
	TxMode [connac.PhyTypeMax]atomic.Uint64
	TxBW   [5]atomic.Uint64

	Signal      atomic.Int32
	ChainSignal [4]atomic.Int32
}

// WCIDStatsSnapshot is a point in time copy of WCIDStats.
type WCIDStatsSnapshot struct {
	TxRetries, TxFailed, TxMPDUOk, TxAttempts uint64
	TxoAttempts, TxoOk, TxoFail               uint64

	RxRateIdx  [14]uint64
	RxBW       [connac.BWHERU + 1]uint64
	RxRU106    uint64
	RxNSS      [4]uint64
	RxMode     [connac.PhyTypeMax]uint64
	RxAMPDULen [8]uint64
	TxNSS      [4]uint64
	TxMCS      [16]uint64
	TxMode     [connac.PhyTypeMax]uint64
	TxBW       [5]uint64

	Signal      int8
	ChainSignal [4]int8
}

// Snapshot copies the counters.
func (s *WCIDStats) Snapshot() (snap WCIDStatsSnapshot) {
	snap.TxRetries = s.TxRetries.Load()
	snap.TxFailed = s.TxFailed.Load()
	snap.TxMPDUOk = s.TxMPDUOk.Load()
	snap.TxAttempts = s.TxAttempts.Load()
	snap.TxoAttempts = s.TxoAttempts.Load()
	snap.TxoOk = s.TxoOk.Load()
	snap.TxoFail = s.TxoFail.Load()
	loadAll(snap.RxRateIdx[:], s.RxRateIdx[:])
	loadAll(snap.RxBW[:], s.RxBW[:])
	snap.RxRU106 = s.RxRU106.Load()
	loadAll(snap.RxNSS[:], s.RxNSS[:])
	loadAll(snap.RxMode[:], s.RxMode[:])
	loadAll(snap.RxAMPDULen[:], s.RxAMPDULen[:])
	loadAll(snap.TxNSS[:], s.TxNSS[:])
	loadAll(snap.TxMCS[:], s.TxMCS[:])
	loadAll(snap.TxMode[:], s.TxMode[:])
	loadAll(snap.TxBW[:], s.TxBW[:])
	snap.Signal = int8(s.Signal.Load())
	for i := range snap.ChainSignal {
		snap.ChainSignal[i] = int8(s.ChainSignal[i].Load())
	}
	return snap
}

func loadAll(dst []uint64, src []atomic.Uint64) {
	for i := range dst {
		dst[i] = src[i].Load()
	}
}
