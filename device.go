// Package mt79 implements the host side core of a WiFi MAC co-processor
// driver: transmit token accounting, descriptor building, completion and
// TX-status processing, receive classification and firmware recovery.
//
// Bus glue delivers buffers with OnDescriptorReady and firmware recovery
// state with HandleMCUState. The upper stack submits packets with Transmit
// and receives frames and completions through the Stack interface.
package mt79

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Device is the co-processor core. All exported methods are safe for
// concurrent use.
type Device struct {
	// mu serializes configuration paths: MAC restart, periodic MAC work and
	// connection monitoring.
	mu  sync.Mutex
	cfg Config

	reg   StationRegistry
	mcu   MCU
	hw    Hardware
	stack Stack

	tokens tokenTable
	bands  [MaxBands]*band
	poll   pollList
	status statusTable
	txq    txQueue
	txw    worker
	rxgate gate
	rec    recovery

	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	closed   atomic.Bool
	failed   atomic.Bool
	monMu    sync.Mutex
	monitors map[*Vif]*loop

	stats         Counters
	logger        *slog.Logger
	_traceenabled bool
}

type band struct {
	idx     uint8
	cfg     BandConfig
	running atomic.Bool
	// resetting and mcuReset mirror the firmware reset flags of the band.
	resetting atomic.Bool
	mcuReset  atomic.Bool
	mib       MIBStats

	// A-MPDU reference tracking on receive.
	rxmu       sync.Mutex
	ampduRef   uint32
	ampduTs    uint32
	ampduValid bool

	macWork      *loop
	macWorkCount int
}

// Counters are device wide drop and error counters.
type Counters struct {
	RxLengthMismatch atomic.Uint64
	RxUnknownType    atomic.Uint64
	RxTooShort       atomic.Uint64
	RxGated          atomic.Uint64
	RxDropped        atomic.Uint64
	TxFreeMalformed  atomic.Uint64
	TxFreeUnknown    atomic.Uint64
	TxStatusUnknown  atomic.Uint64
	TxRejected       atomic.Uint64
	TxSubmitFailed   atomic.Uint64
}

// New returns a Device wired to its collaborators. It does not touch the
// hardware until Start.
func New(cfg Config, reg StationRegistry, mcu MCU, hw Hardware, stack Stack) (*Device, error) {
	if reg == nil || mcu == nil || hw == nil || stack == nil {
		return nil, ErrBadConfig
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &Device{
		cfg:      cfg,
		reg:      reg,
		mcu:      mcu,
		hw:       hw,
		stack:    stack,
		monitors: make(map[*Vif]*loop),
		logger:   cfg.Logger,
	}
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	d.tokens.init(cfg.Tokens, cfg.TokenFreeThreshold, &cfg.Bands)
	d.status.init()
	d.rec.init()
	d.txq.init(cfg.TxQueueDepth)
	for i := range d.bands {
		d.bands[i] = &band{idx: uint8(i), cfg: cfg.Bands[i]}
	}
	return d, nil
}

// Start runs the enabled bands and starts the background workers.
func (d *Device) Start(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	start := time.Now()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Lock()
	var err error
	for _, b := range d.bands {
		if b.cfg.Disabled {
			continue
		}
		_, err = d.mcu.SendCommand(ctx, MCUCmdRunBand, []byte{b.idx})
		if err != nil {
			err = errjoin(errors.New("run band"), err)
			break
		}
		b.running.Store(true)
	}
	d.mu.Unlock()
	if err != nil {
		d.cancel()
		d.started.Store(false)
		return err
	}
	d.txw.start(d.txWork)
	go d.recoveryWorker()
	d.startMACWork()
	d.rec.hwInitDone.Store(true)
	d.info("Start:done", slog.Duration("took", time.Since(start)))
	return nil
}

// Close stops every worker. Packets still held by the device are completed
// as failed.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if !d.started.Load() {
		return nil
	}
	d.rec.hwInitDone.Store(false)
	d.cancel()
	<-d.rec.done
	d.stopMonitors()
	d.stopMACWork()
	d.txw.stop()
	d.rxgate.close()
	d.failQueued(d.txq.drain())
	d.tokenPut()
	for _, b := range d.bands {
		b.running.Store(false)
	}
	return nil
}

// StopBand stops band. Frames received on a stopped band are dropped.
func (d *Device) StopBand(idx uint8) error {
	if idx >= MaxBands {
		return ErrBadBand
	}
	d.bands[idx].running.Store(false)
	return nil
}

// OnTokenExhausted returns a channel that is closed when the token table has
// room below its free threshold again. The channel is already closed when
// the table is not blocked.
func (d *Device) OnTokenExhausted() <-chan struct{} {
	return d.tokens.waitChan()
}

// Counters returns the device wide counters.
func (d *Device) Counters() *Counters { return &d.stats }

func (d *Device) bandAt(idx uint8) *band {
	if idx >= MaxBands {
		return nil
	}
	return d.bands[idx]
}

// firstRunningBand returns the lowest running band, which carries the
// device wide periodic work.
func (d *Device) firstRunningBand() *band {
	for _, b := range d.bands {
		if b.running.Load() {
			return b
		}
	}
	return nil
}

func (d *Device) setBandsReset(v bool) {
	for _, b := range d.bands {
		b.resetting.Store(v)
		b.mcuReset.Store(v)
	}
}

func (d *Device) resetting() bool {
	for _, b := range d.bands {
		if b.resetting.Load() {
			return true
		}
	}
	return false
}

// pollList queues connections whose firmware statistics should be fetched.
type pollList struct {
	mu   sync.Mutex
	list []*WCID
}

func (l *pollList) add(w *WCID) {
	if w == nil {
		return
	}
	l.mu.Lock()
	if !w.polled {
		w.polled = true
		l.list = append(l.list, w)
	}
	l.mu.Unlock()
}

// take removes up to max live connections from the front of the list.
// Connections for which live reports false are dropped without counting.
func (l *pollList) take(dst []uint16, max int, live func(*WCID) bool) []uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, i := 0, 0
	for ; i < len(l.list) && n < max; i++ {
		w := l.list[i]
		w.polled = false
		if live != nil && !live(w) {
			continue
		}
		dst = append(dst, w.Idx)
		n++
	}
	l.list = append(l.list[:0], l.list[i:]...)
	return dst
}

func (l *pollList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.list)
}

// MIBStats are per band counters updated by the data path and the periodic
// MIB sampling.
type MIBStats struct {
	RxSkb          atomic.Uint64
	RxAMSDUErr     atomic.Uint64
	RxMaxLenErr    atomic.Uint64
	RxNullChannels atomic.Uint64
	RxTooShort     atomic.Uint64
	RxBadHTRix     atomic.Uint64
	RxBadVHTRix    atomic.Uint64
	RxBadMode      atomic.Uint64
	RxBadBW        atomic.Uint64
	RxPkts         atomic.Uint64
	RxBytes        atomic.Uint64
	RxAMSDU        atomic.Uint64
	RxAMSDUChain   [8]atomic.Uint64
	TxPkts         atomic.Uint64
	TxBytes        atomic.Uint64
	TxHWDrop       atomic.Uint64
	TxMCUDrop      atomic.Uint64

	FCSErr         atomic.Uint64
	RxFIFOFull     atomic.Uint64
	RxMPDU         atomic.Uint64
	ChannelIdle    atomic.Uint64
	TxAMPDU        atomic.Uint64
	TxMPDUAttempts atomic.Uint64
	TxMPDUSuccess  atomic.Uint64
	RxAMPDU        atomic.Uint64
	RxAMPDUBytes   atomic.Uint64
	RTS            atomic.Uint64
	RTSRetries     atomic.Uint64
	BAMiss         atomic.Uint64
	AckFail        atomic.Uint64
	TxAMSDU        atomic.Uint64
	TxAggr         [16]atomic.Uint64
}

// MIBSample is one reading of the hardware MIB counters, which clear on read.
type MIBSample struct {
	FCSErr         uint32
	RxFIFOFull     uint32
	RxMPDU         uint32
	ChannelIdle    uint32
	TxAMPDU        uint32
	TxMPDUAttempts uint32
	TxMPDUSuccess  uint32
	RxAMPDU        uint32
	RxAMPDUBytes   uint32
	RTS            uint32
	RTSRetries     uint32
	BAMiss         uint32
	AckFail        uint32
	TxAMSDU        uint32
	TxAggr         [16]uint32
}

func (m *MIBStats) add(s *MIBSample) {
	m.FCSErr.Add(uint64(s.FCSErr))
	m.RxFIFOFull.Add(uint64(s.RxFIFOFull))
	m.RxMPDU.Add(uint64(s.RxMPDU))
	m.ChannelIdle.Add(uint64(s.ChannelIdle))
	m.TxAMPDU.Add(uint64(s.TxAMPDU))
	m.TxMPDUAttempts.Add(uint64(s.TxMPDUAttempts))
	m.TxMPDUSuccess.Add(uint64(s.TxMPDUSuccess))
	m.RxAMPDU.Add(uint64(s.RxAMPDU))
	m.RxAMPDUBytes.Add(uint64(s.RxAMPDUBytes))
	m.RTS.Add(uint64(s.RTS))
	m.RTSRetries.Add(uint64(s.RTSRetries))
	m.BAMiss.Add(uint64(s.BAMiss))
	m.AckFail.Add(uint64(s.AckFail))
	m.TxAMSDU.Add(uint64(s.TxAMSDU))
	for i, v := range s.TxAggr {
		m.TxAggr[i].Add(uint64(v))
	}
}
