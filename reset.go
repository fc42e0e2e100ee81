package mt79

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/mt79/connac"
)

// RecoveryState is the phase of firmware recovery the device is in.
type RecoveryState uint8

const (
	RecoveryNormal RecoveryState = iota
	RecoveryFaultDetected
	RecoveryQuiescing
	RecoveryDMAReset
	RecoveryReinit
	RecoveryResuming
	RecoveryFullReset
	// RecoveryFailed is terminal: full restart attempts were exhausted and
	// the device rejects all transmissions.
	RecoveryFailed
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryNormal:
		return "normal"
	case RecoveryFaultDetected:
		return "fault-detected"
	case RecoveryQuiescing:
		return "quiescing"
	case RecoveryDMAReset:
		return "dma-reset"
	case RecoveryReinit:
		return "reinit"
	case RecoveryResuming:
		return "resuming"
	case RecoveryFullReset:
		return "full-reset"
	case RecoveryFailed:
		return "failed"
	}
	return "unknown"
}

// recovery holds the firmware recovery state shared between the interrupt
// side and the single recovery worker.
type recovery struct {
	// mcu is the last state word reported by firmware.
	mcu   atomic.Uint32
	phase atomic.Uint32
	// restart selects the full reset path for the queued job.
	restart    atomic.Bool
	fullReset  atomic.Bool
	hwInitDone atomic.Bool
	busy       atomic.Bool

	l1Reset     atomic.Uint32
	l1ResetLast atomic.Uint32
	waReset     atomic.Uint32
	wmReset     atomic.Uint32

	jobs chan struct{}
	done chan struct{}

	mu      sync.Mutex
	changed chan struct{}
}

func (r *recovery) init() {
	r.jobs = make(chan struct{}, 1)
	r.done = make(chan struct{})
	r.changed = make(chan struct{})
}

func (r *recovery) mcuState() connac.MCUState { return connac.MCUState(r.mcu.Load()) }

func (r *recovery) setPhase(s RecoveryState) { r.phase.Store(uint32(s)) }

// queue schedules a recovery job. At most one job is pending.
func (r *recovery) queue() bool {
	select {
	case r.jobs <- struct{}{}:
		return true
	default:
		return false
	}
}

// notify wakes waitState callers.
func (r *recovery) notify() {
	r.mu.Lock()
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

// waitState blocks until firmware reports any bit of mask or timeout elapses.
func (r *recovery) waitState(ctx context.Context, mask connac.MCUState, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		r.mu.Lock()
		ch := r.changed
		r.mu.Unlock()
		if r.mcuState()&mask != 0 {
			return true
		}
		select {
		case <-ch:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// RecoveryState returns the current recovery phase.
func (d *Device) RecoveryState() RecoveryState {
	return RecoveryState(d.rec.phase.Load())
}

// HandleMCUState records a firmware state word reported through the MCU
// command interrupt and schedules recovery. It never blocks.
func (d *Device) HandleMCUState(state connac.MCUState) {
	d.rec.mcu.Store(uint32(state))
	d.info("HandleMCUState", slog.String("state", state.String()))
	if !d.rec.hwInitDone.Load() || d.rec.fullReset.Load() {
		return
	}
	if state.HasWDT() {
		d.rec.restart.Store(true)
		d.hw.EnableMCUIRQ(false)
		d.rec.setPhase(RecoveryFaultDetected)
		d.rec.queue()
		d.warn("HandleMCUState:firmware-crash", slog.String("state", state.String()))
		d.rec.notify()
		return
	}
	if state&connac.MCUCmdStopDMA != 0 {
		d.rec.l1Reset.Add(1)
		// A running job already handles the handshake.
		if !d.rec.busy.Load() {
			d.rec.setPhase(RecoveryFaultDetected)
			d.rec.queue()
		}
	}
	d.rec.notify()
}

// recoveryWorker runs queued recovery jobs one at a time until the device
// is closed.
func (d *Device) recoveryWorker() {
	defer close(d.rec.done)
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.rec.jobs:
		}
		d.rec.busy.Store(true)
		d.resetWork(d.ctx)
		d.rec.busy.Store(false)
	}
}

func (d *Device) resetWork(ctx context.Context) {
	state := d.rec.mcuState()
	if d.rec.restart.Load() {
		d.hw.EnableWDTIRQ(false)
		if state&connac.MCUCmdWAWDT != 0 {
			d.rec.waReset.Add(1)
		} else {
			d.rec.wmReset.Add(1)
		}
		d.coreDump(state)
		err := d.fullReset(ctx)
		d.hw.EnableMCUIRQ(true)
		d.hw.EnableWDTIRQ(true)
		d.rec.mcu.Store(uint32(connac.MCUCmdNormalState))
		d.rec.restart.Store(false)
		if err != nil {
			d.failed.Store(true)
			d.rec.setPhase(RecoveryFailed)
			d.logerr("resetWork:full-reset-failed", slog.String("err", err.Error()))
			return
		}
		d.rec.setPhase(RecoveryNormal)
		return
	}
	if state&connac.MCUCmdStopDMA == 0 {
		if d.RecoveryState() == RecoveryFaultDetected {
			d.rec.setPhase(RecoveryNormal)
		}
		return
	}
	d.l1Reset(ctx)
}

func (d *Device) coreDump(state connac.MCUState) {
	cd, ok := d.hw.(CoreDumper)
	if !ok {
		return
	}
	if state&connac.MCUCmdWAWDT != 0 {
		cd.CoreDump(true)
	}
	if state&connac.MCUCmdWMWDT != 0 {
		cd.CoreDump(false)
	}
}

// l1Reset resets the DMA engine in a handshake with firmware, which keeps
// running. Outstanding packets are completed as failed.
func (d *Device) l1Reset(ctx context.Context) {
	start := time.Now()
	d.rec.l1ResetLast.Store(d.rec.l1Reset.Load())
	d.info("l1Reset:start", slog.Uint64("count", uint64(d.rec.l1Reset.Load())))

	d.rec.setPhase(RecoveryQuiescing)
	d.stack.StopQueues()
	d.setBandsReset(true)
	d.txw.disable()
	d.rxgate.close()

	d.mu.Lock()
	d.rec.setPhase(RecoveryDMAReset)
	d.hw.WriteMCUEvent(connac.MCUEventDMAStopped)
	if d.waitResetState(ctx, connac.MCUCmdResetDone) {
		if err := d.hw.DMAReset(false); err != nil {
			d.logerr("l1Reset:dma-reset", slog.String("err", err.Error()))
		}
		d.rec.setPhase(RecoveryReinit)
		d.tokenPut()
		d.hw.WriteMCUEvent(connac.MCUEventDMAInit)
		d.waitResetState(ctx, connac.MCUCmdRecoveryDone)
	}
	d.rec.setPhase(RecoveryResuming)
	d.hw.WriteMCUEvent(connac.MCUEventResetDone)
	d.waitResetState(ctx, connac.MCUCmdNormalState)
	if err := d.hw.DMAStart(); err != nil {
		d.logerr("l1Reset:dma-start", slog.String("err", err.Error()))
	}
	d.setBandsReset(false)
	d.mu.Unlock()

	d.rxgate.open()
	d.txw.enable()
	d.txw.schedule()
	d.stack.WakeQueues()
	d.updateBeacons(ctx)
	d.rec.setPhase(RecoveryNormal)
	d.info("l1Reset:done", slog.Duration("took", time.Since(start)))
}

func (d *Device) waitResetState(ctx context.Context, state connac.MCUState) bool {
	ok := d.rec.waitState(ctx, state, d.cfg.ResetTimeout)
	if !ok {
		d.warn("waitResetState", slog.String("want", state.String()), slog.String("have", d.rec.mcuState().String()), slog.String("err", ErrRecoveryTimeout.Error()))
	}
	return ok
}

// fullReset restarts the whole device after a firmware crash.
func (d *Device) fullReset(ctx context.Context) error {
	start := time.Now()
	d.rec.fullReset.Store(true)
	defer d.rec.fullReset.Store(false)
	d.rec.setPhase(RecoveryFullReset)
	d.info("fullReset:start")

	d.stack.StopQueues()
	d.setBandsReset(true)
	d.stopMACWork()
	monitored := d.stopMonitors()

	var err error
	d.mu.Lock()
	for i := 0; i < d.cfg.RestartAttempts; i++ {
		err = d.macRestart(ctx)
		if err == nil {
			break
		}
		d.warn("fullReset:attempt", slog.Int("attempt", i+1), slog.String("err", err.Error()))
		if ctx.Err() != nil {
			break
		}
	}
	d.mu.Unlock()
	if err != nil {
		d.stack.WakeQueues()
		return errjoin(ErrRestartExhausted, err)
	}

	d.stack.RestartHW()
	d.stack.WakeQueues()
	d.startMACWork()
	for _, vif := range monitored {
		if err := d.StartBeaconMonitor(vif); err != nil {
			d.warn("fullReset:monitor", slog.String("err", err.Error()))
		}
	}
	d.info("fullReset:done", slog.Duration("took", time.Since(start)))
	return nil
}

// macRestart reinitializes DMA and firmware and restarts the bands that were
// running. Must be called with d.mu held.
func (d *Device) macRestart(ctx context.Context) (err error) {
	d.hw.SetIRQMask(0)
	d.setBandsReset(true)
	d.txw.disable()
	d.rxgate.close()

	d.tokenPut()
	err = d.hw.DMAReset(true)
	d.rxgate.open()
	for _, b := range d.bands {
		b.mcuReset.Store(false)
	}
	d.hw.SetIRQMask(d.cfg.IRQMask)
	if err == nil {
		err = d.mcuInit(ctx)
	}

	for _, b := range d.bands {
		b.resetting.Store(false)
	}
	d.txw.enable()
	d.txw.schedule()
	return err
}

// mcuInit loads firmware and applies the baseline configuration.
func (d *Device) mcuInit(ctx context.Context) error {
	for _, cmd := range []MCUCmd{MCUCmdFirmwareInit, MCUCmdSetEEPROM, MCUCmdMACInit} {
		if _, err := d.mcu.SendCommand(ctx, cmd, nil); err != nil {
			return errjoin(errors.New(cmd.String()), err)
		}
	}
	for _, b := range d.bands {
		if b.cfg.Disabled {
			continue
		}
		if _, err := d.mcu.SendCommand(ctx, MCUCmdSetTxPower, []byte{b.idx}); err != nil {
			d.warn("mcuInit:txpower", slog.Uint64("band", uint64(b.idx)), slog.String("err", err.Error()))
		}
	}
	if _, err := d.mcu.SendCommand(ctx, MCUCmdTxBFInit, nil); err != nil {
		d.warn("mcuInit:txbf", slog.String("err", err.Error()))
	}
	for _, b := range d.bands {
		if !b.running.Load() {
			continue
		}
		if _, err := d.mcu.SendCommand(ctx, MCUCmdRunBand, []byte{b.idx}); err != nil {
			return errjoin(errors.New(MCUCmdRunBand.String()), err)
		}
	}
	return nil
}

// updateBeacons reprograms the beacons of every beaconing interface link.
func (d *Device) updateBeacons(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, vif := range d.reg.Vifs(nil) {
		if !vif.Type.beacons() {
			continue
		}
		valid := vif.ValidLinks()
		for id := uint8(0); id < MaxLinks; id++ {
			if valid&(1<<id) == 0 {
				continue
			}
			link, ok := vif.Link(id)
			tmpl := d.stack.BeaconTemplate(vif, id)
			if !ok || tmpl == nil {
				continue
			}
			payload := make([]byte, 0, 3+len(tmpl))
			payload = append(payload, link.Band, link.OMACIdx, id)
			payload = append(payload, tmpl...)
			if _, err := d.mcu.SendCommand(ctx, MCUCmdAddBeacon, payload); err != nil {
				d.warn("updateBeacons", slog.Uint64("link", uint64(id)), slog.String("err", err.Error()))
			}
		}
	}
}

// RecoveryCounters are the firmware recovery counters.
type RecoveryCounters struct {
	L1Resets uint32
	// WAResets and WMResets count full resets caused by a watchdog of the
	// offload and main firmware cores.
	WAResets uint32
	WMResets uint32
	MCUState connac.MCUState
	State    RecoveryState
}

// RecoveryCounters returns a copy of the firmware recovery counters.
func (d *Device) RecoveryCounters() RecoveryCounters {
	return RecoveryCounters{
		L1Resets: d.rec.l1Reset.Load(),
		WAResets: d.rec.waReset.Load(),
		WMResets: d.rec.wmReset.Load(),
		MCUState: d.rec.mcuState(),
		State:    d.RecoveryState(),
	}
}
