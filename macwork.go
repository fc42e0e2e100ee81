package mt79

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"
)

// startMACWork starts the periodic MAC work of every running band.
func (d *Device) startMACWork() {
	for _, b := range d.bands {
		if !b.running.Load() || b.macWork != nil {
			continue
		}
		b.macWorkCount = 0
		b := b
		b.macWork = startLoop(d.ctx, d.cfg.MACWorkInterval, func(ctx context.Context) (time.Duration, bool) {
			d.macWork(ctx, b)
			return d.cfg.MACWorkInterval, true
		})
	}
}

// stopMACWork cancels the periodic MAC work and waits for running work.
func (d *Device) stopMACWork() {
	for _, b := range d.bands {
		b.macWork.stop()
		b.macWork = nil
	}
}

// macWork samples the MIB counters of b every second run. The first running
// band also polls device wide firmware statistics. Every run expires overdue
// TX-status reports.
func (d *Device) macWork(ctx context.Context, b *band) {
	d.mu.Lock()
	b.macWorkCount++
	if b.macWorkCount >= 2 {
		b.macWorkCount = 0
		d.updateStats(b)
		if d.firstRunningBand() == b {
			d.updateDeviceStats(ctx)
		}
	}
	d.mu.Unlock()
	d.txStatusCheck(time.Now())
}

func (d *Device) updateStats(b *band) {
	var s MIBSample
	if err := d.hw.ReadMIB(b.idx, &s); err != nil {
		d.warn("updateStats:mib", slog.Uint64("band", uint64(b.idx)), slog.String("err", err.Error()))
		return
	}
	b.mib.add(&s)
}

func (d *Device) updateDeviceStats(ctx context.Context) {
	for _, cmd := range []MCUCmd{MCUCmdAllStaTxRxRate, MCUCmdAllStaAirTime} {
		d.queryStats(ctx, cmd, nil)
	}
	if err := d.staPoll(ctx); err != nil {
		d.debug("updateDeviceStats:poll", slog.String("err", err.Error()))
	}
	for _, cmd := range []MCUCmd{MCUCmdAllStaAdmStat, MCUCmdAllStaMSDUCount, MCUCmdAllStaRxMPDUCount, MCUCmdBSSAcqPktCount} {
		d.queryStats(ctx, cmd, nil)
	}
}

func (d *Device) queryStats(ctx context.Context, cmd MCUCmd, payload []byte) error {
	_, err := d.mcu.SendCommand(ctx, cmd, payload)
	if err != nil {
		d.debug("queryStats", slog.String("cmd", cmd.String()), slog.String("err", err.Error()))
	}
	return err
}

// staPoll requests per station firmware statistics for the connections
// queued on the poll list, at most Config.PollMaxStations per run.
func (d *Device) staPoll(ctx context.Context) error {
	// Connections removed since they were queued may have had their index
	// reused.
	ids := d.poll.take(nil, d.cfg.PollMaxStations, func(w *WCID) bool {
		return d.reg.ResolveWCID(w.Idx) == w
	})
	if len(ids) == 0 {
		return nil
	}
	payload := make([]byte, 2+2*len(ids))
	binary.LittleEndian.PutUint16(payload, uint16(len(ids)))
	for i, idx := range ids {
		binary.LittleEndian.PutUint16(payload[2+2*i:], idx)
	}
	for _, cmd := range []MCUCmd{MCUCmdStaRSSI, MCUCmdStaSNR, MCUCmdStaPktCount} {
		if err := d.queryStats(ctx, cmd, payload); err != nil {
			return err
		}
	}
	return nil
}

// txStatusCheck completes packets whose TX-status report is overdue.
func (d *Device) txStatusCheck(now time.Time) {
	done := d.status.expire(now, nil)
	if len(done) == 0 {
		return
	}
	d.debug("txStatusCheck:expired", slog.Int("n", len(done)))
	d.stack.TxComplete(done)
}
