package mt79

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/soypat/mt79/connac"
)

// defaultBeaconInterval is 100 time units.
const defaultBeaconInterval = 100 * 1024 * time.Microsecond

var errTxPaused = errors.New("transmission paused on link")

// bandMonitor is the connection monitoring state of a station interface on
// one band.
type bandMonitor struct {
	// probe is the in-flight nullfunc frame.
	probe          *Packet
	probeSendCount int
	probeSendTime  time.Time
	beaconReceived time.Time
}

type monState uint8

const (
	monBeacon monState = iota
	monSendProbe
	monLinkLost
)

// StartBeaconMonitor starts connection monitoring of a station interface.
// A link is probed with a nullfunc frame after Config.BeaconLossCount beacon
// intervals without a beacon and declared lost once Config.ProbeMaxTries
// probes go unacknowledged. Stack.ConnectionLoss is called when every link
// is lost, which also ends monitoring.
func (d *Device) StartBeaconMonitor(vif *Vif) error {
	if vif.Type != VifStation {
		return ErrNotStationVif
	}
	if !d.started.Load() || d.closed.Load() {
		return ErrNotStarted
	}
	d.monMu.Lock()
	defer d.monMu.Unlock()
	if l := d.monitors[vif]; l != nil && !l.finished() {
		return nil
	}
	now := time.Now()
	vif.mu.Lock()
	for i := range vif.mon {
		vif.mon[i] = bandMonitor{beaconReceived: now}
	}
	vif.lostLinks = 0
	vif.mu.Unlock()
	d.monitors[vif] = startLoop(d.ctx, 0, func(ctx context.Context) (time.Duration, bool) {
		return d.beaconMonWork(vif)
	})
	return nil
}

// StopBeaconMonitor stops connection monitoring of vif and waits for a
// running check to finish.
func (d *Device) StopBeaconMonitor(vif *Vif) {
	d.monMu.Lock()
	l := d.monitors[vif]
	delete(d.monitors, vif)
	d.monMu.Unlock()
	l.stop()
}

// stopMonitors stops every monitor and returns the interfaces that were
// still monitored.
func (d *Device) stopMonitors() []*Vif {
	d.monMu.Lock()
	var vifs []*Vif
	loops := make([]*loop, 0, len(d.monitors))
	for vif, l := range d.monitors {
		if !l.finished() {
			vifs = append(vifs, vif)
		}
		loops = append(loops, l)
		delete(d.monitors, vif)
	}
	d.monMu.Unlock()
	for _, l := range loops {
		l.stop()
	}
	return vifs
}

// beaconMonWork checks every monitored link of vif and returns the delay to
// the next deadline.
func (d *Device) beaconMonWork(vif *Vif) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	next := time.Duration(math.MaxInt64)
	disconnect := false
	for id := uint8(0); id < MaxLinks; id++ {
		bit := uint16(1) << id
		vif.mu.Lock()
		if vif.valid&bit == 0 || vif.lostLinks&bit != 0 {
			vif.mu.Unlock()
			continue
		}
		link := vif.links[id]
		m := &vif.mon[link.Band]
		txPaused := vif.txPaused&bit != 0
		state := monBeacon
		var deadline time.Time
		if m.probe != nil {
			deadline = m.probeSendTime.Add(d.cfg.ProbeTimeout)
			if !now.Before(deadline) {
				state = monSendProbe
				if m.probeSendCount >= d.cfg.ProbeMaxTries {
					state = monLinkLost
				}
			}
		} else {
			interval := link.BeaconInterval
			if interval <= 0 {
				interval = defaultBeaconInterval
			}
			deadline = m.beaconReceived.Add(time.Duration(d.cfg.BeaconLossCount) * interval)
			if !now.Before(deadline) {
				d.debug("beaconMon:beacon-loss", slog.Uint64("link", uint64(id)), slog.Uint64("band", uint64(link.Band)), slog.Int("beacons", d.cfg.BeaconLossCount))
				state = monSendProbe
			}
		}
		vif.mu.Unlock()

		var err error
		if state == monSendProbe {
			err = errTxPaused
			if !txPaused {
				err = d.sendProbe(vif, link)
			}
			if err == nil {
				deadline = now.Add(d.cfg.ProbeTimeout)
				d.debug("beaconMon:probe", slog.Uint64("link", uint64(id)), slog.String("bssid", macString(link.BSSID)))
			}
		}
		if state == monLinkLost || err != nil {
			vif.mu.Lock()
			vif.lostLinks |= bit
			m.probe = nil
			m.probeSendCount = 0
			allLost := vif.lostLinks == vif.valid
			vif.mu.Unlock()
			reason := "no ack for nullfunc frame"
			if err != nil {
				reason = err.Error()
			}
			d.info("beaconMon:link-lost", slog.Uint64("link", uint64(id)), slog.String("bssid", macString(link.BSSID)), slog.String("reason", reason))
			if allLost {
				disconnect = true
				break
			}
			continue
		}
		next = min(next, deadline.Sub(now))
	}
	if disconnect || next == math.MaxInt64 {
		d.info("beaconMon:disconnect")
		d.stack.ConnectionLoss(vif)
		return 0, false
	}
	return max(next, time.Millisecond), true
}

// sendProbe transmits a nullfunc frame to the access point of link and
// records it as the in-flight probe of the link's band.
func (d *Device) sendProbe(vif *Vif, link VifLink) error {
	w := d.reg.ResolveWCID(link.BSSWCID)
	if w == nil || w.Band != link.Band || d.reg.Peer(w) == nil {
		return ErrNoProbeRoute
	}
	if !validUnicast(link.BSSID) || !validUnicast(link.Addr) {
		return ErrInvalidProbeAddrs
	}
	hdr := connac.Hdr{
		FC:    connac.FTypeData | connac.STypeNullfunc | connac.FCtlToDS,
		Addr1: link.BSSID,
		Addr2: link.Addr,
		Addr3: link.BSSID,
	}
	frame := make([]byte, hdr.Len())
	if _, err := hdr.Put(frame); err != nil {
		return err
	}
	p := &Packet{
		Data:   frame,
		Flags:  TxReqStatus | TxInjected,
		Queue:  QueueVO,
		WCID:   w,
		Vif:    vif,
		LinkID: link.LinkID,
	}
	if vif.MLD {
		p.Flags |= TxMLOLink
	}
	vif.mu.Lock()
	m := &vif.mon[link.Band]
	prev := *m
	m.probe = p
	m.probeSendCount++
	m.probeSendTime = time.Now()
	vif.mu.Unlock()
	if err := d.Transmit(p); err != nil {
		vif.mu.Lock()
		*m = prev
		vif.mu.Unlock()
		return err
	}
	return nil
}

// probeAcked resets connection monitoring when the in-flight probe of a
// station interface was acknowledged.
func (d *Device) probeAcked(p *Packet, w *WCID) {
	if p.is8023() || !connac.FrameFC(p.Data).IsNullfunc() {
		return
	}
	sta := d.reg.Peer(w)
	if sta == nil || sta.Vif == nil {
		return
	}
	vif := sta.Vif
	vif.mu.Lock()
	for i := range vif.mon {
		if m := &vif.mon[i]; m.probe == p {
			m.probe = nil
			m.probeSendCount = 0
			m.beaconReceived = time.Now()
		}
	}
	vif.mu.Unlock()
}

func validUnicast(addr [6]byte) bool {
	return addr != [6]byte{} && !connac.IsMulticast(addr[:])
}
