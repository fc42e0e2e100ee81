package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/soypat/mt79"
	"github.com/soypat/mt79/connac"
)

var (
	errFlushTimeout = errors.New("timeout waiting for transmit queue to drain")
	errBadEntry     = errors.New("malformed trace entry")
)

type entryKind uint8

const (
	kindNone entryKind = iota
	kindRx
	kindTx
	kindState
	kindFlush
	kindSleep
)

type entry struct {
	kind  entryKind
	data  []byte
	state connac.MCUState
	sleep time.Duration
}

// parseEntry parses one trace line. Blank lines and lines starting with '#'
// yield kindNone. Hex data may contain whitespace between bytes.
func parseEntry(line string) (e entry, err error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return e, nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "rx", "tx":
		e.kind = kindRx
		if cmd == "tx" {
			e.kind = kindTx
		}
		e.data, err = hex.DecodeString(strings.Join(strings.Fields(arg), ""))
		if err == nil && len(e.data) == 0 {
			err = errBadEntry
		}
	case "state":
		var v uint64
		v, err = strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 32)
		e.kind, e.state = kindState, connac.MCUState(v)
	case "flush":
		e.kind = kindFlush
	case "sleep":
		e.kind = kindSleep
		e.sleep, err = time.ParseDuration(arg)
	default:
		err = fmt.Errorf("%w: unknown kind %q", errBadEntry, cmd)
	}
	return e, err
}

// loopbackHW accepts every submission and produces a TX-free notification
// reporting it delivered on the first attempt.
type loopbackHW struct {
	mu      sync.Mutex
	pending [][]byte
	total   int
	mask    uint32
}

var _ mt79.CoreDumper = (*loopbackHW)(nil)

func (h *loopbackHW) SetIRQMask(mask uint32) {
	h.mu.Lock()
	h.mask = mask
	h.mu.Unlock()
}

func (h *loopbackHW) EnableMCUIRQ(bool)                    {}
func (h *loopbackHW) EnableWDTIRQ(bool)                    {}
func (h *loopbackHW) WriteMCUEvent(connac.MCUEvent)        {}
func (h *loopbackHW) DMAReset(force bool) error            { return nil }
func (h *loopbackHW) DMAStart() error                      { return nil }
func (h *loopbackHW) SyncForCPU(p *mt79.Packet)            {}
func (h *loopbackHW) SyncForDevice(p *mt79.Packet)         {}
func (h *loopbackHW) CoreDump(dumpWA bool)                 {}
func (h *loopbackHW) ReadMIB(uint8, *mt79.MIBSample) error { return nil }

func (h *loopbackHW) Submit(band uint8, p *mt79.Packet, head []byte) error {
	txd, err := connac.DecodeTXD(head)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.pending = append(h.pending, txFreeFor(txd.WlanIdx(), p.Token()))
	h.total++
	h.mu.Unlock()
	return nil
}

func (h *loopbackHW) submitted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// drain returns the notifications of frames submitted since the last call.
func (h *loopbackHW) drain() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	bufs := h.pending
	h.pending = nil
	return bufs
}

func txFreeFor(wcid, token uint16) []byte {
	buf := make([]byte, (connac.TxFreeEntryWords+3)*connac.WordSize)
	connac.PutTxFreeHeader(buf, connac.TxFreeMinVersion, 1, len(buf))
	connac.PutWord(buf, 2, uint32(connac.TxFreePair(wcid)))
	connac.PutWord(buf, 3, uint32(connac.TxFreeHeaderEntry(1, connac.TxStatOK)))
	connac.PutWord(buf, 4, uint32(connac.TxFreeTokens(token, connac.TxFreeInfoMSDUID)))
	return buf
}

// loopbackMCU acknowledges every firmware command.
type loopbackMCU struct {
	logger *slog.Logger
}

func (m *loopbackMCU) SendCommand(ctx context.Context, cmd mt79.MCUCmd, payload []byte) ([]byte, error) {
	m.logger.Debug("mcu:cmd", slog.String("cmd", cmd.String()), slog.Int("len", len(payload)))
	return nil, nil
}

func (m *loopbackMCU) RxEvent(buf []byte) {
	m.logger.Info("mcu:event", slog.Int("len", len(buf)))
}

// logStack logs what the device reports.
type logStack struct {
	logger    *slog.Logger
	mu        sync.Mutex
	completed int
	drops     int
	received  int
}

func (s *logStack) Receive(st *mt79.RxStatus, frame []byte) {
	s.mu.Lock()
	s.received++
	s.mu.Unlock()
	attrs := []slog.Attr{
		slog.Uint64("band", uint64(st.Band)),
		slog.Int("signal", int(st.Signal)),
		slog.Int("len", len(frame)),
	}
	if st.WCID != nil {
		attrs = append(attrs, slog.Uint64("wcid", uint64(st.WCID.Idx)))
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "stack:rx", attrs...)
}

func (s *logStack) TxComplete(done []mt79.TxCompletion) {
	s.mu.Lock()
	s.completed += len(done)
	for _, c := range done {
		if c.Stat != connac.TxStatOK {
			s.drops++
		}
	}
	s.mu.Unlock()
	for _, c := range done {
		s.logger.Info("stack:tx-done", slog.Uint64("wcid", uint64(c.WCID)), slog.Bool("acked", c.Acked), slog.Uint64("stat", uint64(c.Stat)))
	}
}

func (s *logStack) counts() (completed, received int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.received
}

func (s *logStack) dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

func (s *logStack) StopQueues() { s.logger.Info("stack:stop-queues") }
func (s *logStack) WakeQueues() { s.logger.Info("stack:wake-queues") }
func (s *logStack) RestartHW()  { s.logger.Warn("stack:restart-hw") }
func (s *logStack) FirmwareLog(buf []byte) {
	s.logger.Debug("stack:fwlog", slog.Int("len", len(buf)))
}

func (s *logStack) ConnectionLoss(vif *mt79.Vif) {
	s.logger.Warn("stack:connection-loss")
}

func (s *logStack) BeaconTemplate(vif *mt79.Vif, linkID uint8) []byte { return nil }
