package mt79

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soypat/mt79/connac"
)

type fakeHW struct {
	mu        sync.Mutex
	submitted []*Packet
	submitErr error
	events    []connac.MCUEvent
	dmaResets []bool
	dmaStarts int
	irqMask   uint32
	mcuIRQ    bool
	wdtIRQ    bool
	dumps     []bool
	// onEvent is called without the fake's lock held.
	onEvent func(ev connac.MCUEvent)
}

func (h *fakeHW) SetIRQMask(mask uint32) {
	h.mu.Lock()
	h.irqMask = mask
	h.mu.Unlock()
}

func (h *fakeHW) EnableMCUIRQ(enable bool) {
	h.mu.Lock()
	h.mcuIRQ = enable
	h.mu.Unlock()
}

func (h *fakeHW) EnableWDTIRQ(enable bool) {
	h.mu.Lock()
	h.wdtIRQ = enable
	h.mu.Unlock()
}

func (h *fakeHW) WriteMCUEvent(ev connac.MCUEvent) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	fn := h.onEvent
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *fakeHW) DMAReset(force bool) error {
	h.mu.Lock()
	h.dmaResets = append(h.dmaResets, force)
	h.mu.Unlock()
	return nil
}

func (h *fakeHW) DMAStart() error {
	h.mu.Lock()
	h.dmaStarts++
	h.mu.Unlock()
	return nil
}

func (h *fakeHW) Submit(band uint8, p *Packet, head []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.submitErr != nil {
		return h.submitErr
	}
	h.submitted = append(h.submitted, p)
	return nil
}

func (h *fakeHW) SyncForCPU(p *Packet)    {}
func (h *fakeHW) SyncForDevice(p *Packet) {}

func (h *fakeHW) ReadMIB(band uint8, s *MIBSample) error {
	s.RxMPDU = 10
	s.FCSErr = 1
	return nil
}

func (h *fakeHW) CoreDump(dumpWA bool) {
	h.mu.Lock()
	h.dumps = append(h.dumps, dumpWA)
	h.mu.Unlock()
}

func (h *fakeHW) nsubmitted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.submitted)
}

func (h *fakeHW) lastSubmitted() *Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.submitted) == 0 {
		return nil
	}
	return h.submitted[len(h.submitted)-1]
}

func (h *fakeHW) mcuEvents() []connac.MCUEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]connac.MCUEvent(nil), h.events...)
}

type fakeMCU struct {
	mu      sync.Mutex
	cmds    []MCUCmd
	fail    map[MCUCmd]error
	events  int
	payload map[MCUCmd][]byte
}

func (m *fakeMCU) SendCommand(ctx context.Context, cmd MCUCmd, payload []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmds = append(m.cmds, cmd)
	if m.payload == nil {
		m.payload = make(map[MCUCmd][]byte)
	}
	m.payload[cmd] = append([]byte(nil), payload...)
	return nil, m.fail[cmd]
}

func (m *fakeMCU) RxEvent(buf []byte) {
	m.mu.Lock()
	m.events++
	m.mu.Unlock()
}

func (m *fakeMCU) count(cmd MCUCmd) (n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cmds {
		if c == cmd {
			n++
		}
	}
	return n
}

type rxRecord struct {
	st    RxStatus
	frame []byte
}

type fakeStack struct {
	mu       sync.Mutex
	rx       []rxRecord
	done     []TxCompletion
	stops    int
	wakes    int
	restarts int
	lost     []*Vif
	fwlogs   int
	beacon   []byte
}

func (s *fakeStack) Receive(st *RxStatus, frame []byte) {
	s.mu.Lock()
	s.rx = append(s.rx, rxRecord{st: *st, frame: append([]byte(nil), frame...)})
	s.mu.Unlock()
}

func (s *fakeStack) TxComplete(done []TxCompletion) {
	s.mu.Lock()
	s.done = append(s.done, done...)
	s.mu.Unlock()
}

func (s *fakeStack) StopQueues() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeStack) WakeQueues() {
	s.mu.Lock()
	s.wakes++
	s.mu.Unlock()
}

func (s *fakeStack) RestartHW() {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

func (s *fakeStack) ConnectionLoss(vif *Vif) {
	s.mu.Lock()
	s.lost = append(s.lost, vif)
	s.mu.Unlock()
}

func (s *fakeStack) FirmwareLog(buf []byte) {
	s.mu.Lock()
	s.fwlogs++
	s.mu.Unlock()
}

func (s *fakeStack) BeaconTemplate(vif *Vif, linkID uint8) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beacon
}

func (s *fakeStack) completions() []TxCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TxCompletion(nil), s.done...)
}

func (s *fakeStack) received() []rxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rxRecord(nil), s.rx...)
}

type testDevice struct {
	*Device
	reg   *Registry
	hw    *fakeHW
	mcu   *fakeMCU
	stack *fakeStack
}

var (
	apAddr  = [6]byte{0x02, 0, 0, 0, 0, 0x01}
	staAddr = [6]byte{0x02, 0, 0, 0, 0, 0x02}
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tokens = 64
	cfg.TokenFreeThreshold = 4
	cfg.TxQueueDepth = 64
	cfg.MACWorkInterval = time.Hour
	cfg.ResetTimeout = time.Second
	cfg.RestartAttempts = 3
	return cfg
}

// newTestDevice returns a device that is not started, with cfgfn applied
// to its configuration.
func newTestDevice(t *testing.T, cfgfn func(*Config)) *testDevice {
	t.Helper()
	cfg := testConfig()
	if cfgfn != nil {
		cfgfn(&cfg)
	}
	td := &testDevice{
		reg:   NewRegistry(64),
		hw:    &fakeHW{},
		mcu:   &fakeMCU{},
		stack: &fakeStack{},
	}
	d, err := New(cfg, td.reg, td.mcu, td.hw, td.stack)
	if err != nil {
		t.Fatal(err)
	}
	td.Device = d
	return td
}

// startTestDevice returns a started device that is closed on test cleanup.
func startTestDevice(t *testing.T, cfgfn func(*Config)) *testDevice {
	t.Helper()
	td := newTestDevice(t, cfgfn)
	if err := td.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { td.Close() })
	return td
}

// addAP registers an access point interface with one link on band 0 using
// WMM set wmm, and a station peer on it.
func (td *testDevice) addAP(t *testing.T, wmm uint8) (*Vif, *Station, *WCID) {
	t.Helper()
	vif := NewVif(apAddr, VifAP, false)
	err := vif.AddLink(VifLink{LinkID: 0, Band: 0, OMACIdx: 1, WMMIdx: wmm, Addr: apAddr, BSSID: apAddr})
	if err != nil {
		t.Fatal(err)
	}
	td.reg.AddVif(vif)
	sta, err := td.reg.AddStation(vif, staAddr, false, true, StationLink{LinkID: 0, Band: 0, Addr: staAddr, HT: true})
	if err != nil {
		t.Fatal(err)
	}
	return vif, sta, td.reg.PeerLink(sta, 0)
}

// qosDataFrame returns an 802.11 QoS data frame from the AP to the station
// carrying an IPv4 LLC/SNAP payload.
func qosDataFrame(tid uint8) []byte {
	hdr := connac.Hdr{
		FC:    connac.FTypeData | connac.STypeQoSData | connac.FCtlFromDS,
		Addr1: staAddr,
		Addr2: apAddr,
		Addr3: apAddr,
	}
	frame := make([]byte, connac.Hdr3AddrLen+connac.QoSCtlLen+64)
	hdr.Put(frame)
	frame[connac.Hdr3AddrLen] = tid
	llc := frame[connac.Hdr3AddrLen+connac.QoSCtlLen:]
	copy(llc, connac.RFC1042Header[:])
	llc[6], llc[7] = 0x08, 0x00
	return frame
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var errFake = errors.New("fake failure")
