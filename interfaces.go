package mt79

import (
	"context"

	"github.com/soypat/mt79/connac"
)

// Hardware is the bus and DMA engine of the co-processor. Interrupt
// handlers of the bus glue call back into the Device with
// OnDescriptorReady and HandleMCUState.
type Hardware interface {
	// SetIRQMask programs the host interrupt mask. Zero masks all sources.
	SetIRQMask(mask uint32)
	// EnableMCUIRQ enables or disables the MCU command interrupt.
	EnableMCUIRQ(enable bool)
	// EnableWDTIRQ enables or disables firmware watchdog reporting.
	EnableWDTIRQ(enable bool)
	// WriteMCUEvent acknowledges a recovery handshake step to firmware.
	WriteMCUEvent(ev connac.MCUEvent)
	// DMAReset resets all rings. force also resets the hardware DMA engine.
	DMAReset(force bool) error
	DMAStart() error
	// Submit queues a prepared frame on band. head holds the TX descriptor
	// followed by the firmware block and is owned by p.
	Submit(band uint8, p *Packet, head []byte) error
	// SyncForCPU and SyncForDevice bracket CPU writes to a mapped frame.
	SyncForCPU(p *Packet)
	SyncForDevice(p *Packet)
	// ReadMIB reads and clears the hardware MIB counters of band.
	ReadMIB(band uint8, s *MIBSample) error
}

// CoreDumper is implemented by hardware that can capture firmware memory
// after a watchdog fault. dumpWA selects the offload core.
type CoreDumper interface {
	CoreDump(dumpWA bool)
}

// MCU is the firmware command channel.
type MCU interface {
	SendCommand(ctx context.Context, cmd MCUCmd, payload []byte) ([]byte, error)
	// RxEvent receives unsolicited firmware event buffers.
	RxEvent(buf []byte)
}

// Stack is the upper network stack the device reports to.
type Stack interface {
	// Receive delivers a classified frame. frame aliases the descriptor
	// buffer and is only valid during the call.
	Receive(status *RxStatus, frame []byte)
	// TxComplete hands over a batch of completed packets. Each transmitted
	// packet is completed exactly once.
	TxComplete(done []TxCompletion)
	StopQueues()
	WakeQueues()
	// RestartHW asks the stack to reprogram interfaces after a full reset.
	RestartHW()
	ConnectionLoss(vif *Vif)
	FirmwareLog(buf []byte)
	// BeaconTemplate returns the current beacon of a beaconing interface
	// link, or nil if it has none.
	BeaconTemplate(vif *Vif, linkID uint8) []byte
}

// StationRegistry resolves connection indices to connections and peers.
// Implementations must be safe for concurrent use.
type StationRegistry interface {
	// ResolveWCID returns the live connection with index idx or nil.
	ResolveWCID(idx uint16) *WCID
	// GlobalWCID returns the connection used for frames without a peer.
	GlobalWCID() *WCID
	// Peer returns the station owning w, or nil.
	Peer(w *WCID) *Station
	// PeerLink returns the connection of sta on linkID, or nil if the link
	// is not valid.
	PeerLink(sta *Station, linkID uint8) *WCID
	// Stations appends the live stations to dst.
	Stations(dst []*Station) []*Station
	// Vifs appends the live interfaces to dst.
	Vifs(dst []*Vif) []*Vif
	EnqueueRCEvent(w *WCID, changed RCChange)
	StartBASession(w *WCID, tid uint8) error
	RefreshBASession(w *WCID, tid uint8)
}

// RCChange flags rate control relevant changes of a connection.
type RCChange uint8

const (
	RCChangedBW RCChange = 1 << iota
	RCChangedNSS
	RCChangedRate
)

// MCUCmd identifies a firmware command.
type MCUCmd uint16

const (
	MCUCmdFirmwareInit MCUCmd = iota + 1
	MCUCmdSetEEPROM
	MCUCmdMACInit
	MCUCmdSetTxPower
	MCUCmdTxBFInit
	MCUCmdRunBand
	MCUCmdAddBeacon
	MCUCmdAllStaTxRxRate
	MCUCmdAllStaAirTime
	MCUCmdAllStaAdmStat
	MCUCmdAllStaMSDUCount
	MCUCmdAllStaRxMPDUCount
	MCUCmdStaRSSI
	MCUCmdStaSNR
	MCUCmdStaPktCount
	MCUCmdBSSAcqPktCount
)

func (c MCUCmd) String() string {
	switch c {
	case MCUCmdFirmwareInit:
		return "firmware-init"
	case MCUCmdSetEEPROM:
		return "set-eeprom"
	case MCUCmdMACInit:
		return "mac-init"
	case MCUCmdSetTxPower:
		return "set-txpower"
	case MCUCmdTxBFInit:
		return "txbf-init"
	case MCUCmdRunBand:
		return "run-band"
	case MCUCmdAddBeacon:
		return "add-beacon"
	case MCUCmdAllStaTxRxRate:
		return "all-sta-txrx-rate"
	case MCUCmdAllStaAirTime:
		return "all-sta-airtime"
	case MCUCmdAllStaAdmStat:
		return "all-sta-adm-stat"
	case MCUCmdAllStaMSDUCount:
		return "all-sta-msdu-count"
	case MCUCmdAllStaRxMPDUCount:
		return "all-sta-rx-mpdu-count"
	case MCUCmdStaRSSI:
		return "sta-rssi"
	case MCUCmdStaSNR:
		return "sta-snr"
	case MCUCmdStaPktCount:
		return "sta-pkt-count"
	case MCUCmdBSSAcqPktCount:
		return "bss-acq-pkt-count"
	}
	return "unknown"
}
