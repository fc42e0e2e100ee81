package mt79

import (
	"github.com/gopacket/gopacket/layers"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/mt79/connac"
)

// TxFlags modify how a packet is transmitted.
type TxFlags uint32

const (
	// TxHW8023 marks Data as an 802.3 frame the hardware encapsulates.
	TxHW8023 TxFlags = 1 << iota
	TxNoAck
	// TxReqStatus requests a TX-status report for the packet.
	TxReqStatus
	// TxInjected marks frames built by the device itself or injected by a
	// monitor interface.
	TxInjected
	// TxUseMinRate sends the frame at the basic rate.
	TxUseMinRate
	TxOffChannel
	TxInbandDiscovery
	TxBeacon
	// TxHWKey marks frames encrypted by hardware.
	TxHWKey
	// TxMLOLink asks firmware to keep the frame on the given link.
	TxMLOLink
)

// QueueID is the upper stack transmit queue. Values below QueuePSD are
// access categories.
type QueueID uint8

const (
	QueueVO QueueID = iota
	QueueVI
	QueueBE
	QueueBK
	QueuePSD
	QueueBeacon
	QueueCAB
)

// Packet is an outbound frame. The caller owns the packet until it is
// handed to Transmit and gets it back exactly once in a TxCompletion.
type Packet struct {
	// Data is an 802.3 frame when TxHW8023 is set and an 802.11 frame
	// otherwise.
	Data []byte
	// Bufs are the DMA segments holding Data. Frames built by the device
	// carry none and are mapped by Hardware.Submit.
	Bufs  []connac.DMABuf
	Flags TxFlags
	Queue QueueID
	TID   uint8
	// WCID is the destination connection. nil selects the global one.
	WCID *WCID
	Vif  *Vif
	// LinkID is the link chosen by the stack, or LinkUnspecified.
	LinkID uint8

	head  [connac.TXDSize + connac.TXPSize]byte
	token uint16
	band  uint8
	pid   uint8
	wcidx uint16
	txo   bool
}

// Head returns the descriptor bytes written in front of the frame.
func (p *Packet) Head() []byte { return p.head[:] }

// Token returns the token assigned on submission.
func (p *Packet) Token() uint16 { return p.token }

// Band returns the band the packet was submitted on.
func (p *Packet) Band() uint8 { return p.band }

func (p *Packet) is8023() bool { return p.Flags&TxHW8023 != 0 }

// fc returns the 802.11 frame control of the packet, synthesized for 802.3
// frames.
func (p *Packet) fc(wme bool) connac.FrameControl {
	if p.is8023() {
		if wme {
			return connac.FTypeData | connac.STypeQoSData
		}
		return connac.FTypeData
	}
	return connac.FrameFC(p.Data)
}

// ethertype returns the ethertype of the packet payload. 802.11 data frames
// are inspected past the LLC/SNAP header.
func (p *Packet) ethertype() (layers.EthernetType, bool) {
	if p.is8023() {
		efrm, err := ethernet.NewFrame(p.Data)
		if err != nil {
			return 0, false
		}
		et := efrm.EtherTypeOrSize()
		if et.IsSize() {
			return 0, false
		}
		return layers.EthernetType(et), true
	}
	fc := connac.FrameFC(p.Data)
	if !fc.IsData() {
		return 0, false
	}
	hlen := connac.HdrLen(fc)
	if len(p.Data) < hlen+8 {
		return 0, false
	}
	llc := p.Data[hlen:]
	if [6]byte(llc[:6]) != connac.RFC1042Header && [6]byte(llc[:6]) != connac.BridgeTunnelHeader {
		return 0, false
	}
	return layers.EthernetType(uint16(llc[6])<<8 | uint16(llc[7])), true
}

func (p *Packet) isEAPOL() bool {
	et, ok := p.ethertype()
	return ok && et == layers.EthernetTypeEAPOL
}

// TxCompletion reports the outcome of a transmitted packet.
type TxCompletion struct {
	Packet *Packet
	// WCID is the connection index the packet was accounted to.
	WCID      uint16
	LinkID    uint8
	LinkValid bool
	Acked     bool
	// Stat is the raw firmware outcome: 0 delivered, 1 dropped by hardware,
	// 2 dropped by firmware.
	Stat    uint8
	TxCount uint8
	// RateIdx is the last reported rate index of the connection or -1.
	RateIdx int
	// StatusTimeout is set when a requested TX-status report never arrived.
	StatusTimeout bool
}

// RxFlags describe a received frame.
type RxFlags uint32

const (
	RxOnlyMonitor RxFlags = 1 << iota
	RxFailedFCS
	RxMMICError
	RxDecrypted
	RxIVStripped
	RxMMICStripped
	RxPNChecked
	RxMACTimeStart
	RxAMPDUDetails
	Rx8023
	RxChecksumOK
	RxAMSDU
	RxFirstAMSDU
	RxLastAMSDU
	RxAMSDUPresent
)

// RxStatus is the classification of a received frame.
type RxStatus struct {
	Band uint8
	Freq uint16
	// WCID is the resolved connection or nil.
	WCID  *WCID
	Flags RxFlags
	Rate  connac.RxRate
	// Chains is the bitmask of receive chains.
	Chains      uint8
	ChainSignal [4]int8
	Signal      int8
	IV          [6]byte
	KeyID       uint8
	Timestamp   uint32
	AMPDURef    uint32
	// Aggregation info, valid when WCID is set for QoS data frames.
	Aggr   bool
	QoSCtl uint8
	SeqNo  uint16
}
