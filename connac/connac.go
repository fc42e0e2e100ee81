// Package connac implements the descriptor wire format shared between the host
// and the MAC co-processor firmware: RX descriptor groups, TX descriptor words,
// TX-free and TX-status notifications and the firmware recovery handshake bits.
//
// All descriptors are sequences of little-endian 32-bit words. Decoding never
// reads past the provided buffer and never copies frame payload.
package connac

import (
	"encoding/binary"
	"math/bits"

	"golang.org/x/exp/constraints"
)

// WordSize is the size of a descriptor word in bytes.
const WordSize = 4

var order = binary.LittleEndian

// PacketType is the tag found in bits 31:27 of the first descriptor word of
// every buffer the co-processor delivers to the host.
type PacketType uint8

const (
	PktTypeTXS        PacketType = 0x00
	PktTypeTXRXV      PacketType = 0x01
	PktTypeNormal     PacketType = 0x02
	PktTypeDupRFB     PacketType = 0x03
	PktTypeTMR        PacketType = 0x04
	PktTypeRetrieve   PacketType = 0x05
	PktTypeTxRxNotify PacketType = 0x06
	PktTypeRxEvent    PacketType = 0x07
	PktTypeNormalMCU  PacketType = 0x08
	PktTypeFwMonitor  PacketType = 0x0c
)

func (p PacketType) String() (s string) {
	switch p {
	case PktTypeTXS:
		s = "txs"
	case PktTypeTXRXV:
		s = "txrxv"
	case PktTypeNormal:
		s = "normal"
	case PktTypeDupRFB:
		s = "dup-rfb"
	case PktTypeTMR:
		s = "tmr"
	case PktTypeRetrieve:
		s = "retrieve"
	case PktTypeTxRxNotify:
		s = "txrx-notify"
	case PktTypeRxEvent:
		s = "rx-event"
	case PktTypeNormalMCU:
		s = "normal-mcu"
	case PktTypeFwMonitor:
		s = "fw-monitor"
	default:
		s = "unknown"
	}
	return s
}

// Word returns the i'th little-endian word of b. Panics if b is too short.
func Word(b []byte, i int) uint32 {
	return order.Uint32(b[i*WordSize:])
}

// PutWord stores v as the i'th little-endian word of b.
func PutWord(b []byte, i int, v uint32) {
	order.PutUint32(b[i*WordSize:], v)
}

// FieldGet extracts the field selected by the contiguous mask from v.
func FieldGet[T constraints.Unsigned](mask, v T) T {
	return (v & mask) >> trailingZeros(mask)
}

// FieldPrep shifts v into the position of the contiguous mask. Bits of v
// that do not fit are discarded.
func FieldPrep[T constraints.Unsigned](mask, v T) T {
	return (v << trailingZeros(mask)) & mask
}

// FieldReplace returns word with the field selected by mask replaced by v.
func FieldReplace[T constraints.Unsigned](word, mask, v T) T {
	return word&^mask | FieldPrep(mask, v)
}

func trailingZeros[T constraints.Unsigned](v T) int {
	return bits.TrailingZeros64(uint64(v))
}

func b2u32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
