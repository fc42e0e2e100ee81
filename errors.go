package mt79

import "errors"

// Admission and lifecycle errors.
var (
	ErrNotStarted        = errors.New("mt79: device not started")
	ErrAlreadyStarted    = errors.New("mt79: device already started")
	ErrClosed            = errors.New("mt79: device closed")
	ErrDeviceFailed      = errors.New("mt79: device failed recovery and is not functional")
	ErrResetInProgress   = errors.New("mt79: recovery in progress")
	ErrTokensExhausted   = errors.New("mt79: token table exhausted")
	ErrTxQueueFull       = errors.New("mt79: transmit queue full")
	ErrBadConfig         = errors.New("mt79: invalid configuration")
	ErrShortFrame        = errors.New("mt79: frame too short to transmit")
	ErrNoLink            = errors.New("mt79: no link configuration for frame")
	ErrNoStation         = errors.New("mt79: frame requires a station")
	ErrBandNotRunning    = errors.New("mt79: band not running")
	ErrBadBand           = errors.New("mt79: band index out of range")
	ErrTooManyBufs       = errors.New("mt79: too many DMA segments")
	ErrRestartExhausted  = errors.New("mt79: full restart attempts exhausted")
	ErrRecoveryTimeout   = errors.New("mt79: timed out waiting for firmware recovery state")
	ErrNoProbeRoute      = errors.New("mt79: no station link to probe")
	ErrInvalidProbeAddrs = errors.New("mt79: link address or bssid invalid for probe")
	ErrNotStationVif     = errors.New("mt79: connection monitoring requires a station interface")
)

// Registry errors.
var (
	ErrWCIDExhausted = errors.New("mt79: connection index space exhausted")
	ErrLinkID        = errors.New("mt79: link id out of range")
	ErrLinkExists    = errors.New("mt79: link already configured")
	ErrNoVif         = errors.New("mt79: station has no interface")
)

var (
	errTokensRange    = errors.New("token table size must be in 1..32767")
	errThresholdRange = errors.New("token free threshold must be below table size")
	errIntervalRange  = errors.New("intervals and timeouts must be positive")
)

// errjoin returns an error joining errs, skipping nil values.
func errjoin(errs ...error) error {
	return errors.Join(errs...)
}
