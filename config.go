package mt79

import (
	"log/slog"
	"time"
)

// MaxBands is the number of radio bands a co-processor exposes.
const MaxBands = 3

// BandConfig describes one radio band.
type BandConfig struct {
	// Freq is the operating channel center frequency in MHz. A zero value
	// means no channel is configured and received frames are dropped.
	Freq uint16
	// AntennaMask selects the receive chains.
	AntennaMask uint8
	// Tokens caps the tokens this band may hold. Zero means no cap besides
	// the table size.
	Tokens int
	// Disabled bands are never started.
	Disabled bool
}

// Is2GHz reports whether the band operates on 2.4GHz, which selects the
// legacy bitrate table with CCK rates.
func (b BandConfig) Is2GHz() bool { return b.Freq != 0 && b.Freq < 3000 }

// Config holds the static configuration of a Device.
type Config struct {
	Logger *slog.Logger
	Bands  [MaxBands]BandConfig
	// Tokens is the size of the token table.
	Tokens int
	// TokenFreeThreshold is the number of free tokens below which transmission
	// is blocked.
	TokenFreeThreshold int
	// TxQueueDepth bounds packets admitted but not yet submitted.
	TxQueueDepth int
	// IRQMask is restored after a full restart.
	IRQMask uint32
	// WAOffload selects the offload firmware path, which carries EAPOL and
	// 4-address null frames as data rather than management.
	WAOffload bool

	MACWorkInterval   time.Duration
	ADDBARetry        time.Duration
	ResetTimeout      time.Duration
	TxStatusTimeout   time.Duration
	RestartAttempts   int
	PollMaxStations   int
	BeaconLossCount   int
	ProbeTimeout      time.Duration
	ProbeMaxTries     int
	BasicRatesTableID uint8
}

// DefaultConfig returns a configuration for a tri-band co-processor with the
// firmware's default table sizes and timings.
func DefaultConfig() Config {
	return Config{
		Bands: [MaxBands]BandConfig{
			{Freq: 2412, AntennaMask: 0xf},
			{Freq: 5180, AntennaMask: 0xf},
			{Freq: 5955, AntennaMask: 0xf},
		},
		Tokens:             16384,
		TokenFreeThreshold: 64,
		TxQueueDepth:       4096,
		IRQMask:            0xffffffff,
		MACWorkInterval:    100 * time.Millisecond,
		ADDBARetry:         5 * time.Second,
		ResetTimeout:       30 * time.Second,
		TxStatusTimeout:    250 * time.Millisecond,
		RestartAttempts:    10,
		PollMaxStations:    90,
		BeaconLossCount:    20,
		ProbeTimeout:       500 * time.Millisecond,
		ProbeMaxTries:      2,
		BasicRatesTableID:  11,
	}
}

func (cfg *Config) validate() error {
	if cfg.Tokens <= 0 || cfg.Tokens > 0x7fff {
		return errjoin(ErrBadConfig, errTokensRange)
	}
	if cfg.TokenFreeThreshold < 0 || cfg.TokenFreeThreshold >= cfg.Tokens {
		return errjoin(ErrBadConfig, errThresholdRange)
	}
	if cfg.TxQueueDepth <= 0 || cfg.RestartAttempts <= 0 || cfg.PollMaxStations <= 0 {
		return ErrBadConfig
	}
	if cfg.MACWorkInterval <= 0 || cfg.ResetTimeout <= 0 || cfg.TxStatusTimeout <= 0 || cfg.ProbeTimeout <= 0 {
		return errjoin(ErrBadConfig, errIntervalRange)
	}
	return nil
}
