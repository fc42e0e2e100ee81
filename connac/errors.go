package connac

import "errors"

var (
	ErrShortBuffer     = errors.New("connac: buffer shorter than fixed descriptor")
	ErrTooShort        = errors.New("connac: descriptor group overruns buffer")
	ErrTxFreeVersion   = errors.New("connac: unsupported tx-free version")
	ErrShortDst        = errors.New("connac: destination buffer too short")
	ErrNoHeadroom      = errors.New("connac: not enough headroom to rebuild header")
	ErrNotUnicast      = errors.New("connac: header rebuild requires unicast-to-me frame")
	ErrNoGroup4        = errors.New("connac: header rebuild requires descriptor group 4")
	ErrNotDataFrame    = errors.New("connac: not an 802.11 data frame")
	ErrShort80211Frame = errors.New("connac: 802.11 frame shorter than its header")
)

// Rate decode errors. Each one corresponds to a distinct rejection counter.
var (
	ErrBadMode    = errors.New("connac: unknown phy mode")
	ErrBadRateHT  = errors.New("connac: HT rate index out of range")
	ErrBadRateVHT = errors.New("connac: VHT rate index out of range")
	ErrBadBW      = errors.New("connac: unknown bandwidth")
)
