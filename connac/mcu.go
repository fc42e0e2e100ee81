package connac

// MCUState is the firmware recovery state word the co-processor reports
// through the MCU command interrupt.
type MCUState uint32

const (
	MCUCmdStopDMA      MCUState = 1 << 2
	MCUCmdResetDone    MCUState = 1 << 3
	MCUCmdRecoveryDone MCUState = 1 << 4
	MCUCmdNormalState  MCUState = 1 << 5
	MCUCmdWMWDT        MCUState = 1 << 30
	MCUCmdWAWDT        MCUState = 1 << 31
	// MCUCmdWDTMask selects the firmware watchdog bits of either core.
	MCUCmdWDTMask = MCUCmdWAWDT | MCUCmdWMWDT
)

// HasWDT reports whether either firmware core watchdog fired.
func (s MCUState) HasWDT() bool { return s&MCUCmdWDTMask != 0 }

func (s MCUState) String() (str string) {
	if s == 0 {
		return "none"
	}
	if s&MCUCmdStopDMA != 0 {
		str += "stop-dma "
	}
	if s&MCUCmdResetDone != 0 {
		str += "reset-done "
	}
	if s&MCUCmdRecoveryDone != 0 {
		str += "recovery-done "
	}
	if s&MCUCmdNormalState != 0 {
		str += "normal "
	}
	if s&MCUCmdWMWDT != 0 {
		str += "wm-wdt "
	}
	if s&MCUCmdWAWDT != 0 {
		str += "wa-wdt "
	}
	if str == "" {
		return "unknown"
	}
	return str[:len(str)-1]
}

// MCUEvent is written by the host to acknowledge recovery handshake steps.
type MCUEvent uint32

const (
	MCUEventDMAStopped MCUEvent = 1 << 0
	MCUEventDMAInit    MCUEvent = 1 << 1
	MCUEventResetDone  MCUEvent = 1 << 3
)

// IntMCUCmd is the host interrupt source bit raised for MCU state changes.
const IntMCUCmd = 1 << 29
