package mt79

// Snapshot is a point in time copy of the device state and counters.
type Snapshot struct {
	Started  bool             `json:"started"`
	Failed   bool             `json:"failed"`
	Recovery RecoveryCounters `json:"recovery"`

	Tokens        int  `json:"tokens"`
	TokensBlocked bool `json:"tokens_blocked"`
	TxQueued      int  `json:"tx_queued"`
	StatusPending int  `json:"status_pending"`
	PollQueued    int  `json:"poll_queued"`

	Counters CountersSnapshot       `json:"counters"`
	Bands    [MaxBands]BandSnapshot `json:"bands"`
}

// CountersSnapshot is a copy of Counters.
type CountersSnapshot struct {
	RxLengthMismatch uint64 `json:"rx_length_mismatch"`
	RxUnknownType    uint64 `json:"rx_unknown_type"`
	RxTooShort       uint64 `json:"rx_too_short"`
	RxGated          uint64 `json:"rx_gated"`
	RxDropped        uint64 `json:"rx_dropped"`
	TxFreeMalformed  uint64 `json:"txfree_malformed"`
	TxFreeUnknown    uint64 `json:"txfree_unknown"`
	TxStatusUnknown  uint64 `json:"txs_unknown"`
	TxRejected       uint64 `json:"tx_rejected"`
	TxSubmitFailed   uint64 `json:"tx_submit_failed"`
}

// BandSnapshot is the state and MIB counters of one band.
type BandSnapshot struct {
	Running   bool        `json:"running"`
	Resetting bool        `json:"resetting"`
	Tokens    int         `json:"tokens"`
	MIB       MIBSnapshot `json:"mib"`
}

// MIBSnapshot is a copy of MIBStats.
type MIBSnapshot struct {
	RxSkb          uint64    `json:"rx_skb"`
	RxAMSDUErr     uint64    `json:"rx_amsdu_err"`
	RxMaxLenErr    uint64    `json:"rx_max_len_err"`
	RxNullChannels uint64    `json:"rx_null_channels"`
	RxTooShort     uint64    `json:"rx_too_short"`
	RxBadHTRix     uint64    `json:"rx_bad_ht_rix"`
	RxBadVHTRix    uint64    `json:"rx_bad_vht_rix"`
	RxBadMode      uint64    `json:"rx_bad_mode"`
	RxBadBW        uint64    `json:"rx_bad_bw"`
	RxPkts         uint64    `json:"rx_pkts"`
	RxBytes        uint64    `json:"rx_bytes"`
	RxAMSDU        uint64    `json:"rx_amsdu"`
	RxAMSDUChain   [8]uint64 `json:"rx_amsdu_chain"`
	TxPkts         uint64    `json:"tx_pkts"`
	TxBytes        uint64    `json:"tx_bytes"`
	TxHWDrop       uint64    `json:"tx_hw_drop"`
	TxMCUDrop      uint64    `json:"tx_mcu_drop"`

	FCSErr         uint64     `json:"fcs_err"`
	RxFIFOFull     uint64     `json:"rx_fifo_full"`
	RxMPDU         uint64     `json:"rx_mpdu"`
	ChannelIdle    uint64     `json:"channel_idle"`
	TxAMPDU        uint64     `json:"tx_ampdu"`
	TxMPDUAttempts uint64     `json:"tx_mpdu_attempts"`
	TxMPDUSuccess  uint64     `json:"tx_mpdu_success"`
	RxAMPDU        uint64     `json:"rx_ampdu"`
	RxAMPDUBytes   uint64     `json:"rx_ampdu_bytes"`
	RTS            uint64     `json:"rts"`
	RTSRetries     uint64     `json:"rts_retries"`
	BAMiss         uint64     `json:"ba_miss"`
	AckFail        uint64     `json:"ack_fail"`
	TxAMSDU        uint64     `json:"tx_amsdu"`
	TxAggr         [16]uint64 `json:"tx_aggr"`
}

// Snapshot copies the device state and counters.
func (d *Device) Snapshot() (s Snapshot) {
	s.Started = d.started.Load()
	s.Failed = d.failed.Load()
	s.Recovery = d.RecoveryCounters()
	s.Tokens = d.tokens.len()
	s.TokensBlocked = d.tokens.isBlocked()
	s.TxQueued = d.txq.len()
	s.StatusPending = d.status.len()
	s.PollQueued = d.poll.len()
	s.Counters = d.stats.Snapshot()
	for i, b := range d.bands {
		s.Bands[i] = BandSnapshot{
			Running:   b.running.Load(),
			Resetting: b.resetting.Load(),
			Tokens:    d.tokens.bandLen(b.idx),
			MIB:       b.mib.Snapshot(),
		}
	}
	return s
}

// MIB returns a copy of the MIB counters of band.
func (d *Device) MIB(band uint8) (MIBSnapshot, error) {
	b := d.bandAt(band)
	if b == nil {
		return MIBSnapshot{}, ErrBadBand
	}
	return b.mib.Snapshot(), nil
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		RxLengthMismatch: c.RxLengthMismatch.Load(),
		RxUnknownType:    c.RxUnknownType.Load(),
		RxTooShort:       c.RxTooShort.Load(),
		RxGated:          c.RxGated.Load(),
		RxDropped:        c.RxDropped.Load(),
		TxFreeMalformed:  c.TxFreeMalformed.Load(),
		TxFreeUnknown:    c.TxFreeUnknown.Load(),
		TxStatusUnknown:  c.TxStatusUnknown.Load(),
		TxRejected:       c.TxRejected.Load(),
		TxSubmitFailed:   c.TxSubmitFailed.Load(),
	}
}

// Snapshot copies the counters.
func (m *MIBStats) Snapshot() (s MIBSnapshot) {
	s.RxSkb = m.RxSkb.Load()
	s.RxAMSDUErr = m.RxAMSDUErr.Load()
	s.RxMaxLenErr = m.RxMaxLenErr.Load()
	s.RxNullChannels = m.RxNullChannels.Load()
	s.RxTooShort = m.RxTooShort.Load()
	s.RxBadHTRix = m.RxBadHTRix.Load()
	s.RxBadVHTRix = m.RxBadVHTRix.Load()
	s.RxBadMode = m.RxBadMode.Load()
	s.RxBadBW = m.RxBadBW.Load()
	s.RxPkts = m.RxPkts.Load()
	s.RxBytes = m.RxBytes.Load()
	s.RxAMSDU = m.RxAMSDU.Load()
	loadAll(s.RxAMSDUChain[:], m.RxAMSDUChain[:])
	s.TxPkts = m.TxPkts.Load()
	s.TxBytes = m.TxBytes.Load()
	s.TxHWDrop = m.TxHWDrop.Load()
	s.TxMCUDrop = m.TxMCUDrop.Load()
	s.FCSErr = m.FCSErr.Load()
	s.RxFIFOFull = m.RxFIFOFull.Load()
	s.RxMPDU = m.RxMPDU.Load()
	s.ChannelIdle = m.ChannelIdle.Load()
	s.TxAMPDU = m.TxAMPDU.Load()
	s.TxMPDUAttempts = m.TxMPDUAttempts.Load()
	s.TxMPDUSuccess = m.TxMPDUSuccess.Load()
	s.RxAMPDU = m.RxAMPDU.Load()
	s.RxAMPDUBytes = m.RxAMPDUBytes.Load()
	s.RTS = m.RTS.Load()
	s.RTSRetries = m.RTSRetries.Load()
	s.BAMiss = m.BAMiss.Load()
	s.AckFail = m.AckFail.Load()
	s.TxAMSDU = m.TxAMSDU.Load()
	loadAll(s.TxAggr[:], m.TxAggr[:])
	return s
}

// String returns the recovery state word as text.
func (r RecoveryCounters) String() string {
	return r.State.String() + " (" + r.MCUState.String() + ")"
}
