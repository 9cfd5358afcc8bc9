package timing

import (
	"log/slog"

	"raopcore/clock"
)

// SyncHandler retargets the clock on each incoming RAOP sync message. It is
// the sole caller of AudioClock.SetFrameTime besides the possible initial
// calibration; AudioClock's own mutex is what actually serializes concurrent
// writers, so SyncHandler needs no lock of its own.
type SyncHandler struct {
	clk      *clock.AudioClock
	averager *clock.ExponentialWeightedAverager
	logger   *slog.Logger
}

// NewSyncHandler builds a SyncHandler over a shared clock and averager.
func NewSyncHandler(clk *clock.AudioClock, averager *clock.ExponentialWeightedAverager, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{clk: clk, averager: averager, logger: logger}
}

// HandleSync retargets the clock from one sync message. When the averager
// has no samples yet, it passes a seconds time of 0, which SetFrameTime
// treats as best-effort immediate calibration against the device's current
// line time, rather than blocking on the first timing response.
func (h *SyncHandler) HandleSync(msg Sync) {
	if h.averager.IsEmpty() {
		h.logger.Warn("sync received before first timing response, using best-effort calibration")
		h.clk.SetFrameTime(int64(msg.TimeStampMinusLatency), 0.0)
		return
	}
	localST := msg.Time - h.averager.Get()
	h.clk.SetFrameTime(int64(msg.TimeStampMinusLatency), localST)
}

// IngestSyncPacket decodes a raw RTP-framed Sync message and applies it.
// Call it from whatever goroutine owns the sync socket's read loop.
func (h *SyncHandler) IngestSyncPacket(raw []byte) error {
	msg, err := DecodeSync(raw)
	if err != nil {
		h.logger.Warn("timing: failed to decode sync", "error", err)
		return err
	}
	h.HandleSync(msg)
	return nil
}
