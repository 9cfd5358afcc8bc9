// Package raopcore is the composition root wiring the clock, timing, and
// queue packages into one receiver, mirroring the role bridge.MediaBridge
// plays for the SIP/Telegram bridge: one struct owning the long-lived
// components, a Start/Close lifecycle, and pass-through operations for its
// owner.
package raopcore

import (
	"context"
	"log/slog"
	"time"

	"raopcore/clock"
	"raopcore/config"
	"raopcore/queue"
	"raopcore/timing"
)

// Receiver owns the clock, the remote-offset averager, the timing
// synchronizer and sync handler, and the audio output queue for one RAOP
// playback session.
type Receiver struct {
	clk          *clock.AudioClock
	averager     *clock.ExponentialWeightedAverager
	queue        *queue.OutputQueue
	synchronizer *timing.Synchronizer
	syncHandler  *timing.SyncHandler
	logger       *slog.Logger
}

// New builds a Receiver from a resolved configuration, a device sink, and
// the transport the timing synchronizer sends its probes over. sink and
// transport are the only two external collaborators; everything else is
// built and owned here.
func New(cfg config.Config, sink queue.Sink, transport timing.RequestTransport, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}

	clk := clock.New(cfg.Format.SampleRate)
	averager := clock.NewExponentialWeightedAverager()

	q := queue.NewOutputQueue(clk, sink, cfg.Format, cfg.ChannelMode, cfg.QueueMaxLengthSeconds, cfg.PrecisionSeconds, cfg.BufferSeconds, logger)

	interval := time.Duration(cfg.RequestIntervalMs) * time.Millisecond
	synchronizer := timing.NewSynchronizer(clk, averager, transport, interval, logger)
	syncHandler := timing.NewSyncHandler(clk, averager, logger)

	return &Receiver{
		clk:          clk,
		averager:     averager,
		queue:        q,
		synchronizer: synchronizer,
		syncHandler:  syncHandler,
		logger:       logger,
	}
}

// Start launches the playback loop and the timing probe loop, each on its
// own goroutine, so a slow or blocked network read can never stall a sink
// write.
func (r *Receiver) Start(ctx context.Context) {
	r.queue.Start(ctx)
	go r.synchronizer.Run(ctx)
}

// Close stops the playback loop, muting, stopping, and releasing the sink.
// It does not stop the timing loop; callers own that goroutine's context
// and should cancel it separately once the session ends.
func (r *Receiver) Close() {
	r.queue.Close()
}

// Enqueue schedules one decoded PCM packet.
func (r *Receiver) Enqueue(frameTime uint64, samples []byte) bool {
	return r.queue.Enqueue(frameTime, samples)
}

// Flush drops all queued packets.
func (r *Receiver) Flush() {
	r.queue.Flush()
}

// SetGain updates the user-requested linear output gain.
func (r *Receiver) SetGain(g float32) {
	r.queue.SetGain(g)
}

// GetGain returns the current user-requested linear output gain.
func (r *Receiver) GetGain() float32 {
	return r.queue.GetGain()
}

// IngestTimingResponse folds one received TimingResponse into the remote-
// offset averager. Call it from whatever goroutine owns the timing
// socket's read loop.
func (r *Receiver) IngestTimingResponse(raw []byte) error {
	return r.synchronizer.IngestResponse(raw)
}

// IngestSync retargets the clock from one received RAOP Sync message. Call
// it from whatever goroutine owns the sync socket's read loop.
func (r *Receiver) IngestSync(raw []byte) error {
	return r.syncHandler.IngestSyncPacket(raw)
}

// Clock exposes the underlying AudioClock for diagnostics and for callers
// that need convertFrameToLineTime-style conversions outside the queue.
func (r *Receiver) Clock() *clock.AudioClock {
	return r.clk
}
