package timing

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"raopcore/clock"
)

// DefaultRequestInterval is how often the synchronizer emits a new
// round-trip timing probe when the caller doesn't supply its own interval.
const DefaultRequestInterval = 3000 * time.Millisecond

// RequestTransport sends an already-framed timing-request packet to the
// sender. Receiving the matching response is handled separately, by
// whatever owns the socket calling Ingest/HandleResponse — the synchronizer
// itself never blocks on a read.
type RequestTransport interface {
	Send(payload []byte) error
}

// Synchronizer runs the periodic RTT probe loop: every RequestInterval it
// emits a TimingRequest, and every TimingResponse it is handed is folded
// into the shared averager.
type Synchronizer struct {
	clk      *clock.AudioClock
	averager *clock.ExponentialWeightedAverager
	transport RequestTransport
	interval time.Duration
	logger   *slog.Logger

	seq atomic.Uint32
}

// NewSynchronizer builds a Synchronizer. interval defaults to
// DefaultRequestInterval when zero. logger defaults to slog.Default().
func NewSynchronizer(clk *clock.AudioClock, averager *clock.ExponentialWeightedAverager, transport RequestTransport, interval time.Duration, logger *slog.Logger) *Synchronizer {
	if interval <= 0 {
		interval = DefaultRequestInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		clk:       clk,
		averager:  averager,
		transport: transport,
		interval:  interval,
		logger:    logger,
	}
}

// Run drives the periodic probe loop until ctx is canceled. It is meant to
// be launched on its own goroutine, e.g. `go synchronizer.Run(ctx)`, and
// never shares that goroutine with the playback loop.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendProbe()
		}
	}
}

func (s *Synchronizer) sendProbe() {
	seq := uint16(s.seq.Add(1))
	req := TimingRequest{SendTime: s.clk.NowSecondsTime()}
	payload, err := EncodeTimingRequest(seq, req)
	if err != nil {
		s.logger.Warn("timing: failed to encode request", "error", err)
		return
	}
	if err := s.transport.Send(payload); err != nil {
		s.logger.Warn("timing: failed to send request", "error", err)
	}
}

// IngestResponse decodes a raw RTP-framed TimingResponse and folds it into
// the averager. Call it from whatever goroutine owns the timing socket's
// read loop.
func (s *Synchronizer) IngestResponse(raw []byte) error {
	resp, err := DecodeTimingResponse(raw)
	if err != nil {
		s.logger.Warn("timing: failed to decode response", "error", err)
		return err
	}
	s.HandleResponse(resp)
	return nil
}

// HandleResponse computes the weighted offset sample from one timing
// response and adds it to the averager.
func (s *Synchronizer) HandleResponse(resp TimingResponse) {
	localNow := s.clk.NowSecondsTime()

	localSeconds := 0.5 * (localNow + resp.ReferenceTime)
	remoteSeconds := 0.5 * (resp.ReceivedTime + resp.SendTime)
	offsetSample := remoteSeconds - localSeconds

	localInterval := localNow - resp.ReferenceTime
	remoteInterval := resp.SendTime - resp.ReceivedTime
	transmissionTime := math.Max(localInterval-remoteInterval, 0)

	weight := 1e-6 / (transmissionTime + 1e-3)

	s.averager.Add(offsetSample, weight)
}
