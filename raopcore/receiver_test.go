package raopcore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raopcore/config"
	"raopcore/queue"
)

type fakeSink struct {
	mu     sync.Mutex
	state  queue.PlayState
	volume float32
	pulls  chan []byte
}

func newFakeSink() *fakeSink {
	return &fakeSink{state: queue.Stopped, pulls: make(chan []byte, 64)}
}

func (s *fakeSink) Open(bufferBytes int) error { return nil }

func (s *fakeSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = queue.Playing
	return nil
}

func (s *fakeSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = queue.Stopped
	return nil
}

func (s *fakeSink) Release() error { return nil }

func (s *fakeSink) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case s.pulls <- cp:
	default:
	}
	return len(p), nil
}

func (s *fakeSink) SetVolume(linear float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = linear
	return nil
}

func (s *fakeSink) PlaybackHeadPosition() (uint32, error) { return 0, nil }

func (s *fakeSink) State() queue.PlayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, payload)
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func TestReceiver_EnqueuePassesThroughToQueue(t *testing.T) {
	cfg, err := config.Load(writeMinimalConfig(t))
	require.NoError(t, err)

	sink := newFakeSink()
	transport := &fakeTransport{}
	r := New(cfg, sink, transport, nil)

	payload := make([]byte, cfg.Format.FramesPerPacket*cfg.Format.BytesPerFrame())
	assert.True(t, r.Enqueue(uint64(r.Clock().NextFrameTime()), payload))

	r.SetGain(0.25)
	assert.EqualValues(t, 0.25, r.GetGain())

	r.Flush()
}

func TestReceiver_StartRunsTimingProbesAndPlayback(t *testing.T) {
	cfg, err := config.Load(writeMinimalConfig(t))
	require.NoError(t, err)
	cfg.RequestIntervalMs = 5 // fast probes for the test

	sink := newFakeSink()
	transport := &fakeTransport{}
	r := New(cfg, sink, transport, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	// The playback loop mutes, starts the sink, and immediately begins
	// writing silence against an empty queue; give it a moment to run.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, queue.Playing, sink.State())
	assert.Greater(t, transport.sentCount(), 0)

	cancel()
	r.Close()
}

// writeMinimalConfig writes a tiny YAML config exercising the audio/timing/
// queue sections this module reads, and returns its path.
func writeMinimalConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raop.yaml")
	content := []byte("audio:\n  sample_rate: 44100\n  channels: 2\n  bit_depth: 16\n  frames_per_packet: 352\n  channel_mode: stereo\ntiming:\n  request_interval_ms: 3000\n  precision_seconds: 0.001\nqueue:\n  max_length_seconds: 10.0\n  buffer_seconds: 0.05\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}
