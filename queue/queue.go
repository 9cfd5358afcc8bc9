// Package queue implements the audio output queue: a time-keyed packet
// buffer that schedules decoded PCM packets onto a blocking device sink,
// filling gaps with silence, dropping late or far-future packets, muting
// cleanly during underruns, and surviving a 32-bit playback counter wrap.
package queue

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"raopcore/clock"
	"raopcore/pcm"
)

// QueueLengthMaxSeconds is the maximum scheduling delay accepted by
// Enqueue before a packet is rejected as a future timing anomaly.
const QueueLengthMaxSeconds = 10.0

// TimingPrecision is the line-time alignment tolerance writeAligned
// converges to before it hands a packet to the sink.
const TimingPrecision = 0.001

// OutputQueue schedules decoded PCM packets onto a device sink in line-time
// order, bridging gaps with silence and trimming overlaps.
type OutputQueue struct {
	clk    *clock.AudioClock
	sink   Sink
	format pcm.AudioFormat
	mode   ChannelMode
	logger *slog.Logger

	maxLengthSeconds float64
	precisionSeconds float64
	bufferSeconds    float64

	packets *packetMap

	mu                  sync.Mutex
	requestedGain       float32
	trackVolume         float32
	latestSeenFrameTime uint64
	haveSeenFrameTime   bool

	closing atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOutputQueue builds an OutputQueue over sink, scheduling packets
// against clk. clk's head-position source is wired to sink. maxLengthSeconds,
// precisionSeconds, and bufferSeconds default to QueueLengthMaxSeconds,
// TimingPrecision, and pcm.BufferSizeSeconds respectively when zero.
func NewOutputQueue(clk *clock.AudioClock, sink Sink, format pcm.AudioFormat, mode ChannelMode, maxLengthSeconds, precisionSeconds, bufferSeconds float64, logger *slog.Logger) *OutputQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if format.FramesPerPacket <= 0 {
		format.FramesPerPacket = 352
	}
	if maxLengthSeconds <= 0 {
		maxLengthSeconds = QueueLengthMaxSeconds
	}
	if precisionSeconds <= 0 {
		precisionSeconds = TimingPrecision
	}
	if bufferSeconds <= 0 {
		bufferSeconds = pcm.BufferSizeSeconds
	}
	clk.SetHeadPositionSource(sink)
	return &OutputQueue{
		clk:              clk,
		sink:             sink,
		format:           format,
		mode:             mode,
		logger:           logger,
		maxLengthSeconds: maxLengthSeconds,
		precisionSeconds: precisionSeconds,
		bufferSeconds:    bufferSeconds,
		packets:          newPacketMap(),
		requestedGain:    1.0,
	}
}

// Start spawns the playback loop on its own goroutine. It never shares
// that goroutine with network I/O: a blocked or slow read on another socket
// must never stall a sink write.
func (q *OutputQueue) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	q.cancel = cancel
	q.wg.Add(1)
	go q.runPlaybackLoop(ctx)
}

// Close sets the closing flag, interrupts the playback loop, and waits for
// it to finish muting, stopping, and releasing the sink.
func (q *OutputQueue) Close() {
	q.closing.Store(true)
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Enqueue schedules one PCM packet at frameTime. It returns false iff the
// packet is too late (already in the past) or too far in the future.
func (q *OutputQueue) Enqueue(frameTime uint64, samples []byte) bool {
	bytesPerFrame := q.format.BytesPerFrame()
	sampleRate := float64(q.format.SampleRate)

	frameCount := len(samples) / bytesPerFrame
	packetSeconds := float64(len(samples)) / (float64(bytesPerFrame) * sampleRate)

	lineTime := q.clk.ConvertFrameToLineTime(int64(frameTime))
	nextLT := int64(q.clk.NextLineTime())
	delaySeconds := float64(lineTime+int64(frameCount)-nextLT) / sampleRate

	if delaySeconds <= -packetSeconds {
		q.logger.Warn("late packet rejected", "frameTime", frameTime, "delaySeconds", delaySeconds)
		return false
	}
	// Deliberately compares against delaySeconds directly, not
	// delaySeconds-packetSeconds: a packet whose start is 10s ahead is
	// rejected even if its end is not.
	if delaySeconds > q.maxLengthSeconds {
		q.logger.Warn("future packet rejected", "frameTime", frameTime, "delaySeconds", delaySeconds)
		return false
	}

	q.packets.Put(frameTime, samples)

	q.mu.Lock()
	if !q.haveSeenFrameTime || frameTime > q.latestSeenFrameTime {
		q.latestSeenFrameTime = frameTime
		q.haveSeenFrameTime = true
	}
	q.mu.Unlock()
	return true
}

// Flush removes all queued packets.
func (q *OutputQueue) Flush() {
	q.packets.Flush()
}

// SetGain updates the user's target linear gain, clamped to [0, 1].
// Application to the sink is deferred to the playback loop.
func (q *OutputQueue) SetGain(g float32) {
	if g < 0 {
		g = 0
	}
	if g > 1 {
		g = 1
	}
	q.mu.Lock()
	q.requestedGain = g
	q.mu.Unlock()
}

// GetGain returns the current requested gain.
func (q *OutputQueue) GetGain() float32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requestedGain
}

// LatestSeenFrameTime returns the maximum FT ever observed via Enqueue.
// Diagnostic only.
func (q *OutputQueue) LatestSeenFrameTime() (ft uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latestSeenFrameTime, q.haveSeenFrameTime
}

func (q *OutputQueue) trackVolumeValue() float32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.trackVolume
}

func (q *OutputQueue) setTrackVolumeValue(v float32) {
	q.mu.Lock()
	q.trackVolume = v
	q.mu.Unlock()
}

// nowSecondsTimeNTP converts the local wall clock into NTP seconds since
// 1900.
func nowSecondsTimeNTP() float64 {
	return clock.TimeSince1970 + float64(time.Now().UnixNano())/1e9
}

// runPlaybackLoop is the single dedicated task that owns the device. It
// always reaches its mute/stop/release responsibilities on exit, whether it
// exits via closing, context cancellation, or a panic from the sink.
func (q *OutputQueue) runPlaybackLoop(ctx context.Context) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("sink fault, playback loop exiting", "panic", r)
		}
		_ = q.sink.SetVolume(0)
		_ = q.sink.Stop()
		_ = q.sink.Release()
	}()

	if err := q.sink.Open(q.format.DeviceBufferBytes(q.bufferSeconds)); err != nil {
		q.logger.Error("sink open failed", "error", err)
		return
	}
	if err := q.sink.SetVolume(0); err != nil {
		q.logger.Warn("initial mute failed", "error", err)
	}
	q.setTrackVolumeValue(0)
	if err := q.sink.Play(); err != nil {
		q.logger.Error("sink play failed", "error", err)
		return
	}
	q.clk.BeginPlayback(nowSecondsTimeNTP())

	muted := true
	underrunLogged := false
	bytesPerFrame := q.format.BytesPerFrame()
	framesPerPacket := int64(q.format.FramesPerPacket)
	silence := makeSilence(q.format.PacketBytes())

	for !q.closing.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ft, payload, ok := q.packets.PeekMin()
		if !ok {
			if !muted {
				if err := q.sink.SetVolume(0); err == nil {
					muted = true
					q.setTrackVolumeValue(0)
				}
			}
			q.writeToSink(silence)
			continue
		}

		lt0 := q.clk.ConvertFrameToLineTime(int64(ft))
		nextLT := int64(q.clk.NextLineTime())
		gap := lt0 - nextLT // frames, not seconds: positive means lt0 is ahead of the write head

		switch {
		case gap < -framesPerPacket:
			q.packets.Remove(ft)
			q.logger.Warn("packet irrecoverably late, dropped", "frameTime", ft, "gapFrames", gap)
			// No silence written this iteration.
		case gap < framesPerPacket:
			q.packets.Remove(ft)
			underrunLogged = false

			gain := q.GetGain()
			if muted {
				if err := q.sink.SetVolume(gain); err == nil {
					muted = false
					q.setTrackVolumeValue(gain)
				}
			} else if q.trackVolumeValue() != gain {
				if err := q.sink.SetVolume(gain); err == nil {
					q.setTrackVolumeValue(gain)
				}
			}

			aligned := len(payload) - (len(payload) % bytesPerFrame)
			if aligned != len(payload) {
				q.logger.Warn("misaligned payload truncated", "frameTime", ft, "originalLen", len(payload), "truncatedLen", aligned)
			}
			payload = payload[:aligned]
			remapChannels(payload, bytesPerFrame, q.mode)
			q.writeAligned(payload, lt0)
		default:
			if !underrunLogged {
				q.logger.Warn("underrun: no packet ready", "gapFrames", gap)
				underrunLogged = true
			}
			q.writeToSink(silence)
		}
	}
}

// writeAligned guarantees samples land at line position targetLT, in the
// presence of drift between the sender's schedule and the local write head.
func (q *OutputQueue) writeAligned(samples []byte, targetLT int64) {
	bytesPerFrame := q.format.BytesPerFrame()
	sampleRate := float64(q.format.SampleRate)

	for !q.closing.Load() {
		endLT := int64(q.clk.NextLineTime())
		errFrames := targetLT - endLT
		errSec := float64(errFrames) / sampleRate

		if math.Abs(errSec) <= q.precisionSeconds {
			q.writeToSink(samples)
			return
		}

		if errFrames > 0 {
			gapBytes := int(errFrames) * bytesPerFrame
			q.writeToSink(makeSilence(gapBytes))
			continue
		}

		// Overlap: advance the payload's read cursor past the frames
		// already written.
		advanceFrames := endLT - targetLT
		advanceBytes := int(advanceFrames) * bytesPerFrame
		if advanceBytes >= len(samples) {
			// The overlap covers the whole payload: nothing would be left to
			// write. Drop it rather than rewinding the cursor and replaying
			// frames that are already on the line.
			q.logger.Warn("overlap consumes entire payload, dropping remainder", "targetLineTime", targetLT, "writeHead", endLT)
			return
		}
		samples = samples[advanceBytes:]
		targetLT = endLT
	}
}

// writeToSink drains buf into the sink, retrying short or erroring writes
// until fully consumed or closing.
func (q *OutputQueue) writeToSink(buf []byte) {
	bytesPerFrame := q.format.BytesPerFrame()
	for len(buf) > 0 {
		if q.closing.Load() {
			return
		}
		n, err := q.sink.Write(buf)
		if err != nil {
			q.logger.Warn("sink write error, retrying", "error", err)
			continue
		}
		if n <= 0 {
			continue
		}
		if n > len(buf) {
			n = len(buf)
		}
		q.clk.AdvanceLineFrames(uint64(n / bytesPerFrame))
		buf = buf[n:]
	}
}
