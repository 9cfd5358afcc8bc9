// Package clock maintains the bijection between the sender's frame-time
// timeline, the local device's line-time (sample index) timeline, and
// NTP-style seconds-since-1900 wall time, and reconstructs a monotonic
// 64-bit device head position from a device's wrapping 32-bit counter.
package clock

import "sync"

// TimeSince1970 is the NTP epoch offset: seconds between 1900-01-01 and
// 1970-01-01, added to a local UNIX timestamp to produce NTP seconds.
const TimeSince1970 = 2208988800.0

// HeadPositionSource is the minimal device-facing capability AudioClock
// needs: a monotonic sample counter that wraps modulo 2^32. A concrete
// sink implementation (queue.Sink) satisfies this trivially.
type HeadPositionSource interface {
	PlaybackHeadPosition() (uint32, error)
}

// AudioClock is the source of truth mapping local sample position, frame
// time, and seconds time onto one another. All getters may run
// concurrently with the playback loop's calls to AdvanceLineFrames and
// with SetFrameTime; each observes a consistent snapshot of the offset
// fields and the frame counter together.
type AudioClock struct {
	sampleRate int

	mu                sync.Mutex
	frameTimeOffset   int64
	secondsTimeOffset float64
	lineFramesWritten uint64

	havePosition    bool
	lastPosition32  uint32
	totalPosition64 uint64

	sink HeadPositionSource

	readyMu sync.Mutex
	ready   chan struct{}
}

// New creates a clock for a device running at sampleRate. secondsTimeOffset
// is not yet set; callers must invoke BeginPlayback once the sink reaches
// the PLAYING state before any seconds-time-dependent getter is called.
func New(sampleRate int) *AudioClock {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &AudioClock{
		sampleRate: sampleRate,
		ready:      make(chan struct{}),
	}
}

// SetHeadPositionSource wires the device whose 32-bit counter nowLineTime
// reads and wrap-corrects. Safe to call once before playback starts.
func (c *AudioClock) SetHeadPositionSource(src HeadPositionSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = src
}

// BeginPlayback captures secondsTimeOffset exactly once, at the instant the
// sink transitions to PLAYING, satisfying the invariant
// ST(now) = secondsTimeOffset + LT(now) / sampleRate. A second call is a
// no-op: the original source set secondsTimeOffset both at construction and
// at PLAYING, with the second write authoritative; here there is only ever
// one write.
func (c *AudioClock) BeginPlayback(nowSecondsTime float64) {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	select {
	case <-c.ready:
		return // already set
	default:
	}
	c.mu.Lock()
	c.secondsTimeOffset = nowSecondsTime
	c.mu.Unlock()
	close(c.ready)
}

// awaitReady blocks until BeginPlayback has run. It must not be called
// while holding c.mu.
func (c *AudioClock) awaitReady() {
	<-c.ready
}

// SampleRate returns the device sample rate this clock was built for.
func (c *AudioClock) SampleRate() int {
	return c.sampleRate
}

// AdvanceLineFrames is called by the playback loop after handing n frames
// (real or silence) to the sink; it is the only writer of lineFramesWritten.
func (c *AudioClock) AdvanceLineFrames(n uint64) {
	c.mu.Lock()
	c.lineFramesWritten += n
	c.mu.Unlock()
}

// NextLineTime is the LT of the next sample to be written.
func (c *AudioClock) NextLineTime() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineFramesWritten
}

// NowLineTime is the device's current head position, 64-bit corrected from
// its wrapping 32-bit counter. It returns 0 if no device is wired yet or
// the device read fails (device not yet playing).
func (c *AudioClock) NowLineTime() uint64 {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink == nil {
		return 0
	}
	pos32, err := sink.PlaybackHeadPosition()
	if err != nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.havePosition && c.lastPosition32 > 0x80000000 && pos32 < 0x7FFFFFFF && pos32 < c.lastPosition32 {
		c.totalPosition64 += 0x1_0000_0000
	}
	c.lastPosition32 = pos32
	c.havePosition = true
	return c.totalPosition64 + uint64(pos32)
}

// NextFrameTime is the FT of the next sample to be written.
func (c *AudioClock) NextFrameTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.lineFramesWritten) + c.frameTimeOffset
}

// NowFrameTime is the FT corresponding to the device's current head
// position.
func (c *AudioClock) NowFrameTime() int64 {
	lt := c.NowLineTime()
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(lt) + c.frameTimeOffset
}

// NowSecondsTime is the ST corresponding to the device's current head
// position.
func (c *AudioClock) NowSecondsTime() float64 {
	c.awaitReady()
	lt := c.NowLineTime()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secondsTimeOffset + float64(lt)/float64(c.sampleRate)
}

// NextSecondsTime is the ST corresponding to the next sample to be
// written.
func (c *AudioClock) NextSecondsTime() float64 {
	c.awaitReady()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.secondsTimeOffset + float64(c.lineFramesWritten)/float64(c.sampleRate)
}

// ConvertFrameToSecondsTime maps a sender frame time onto ST.
func (c *AudioClock) ConvertFrameToSecondsTime(ft int64) float64 {
	c.awaitReady()
	c.mu.Lock()
	defer c.mu.Unlock()
	lt := ft - c.frameTimeOffset
	return c.secondsTimeOffset + float64(lt)/float64(c.sampleRate)
}

// ConvertFrameToLineTime maps a sender frame time onto LT.
func (c *AudioClock) ConvertFrameToLineTime(ft int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ft - c.frameTimeOffset
}

// SetFrameTime retargets the frame-time/line-time bijection so that ft maps
// onto the device line-time corresponding to st. When st is 0 (sender gave
// no calibrated seconds time), it is interpreted as "best-effort immediate":
// the line time is taken from NowLineTime() instead of from st.
func (c *AudioClock) SetFrameTime(ft int64, st float64) {
	var lineTime int64
	if st == 0 {
		lineTime = int64(c.NowLineTime())
	} else {
		c.awaitReady()
		c.mu.Lock()
		lineTime = int64(round((st - c.secondsTimeOffset) * float64(c.sampleRate)))
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.frameTimeOffset = ft - lineTime
	c.mu.Unlock()
}

func round(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}
