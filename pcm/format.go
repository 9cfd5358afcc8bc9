// Package pcm holds the small byte-level helpers shared by the config and
// queue packages: PCM16 framing math and device buffer sizing.
package pcm

// BufferSizeSeconds is the default target device buffer length, used when a
// caller doesn't supply one of its own.
const BufferSizeSeconds = 0.05

// AudioFormat describes the PCM16 stream the queue schedules and the sink
// plays: sample rate, channel count, and frames-per-packet (the unit the
// sender ships audio in, and the unit silence is generated in).
type AudioFormat struct {
	SampleRate      int
	Channels        int
	FramesPerPacket int
}

// BytesPerFrame is 2 bytes (one int16 sample) per channel.
func (f AudioFormat) BytesPerFrame() int {
	ch := f.Channels
	if ch < 1 {
		ch = 1
	}
	return ch * 2
}

// PacketBytes is the byte length of one full silence/real packet.
func (f AudioFormat) PacketBytes() int {
	return f.FramesPerPacket * f.BytesPerFrame()
}

// DeviceBufferBytes is the smallest power of two >= bufferSeconds *
// sampleRate * bytesPerFrame, the buffer size a sink is asked to open with.
// bufferSeconds defaults to BufferSizeSeconds when <= 0.
func (f AudioFormat) DeviceBufferBytes(bufferSeconds float64) int {
	if bufferSeconds <= 0 {
		bufferSeconds = BufferSizeSeconds
	}
	min := int(bufferSeconds * float64(f.SampleRate) * float64(f.BytesPerFrame()))
	size := 1
	for size < min {
		size <<= 1
	}
	return size
}
