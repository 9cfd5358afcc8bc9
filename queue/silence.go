package queue

// silencePattern is the two-byte little-endian PCM16 pattern (0x80, 0x00 =
// int16(128)) used to fill silence frames: a near-zero dither value used as
// the quiet baseline, not a literal zero sample.
var silencePattern = [2]byte{0x80, 0x00}

// makeSilence returns n bytes of repeating silencePattern. Callers pass
// either one packet's worth of bytes or the byte length of a gap to bridge.
func makeSilence(n int) []byte {
	buf := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		buf[i] = silencePattern[0]
		buf[i+1] = silencePattern[1]
	}
	return buf
}
