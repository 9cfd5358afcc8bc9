// Package timing implements the periodic round-trip timing probe loop
// (Synchronizer) and the RAOP sync-message handler (SyncHandler) that
// together keep clock.AudioClock's frame-time/line-time bijection aligned
// with the sender's clock.
package timing

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// Payload types for the RAOP timing control channel. These mirror the
// real protocol's reserved RTP payload-type numbers for the out-of-band
// timing exchange; the audio payload channel is framed separately and
// never touches this package.
const (
	payloadTypeTimingRequest  = 82
	payloadTypeTimingResponse = 83
	payloadTypeSync           = 84
)

// TimingRequest is the outgoing RTT probe: only SendTime is filled, the
// other two fields are zero placeholders the sender will populate in its
// response.
type TimingRequest struct {
	ReceivedTime  float64 // ST, NTP seconds since 1900
	ReferenceTime float64 // ST
	SendTime      float64 // ST
}

// TimingResponse is what the sender echoes back, with all three fields
// populated.
type TimingResponse struct {
	ReceivedTime  float64 // sender's arrival time for our request
	ReferenceTime float64 // echo of our original SendTime
	SendTime      float64 // sender's transmit time for this response
}

// Sync carries the sender's retarget triple: its own wall clock, the frame
// it considers "now", and that same frame minus configured output latency.
type Sync struct {
	Time                  float64 // ST, sender's wall clock
	TimeStamp             uint32  // RTP frame, sender's "now"
	TimeStampMinusLatency uint32  // RTP frame, used to retarget the clock
}

// ntp64ToSeconds converts a 32.32 fixed-point NTP-64 timestamp (seconds
// since 1900 in the high word, fractional seconds in the low word) into a
// float64 seconds-since-1900 value.
func ntp64ToSeconds(v uint64) float64 {
	whole := uint32(v >> 32)
	frac := uint32(v)
	return float64(whole) + float64(frac)/4294967296.0
}

// secondsToNTP64 is the inverse of ntp64ToSeconds.
func secondsToNTP64(s float64) uint64 {
	if s < 0 {
		s = 0
	}
	whole := uint32(s)
	frac := uint32((s - float64(whole)) * 4294967296.0)
	return uint64(whole)<<32 | uint64(frac)
}

// EncodeTimingRequest frames a TimingRequest as an RTP packet on the timing
// control channel. Only SendTime carries real data; ReceivedTime and
// ReferenceTime are zero placeholders the sender fills in on response.
func EncodeTimingRequest(seq uint16, req TimingRequest) ([]byte, error) {
	payload := make([]byte, 24)
	binary.BigEndian.PutUint64(payload[0:8], secondsToNTP64(req.ReceivedTime))
	binary.BigEndian.PutUint64(payload[8:16], secondsToNTP64(req.ReferenceTime))
	binary.BigEndian.PutUint64(payload[16:24], secondsToNTP64(req.SendTime))

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    payloadTypeTimingRequest,
			SequenceNumber: seq,
		},
		Payload: payload,
	}
	return pkt.Marshal()
}

// DecodeTimingResponse parses a TimingResponse out of a received RTP
// packet on the timing control channel.
func DecodeTimingResponse(raw []byte) (TimingResponse, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return TimingResponse{}, fmt.Errorf("timing: unmarshal response: %w", err)
	}
	if pkt.PayloadType != payloadTypeTimingResponse {
		return TimingResponse{}, fmt.Errorf("timing: unexpected payload type %d", pkt.PayloadType)
	}
	if len(pkt.Payload) < 24 {
		return TimingResponse{}, fmt.Errorf("timing: short response payload (%d bytes)", len(pkt.Payload))
	}
	return TimingResponse{
		ReceivedTime:  ntp64ToSeconds(binary.BigEndian.Uint64(pkt.Payload[0:8])),
		ReferenceTime: ntp64ToSeconds(binary.BigEndian.Uint64(pkt.Payload[8:16])),
		SendTime:      ntp64ToSeconds(binary.BigEndian.Uint64(pkt.Payload[16:24])),
	}, nil
}

// DecodeSync parses a Sync message out of a received RTP packet on the
// sync control channel.
func DecodeSync(raw []byte) (Sync, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return Sync{}, fmt.Errorf("timing: unmarshal sync: %w", err)
	}
	if pkt.PayloadType != payloadTypeSync {
		return Sync{}, fmt.Errorf("timing: unexpected payload type %d", pkt.PayloadType)
	}
	if len(pkt.Payload) < 16 {
		return Sync{}, fmt.Errorf("timing: short sync payload (%d bytes)", len(pkt.Payload))
	}
	return Sync{
		Time:                  ntp64ToSeconds(binary.BigEndian.Uint64(pkt.Payload[0:8])),
		TimeStamp:             binary.BigEndian.Uint32(pkt.Payload[8:12]),
		TimeStampMinusLatency: binary.BigEndian.Uint32(pkt.Payload[12:16]),
	}, nil
}

// EncodeSync frames a Sync message as an RTP packet; provided for test
// fixtures and loopback senders exercising SyncHandler end to end.
func EncodeSync(seq uint16, s Sync) ([]byte, error) {
	payload := make([]byte, 16)
	binary.BigEndian.PutUint64(payload[0:8], secondsToNTP64(s.Time))
	binary.BigEndian.PutUint32(payload[8:12], s.TimeStamp)
	binary.BigEndian.PutUint32(payload[12:16], s.TimeStampMinusLatency)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadTypeSync,
			SequenceNumber: seq,
		},
		Payload: payload,
	}
	return pkt.Marshal()
}

// EncodeTimingResponse is provided for test fixtures emulating the sender
// side of the RTT exchange.
func EncodeTimingResponse(seq uint16, resp TimingResponse) ([]byte, error) {
	payload := make([]byte, 24)
	binary.BigEndian.PutUint64(payload[0:8], secondsToNTP64(resp.ReceivedTime))
	binary.BigEndian.PutUint64(payload[8:16], secondsToNTP64(resp.ReferenceTime))
	binary.BigEndian.PutUint64(payload[16:24], secondsToNTP64(resp.SendTime))

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadTypeTimingResponse,
			SequenceNumber: seq,
		},
		Payload: payload,
	}
	return pkt.Marshal()
}
