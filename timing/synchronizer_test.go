package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raopcore/clock"
)

// TestTimingConvergence feeds 20 synthetic timing responses with
// offsetSample = 0.5s and varying transit (0.1-5ms). After ingestion,
// averager.Get() should be within 1e-4 of 0.5.
func TestTimingConvergence(t *testing.T) {
	clk := clock.New(44100)
	clk.BeginPlayback(1000.0)
	avg := clock.NewExponentialWeightedAverager()
	sync := NewSynchronizer(clk, avg, noopTransport{}, 0, nil)

	localNow := clk.NowSecondsTime()
	for i := 0; i < 20; i++ {
		transitSeconds := 0.0001 + float64(i)*(0.005-0.0001)/19.0

		// Construct a response such that:
		//   offsetSample = remoteSeconds - localSeconds = 0.5
		//   localInterval - remoteInterval = transitSeconds (>= 0)
		reference := localNow - 0.01 // our "original send", 10ms in the past
		localInterval := localNow - reference
		remoteInterval := localInterval - transitSeconds

		localSeconds := 0.5 * (localNow + reference)
		remoteSeconds := localSeconds + 0.5

		// remoteSeconds = 0.5*(received+sendBack); remoteInterval = sendBack-received.
		sendBack := remoteSeconds + remoteInterval/2
		received := remoteSeconds - remoteInterval/2

		sync.HandleResponse(TimingResponse{
			ReceivedTime:  received,
			ReferenceTime: reference,
			SendTime:      sendBack,
		})
	}

	require.False(t, avg.IsEmpty())
	assert.InDelta(t, 0.5, avg.Get(), 1e-4)
}

func TestWireRoundTripTimingRequestResponseAndSync(t *testing.T) {
	reqBytes, err := EncodeTimingRequest(1, TimingRequest{SendTime: 123.5})
	require.NoError(t, err)
	assert.NotEmpty(t, reqBytes)

	respBytes, err := EncodeTimingResponse(2, TimingResponse{ReceivedTime: 1.0, ReferenceTime: 2.0, SendTime: 3.0})
	require.NoError(t, err)
	resp, err := DecodeTimingResponse(respBytes)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, resp.ReceivedTime, 1e-6)
	assert.InDelta(t, 2.0, resp.ReferenceTime, 1e-6)
	assert.InDelta(t, 3.0, resp.SendTime, 1e-6)

	syncBytes, err := EncodeSync(3, Sync{Time: 42.25, TimeStamp: 1000, TimeStampMinusLatency: 900})
	require.NoError(t, err)
	sync, err := DecodeSync(syncBytes)
	require.NoError(t, err)
	assert.InDelta(t, 42.25, sync.Time, 1e-6)
	assert.Equal(t, uint32(1000), sync.TimeStamp)
	assert.Equal(t, uint32(900), sync.TimeStampMinusLatency)
}

type noopTransport struct{}

func (noopTransport) Send(payload []byte) error { return nil }
