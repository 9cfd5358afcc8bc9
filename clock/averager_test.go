package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAveragerIsEmptyInitially(t *testing.T) {
	a := NewExponentialWeightedAverager()
	assert.True(t, a.IsEmpty())
}

func TestAveragerSingleAddReturnsValueRegardlessOfWeight(t *testing.T) {
	for _, weight := range []float64{0.001, 1, 1000} {
		a := NewExponentialWeightedAverager()
		a.Add(0.5, weight)
		require.False(t, a.IsEmpty())
		assert.InDelta(t, 0.5, a.Get(), 1e-12)
	}
}

func TestAveragerTwoAddsWeightedMean(t *testing.T) {
	a := NewExponentialWeightedAverager()
	a.Add(1.0, 2.0)
	a.Add(3.0, 1.0)
	want := (1.0*2.0 + 3.0*1.0) / (2.0 + 1.0)
	assert.InDelta(t, want, a.Get(), 1e-12)
}

func TestAveragerGetPanicsWhenEmpty(t *testing.T) {
	a := NewExponentialWeightedAverager()
	assert.Panics(t, func() { a.Get() })
}

func TestAveragerOldSamplesKeepConstantMass(t *testing.T) {
	a := NewExponentialWeightedAverager()
	a.Add(10.0, 1.0)
	for i := 0; i < 50; i++ {
		a.Add(10.0, 1.0)
	}
	// A single low-weight outlier should barely move a long-running average.
	a.Add(-1000.0, 1e-6)
	assert.InDelta(t, 10.0, a.Get(), 1e-2)
}
