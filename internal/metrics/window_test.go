package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestWindow_RateUnavailableBelowTwoSamples(t *testing.T) {
	t.Parallel()

	w := NewWindow(5 * time.Second)
	_, ok := w.Rate()
	assert.False(t, ok)

	w.Observe(t0, 1)
	_, ok = w.Rate()
	assert.False(t, ok)

	// Same instant: zero span is unavailable, not infinite.
	w.Observe(t0, 1)
	_, ok = w.Rate()
	assert.False(t, ok)
}

func TestWindow_RateAndEviction(t *testing.T) {
	t.Parallel()

	w := NewWindow(5 * time.Second)
	for i := 0; i <= 300; i++ {
		w.Observe(t0.Add(time.Duration(i)*time.Second/30), 1)
	}
	// 10 s of samples at 30 Hz; only the last 5 s remain.
	assert.Equal(t, 151, w.Len())
	assert.Equal(t, 5*time.Second, w.Span())

	rate, ok := w.Rate()
	require.True(t, ok)
	assert.InDelta(t, 30.0, rate, 1e-9)
}

func TestWindow_BoundaryIsInclusive(t *testing.T) {
	t.Parallel()

	w := NewWindow(time.Second)
	w.Observe(t0, 1)
	w.Observe(t0.Add(time.Second), 1)
	assert.Equal(t, 2, w.Len(), "a sample exactly one horizon old is kept")

	w.Observe(t0.Add(time.Second+time.Nanosecond), 1)
	assert.Equal(t, 2, w.Len())
}

func TestWindow_MeanAndQuantile(t *testing.T) {
	t.Parallel()

	w := NewWindow(0)
	assert.Equal(t, DefaultHorizon, w.Horizon())

	_, ok := w.Mean()
	assert.False(t, ok)

	for i, v := range []float64{10, 20, 30, 40} {
		w.Observe(t0.Add(time.Duration(i)*time.Millisecond), v)
	}
	mean, ok := w.Mean()
	require.True(t, ok)
	assert.InDelta(t, 25.0, mean, 1e-9)

	q, ok := w.Quantile(1)
	require.True(t, ok)
	assert.Equal(t, 40.0, q)

	_, ok = w.Quantile(1.5)
	assert.False(t, ok)
}

func TestWindow_SamplesIsCopy(t *testing.T) {
	t.Parallel()

	w := NewWindow(time.Second)
	w.Observe(t0, 3)
	s := w.Samples()
	s[0].Value = 99
	mean, _ := w.Mean()
	assert.Equal(t, 3.0, mean)

	w.Reset()
	assert.Equal(t, 0, w.Len())
}

func TestStreamMeter(t *testing.T) {
	t.Parallel()

	m := NewStreamMeter(5 * time.Second)
	_, ok := m.Tick(t0)
	assert.False(t, ok)

	fps, ok := m.Tick(t0.Add(100 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 10.0, fps, 1e-9)
	assert.Equal(t, uint64(2), m.Total())

	got, ok := m.FPS()
	assert.True(t, ok)
	assert.Equal(t, fps, got)
}

func TestWindow_ExpireAgainstNow(t *testing.T) {
	t.Parallel()

	w := NewWindow(time.Second)
	w.Observe(t0, 1)
	w.Observe(t0.Add(500*time.Millisecond), 1)

	w.Expire(t0.Add(time.Second))
	assert.Equal(t, 2, w.Len(), "samples on the boundary stay")

	w.Expire(t0.Add(1200 * time.Millisecond))
	assert.Equal(t, 1, w.Len())
	_, ok := w.Rate()
	assert.False(t, ok)

	w.Expire(t0)
	assert.Equal(t, 1, w.Len(), "an earlier now evicts nothing")
}
