package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferenceTimer_PairsStartAndEnd(t *testing.T) {
	t.Parallel()

	timer := NewInferenceTimer(TimerConfig{})
	timer.Start(1, t0)
	timer.Start(2, t0.Add(10*time.Millisecond))

	lat, ok := timer.End(2, t0.Add(40*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 30*time.Millisecond, lat)

	lat, ok = timer.End(1, t0.Add(50*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, lat)

	mean, ok := timer.LatencyMs()
	require.True(t, ok)
	assert.InDelta(t, 40.0, mean, 1e-9)

	fps, ok := timer.FPS()
	require.True(t, ok)
	assert.InDelta(t, 100.0, fps, 1e-9)

	st := timer.Stats()
	assert.Equal(t, uint64(2), st.Started)
	assert.Equal(t, uint64(2), st.Completed)
	assert.Equal(t, 0, st.Pending)
}

func TestInferenceTimer_EndWithoutStartIgnored(t *testing.T) {
	t.Parallel()

	timer := NewInferenceTimer(TimerConfig{})
	_, ok := timer.End(42, t0)
	assert.False(t, ok)
	_, ok = timer.LatencyMs()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), timer.Stats().Unpaired)

	// A key is consumed by its first End.
	timer.Start(7, t0)
	_, ok = timer.End(7, t0.Add(time.Millisecond))
	assert.True(t, ok)
	_, ok = timer.End(7, t0.Add(2*time.Millisecond))
	assert.False(t, ok)
}

func TestInferenceTimer_SweepEvictsStaleStarts(t *testing.T) {
	t.Parallel()

	timer := NewInferenceTimer(TimerConfig{MaxPendingAge: 2 * time.Second})
	timer.Start(1, t0)
	timer.Start(2, t0.Add(time.Second))

	assert.Equal(t, 0, timer.Sweep(t0.Add(2*time.Second)))
	assert.Equal(t, 1, timer.Sweep(t0.Add(2500*time.Millisecond)))

	st := timer.Stats()
	assert.Equal(t, uint64(1), st.Evicted)
	assert.Equal(t, 1, st.Pending)

	_, ok := timer.End(1, t0.Add(3*time.Second))
	assert.False(t, ok, "evicted start cannot be completed")
}

func TestInferenceTimer_StartSweepsAndCapacity(t *testing.T) {
	t.Parallel()

	timer := NewInferenceTimer(TimerConfig{MaxPending: 3, MaxPendingAge: time.Hour})
	for k := uintptr(1); k <= 5; k++ {
		timer.Start(k, t0.Add(time.Duration(k)*time.Millisecond))
	}
	st := timer.Stats()
	assert.Equal(t, 3, st.Pending)
	assert.Equal(t, uint64(2), st.Evicted)

	// Oldest starts went first.
	_, ok := timer.End(1, t0.Add(time.Second))
	assert.False(t, ok)
	_, ok = timer.End(2, t0.Add(time.Second))
	assert.False(t, ok)
	_, ok = timer.End(5, t0.Add(time.Second))
	assert.True(t, ok)

	// Evictions from Start are reported by the next Sweep.
	assert.Equal(t, 2, timer.Sweep(t0.Add(time.Second)))
	assert.Equal(t, 0, timer.Sweep(t0.Add(time.Second)))
}

func TestInferenceTimer_RepeatedStartOverwrites(t *testing.T) {
	t.Parallel()

	timer := NewInferenceTimer(TimerConfig{MaxPending: 1})
	timer.Start(9, t0)
	timer.Start(9, t0.Add(5*time.Millisecond))
	assert.Equal(t, uint64(0), timer.Stats().Evicted)

	lat, ok := timer.End(9, t0.Add(15*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, lat)
}
