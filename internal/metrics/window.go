// Package metrics keeps sliding-window throughput and latency estimates for
// the stream tap and the inference element.
package metrics

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultHorizon is the window length used when none is configured.
const DefaultHorizon = 5 * time.Second

// Sample is one timestamped observation.
type Sample struct {
	At    time.Time
	Value float64
}

// Window holds the samples of the last horizon, measured back from the
// newest sample or the last Expire. It is not safe for concurrent use.
type Window struct {
	horizon time.Duration
	samples []Sample
}

// NewWindow returns a window of the given horizon; non-positive means
// DefaultHorizon.
func NewWindow(horizon time.Duration) *Window {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Window{horizon: horizon}
}

// Horizon returns the window length.
func (w *Window) Horizon() time.Duration { return w.horizon }

// Observe appends a sample and evicts everything older than at-horizon.
func (w *Window) Observe(at time.Time, value float64) {
	w.samples = append(w.samples, Sample{At: at, Value: value})
	w.Expire(at)
}

// Expire evicts samples older than now-horizon. A stalled source thus
// drains to an unavailable rate instead of repeating its last value.
func (w *Window) Expire(now time.Time) {
	cutoff := now.Add(-w.horizon)
	i := 0
	for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// Len returns the number of samples in the window.
func (w *Window) Len() int { return len(w.samples) }

// Span returns the time between the oldest and newest sample.
func (w *Window) Span() time.Duration {
	if len(w.samples) < 2 {
		return 0
	}
	return w.samples[len(w.samples)-1].At.Sub(w.samples[0].At)
}

// Rate returns events per second over the window. It is unavailable, not
// zero, with fewer than two samples or a zero span.
func (w *Window) Rate() (float64, bool) {
	span := w.Span()
	if span <= 0 {
		return 0, false
	}
	return float64(len(w.samples)-1) / span.Seconds(), true
}

// Mean returns the arithmetic mean of the sample values.
func (w *Window) Mean() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	return stat.Mean(w.values(), nil), true
}

// Quantile returns the empirical p-quantile (0..1) of the sample values.
func (w *Window) Quantile(p float64) (float64, bool) {
	if len(w.samples) == 0 || p < 0 || p > 1 {
		return 0, false
	}
	v := w.values()
	sort.Float64s(v)
	return stat.Quantile(p, stat.Empirical, v, nil), true
}

// Samples returns a copy of the samples, oldest first.
func (w *Window) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Reset drops every sample.
func (w *Window) Reset() { w.samples = w.samples[:0] }

func (w *Window) values() []float64 {
	v := make([]float64, len(w.samples))
	for i, s := range w.samples {
		v[i] = s.Value
	}
	return v
}
