package metrics

import (
	"sync"
	"time"

	"github.com/banshee-data/squeakview/internal/monitoring"
)

const (
	// DefaultMaxPendingAge bounds how long an inference start waits for its
	// exit before it is discarded.
	DefaultMaxPendingAge = 2 * time.Second
	// DefaultMaxPending bounds the number of outstanding starts.
	DefaultMaxPending = 256
)

// TimerConfig configures an InferenceTimer. Zero fields take defaults.
type TimerConfig struct {
	Horizon       time.Duration
	MaxPendingAge time.Duration
	MaxPending    int
}

// TimerStats counts InferenceTimer activity.
type TimerStats struct {
	Started   uint64
	Completed uint64
	Unpaired  uint64 // exits with no recorded start
	Evicted   uint64 // starts discarded by age or capacity
	Pending   int
}

// InferenceTimer pairs inference entry and exit by buffer identity and keeps
// a window of per-buffer latencies in milliseconds.
type InferenceTimer struct {
	mu      sync.Mutex
	cfg     TimerConfig
	window  *Window
	pending map[uintptr]time.Time
	stats   TimerStats

	// evictions since the last report
	unreported uint64
}

// NewInferenceTimer returns a timer with cfg, defaults filled in.
func NewInferenceTimer(cfg TimerConfig) *InferenceTimer {
	if cfg.MaxPendingAge <= 0 {
		cfg.MaxPendingAge = DefaultMaxPendingAge
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	return &InferenceTimer{
		cfg:     cfg,
		window:  NewWindow(cfg.Horizon),
		pending: make(map[uintptr]time.Time),
	}
}

// Start records a buffer entering inference. A repeated key overwrites the
// earlier start.
func (t *InferenceTimer) Start(key uintptr, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(ts)
	if _, ok := t.pending[key]; !ok && len(t.pending) >= t.cfg.MaxPending {
		t.evictOldestLocked()
	}
	t.pending[key] = ts
	t.stats.Started++
}

// End records the buffer leaving inference and returns the measured latency.
// An End with no matching Start is counted and otherwise ignored.
func (t *InferenceTimer) End(key uintptr, ts time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.pending[key]
	if !ok {
		t.stats.Unpaired++
		return 0, false
	}
	delete(t.pending, key)
	latency := ts.Sub(start)
	t.window.Observe(ts, float64(latency)/float64(time.Millisecond))
	t.stats.Completed++
	return latency, true
}

// Sweep discards starts older than MaxPendingAge at now and reports how many
// were evicted since the previous report.
func (t *InferenceTimer) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(now)
	n := t.unreported
	if n > 0 {
		monitoring.Opsf("[PERF] discarded %d inference starts without exit (pending=%d)", n, len(t.pending))
		t.unreported = 0
	}
	return int(n)
}

func (t *InferenceTimer) sweepLocked(now time.Time) {
	cutoff := now.Add(-t.cfg.MaxPendingAge)
	for k, ts := range t.pending {
		if ts.Before(cutoff) {
			delete(t.pending, k)
			t.stats.Evicted++
			t.unreported++
		}
	}
}

func (t *InferenceTimer) evictOldestLocked() {
	var (
		oldestKey uintptr
		oldest    time.Time
		found     bool
	)
	for k, ts := range t.pending {
		if !found || ts.Before(oldest) {
			oldestKey, oldest, found = k, ts, true
		}
	}
	if found {
		delete(t.pending, oldestKey)
		t.stats.Evicted++
		t.unreported++
	}
}

// Expire drops latencies that fell out of the window at now.
func (t *InferenceTimer) Expire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.Expire(now)
}

// FPS returns the inference completion rate.
func (t *InferenceTimer) FPS() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.Rate()
}

// LatencyMs returns the mean latency over the window.
func (t *InferenceTimer) LatencyMs() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.Mean()
}

// LatencyQuantileMs returns the p-quantile latency over the window.
func (t *InferenceTimer) LatencyQuantileMs(p float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.Quantile(p)
}

// Stats returns a copy of the counters.
func (t *InferenceTimer) Stats() TimerStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Pending = len(t.pending)
	return s
}
