package metrics

import (
	"sync"
	"time"
)

// StreamMeter counts buffers passing the stream tap.
type StreamMeter struct {
	mu     sync.Mutex
	window *Window
	total  uint64
}

// NewStreamMeter returns a meter with the given window horizon.
func NewStreamMeter(horizon time.Duration) *StreamMeter {
	return &StreamMeter{window: NewWindow(horizon)}
}

// Tick records one buffer at ts and returns the updated rate.
func (m *StreamMeter) Tick(ts time.Time) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.window.Observe(ts, 1)
	return m.window.Rate()
}

// Expire drops ticks that fell out of the window at now.
func (m *StreamMeter) Expire(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window.Expire(now)
}

// FPS returns the current stream rate.
func (m *StreamMeter) FPS() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window.Rate()
}

// Total returns the number of buffers seen since creation.
func (m *StreamMeter) Total() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
