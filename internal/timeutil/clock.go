// Package timeutil abstracts wall-clock time so pollers, perf tickers and
// meters can be driven deterministically in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of every component that reads or waits on time.
type Clock interface {
	Now() time.Time
	// NewTimer fires once, at least d after it is created.
	NewTimer(d time.Duration) Timer
	// NewTicker fires every d until stopped.
	NewTicker(d time.Duration) Ticker
}

// Timer is a one-shot timer.
type Timer interface {
	C() <-chan time.Time
	// Stop reports whether the call prevented the timer from firing.
	Stop() bool
}

// Ticker is a periodic timer.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when told to. Timers and tickers created from it
// fire when Set or Advance reaches their deadline; a tick that finds the
// channel full is dropped, as with time.Ticker.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*mockWaiter
}

// NewMockClock returns a clock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving forward fires due timers and tickers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	forward := t.After(c.now)
	c.now = t
	c.mu.Unlock()
	if forward {
		c.fire(t)
	}
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.fire(now)
}

func (c *MockClock) fire(now time.Time) {
	c.mu.Lock()
	waiters := append([]*mockWaiter(nil), c.waiters...)
	c.mu.Unlock()
	for _, w := range waiters {
		w.fire(now)
	}
}

func (c *MockClock) add(d, period time.Duration) *mockWaiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWaiter{ch: make(chan time.Time, 1), due: c.now.Add(d), period: period}
	c.waiters = append(c.waiters, w)
	return w
}

func (c *MockClock) NewTimer(d time.Duration) Timer { return mockTimer{c.add(d, 0)} }

func (c *MockClock) NewTicker(d time.Duration) Ticker { return mockTicker{c.add(d, d)} }

// TickerCount returns the number of live tickers. Tests use it to wait for
// a goroutine to reach its select loop.
func (c *MockClock) TickerCount() int { return c.count(true) }

// TimerCount returns the number of timers that have neither fired nor been
// stopped.
func (c *MockClock) TimerCount() int { return c.count(false) }

func (c *MockClock) count(tickers bool) int {
	c.mu.Lock()
	waiters := append([]*mockWaiter(nil), c.waiters...)
	c.mu.Unlock()
	n := 0
	for _, w := range waiters {
		if (w.period > 0) == tickers && w.live() {
			n++
		}
	}
	return n
}

// mockWaiter backs both timers (period 0) and tickers.
type mockWaiter struct {
	mu     sync.Mutex
	ch     chan time.Time
	due    time.Time
	period time.Duration
	done   bool
}

func (w *mockWaiter) fire(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done || now.Before(w.due) {
		return
	}
	select {
	case w.ch <- now:
	default:
	}
	if w.period > 0 {
		w.due = now.Add(w.period)
	} else {
		w.done = true
	}
}

func (w *mockWaiter) stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	was := !w.done
	w.done = true
	return was
}

func (w *mockWaiter) live() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.done
}

type mockTimer struct{ w *mockWaiter }

func (t mockTimer) C() <-chan time.Time { return t.w.ch }
func (t mockTimer) Stop() bool          { return t.w.stop() }

type mockTicker struct{ w *mockWaiter }

func (t mockTicker) C() <-chan time.Time { return t.w.ch }
func (t mockTicker) Stop()               { t.w.stop() }
