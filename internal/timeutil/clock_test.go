package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func received(ch <-chan time.Time) (time.Time, bool) {
	select {
	case t := <-ch:
		return t, true
	default:
		return time.Time{}, false
	}
}

func TestRealClock(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	if now := c.Now(); now.Before(before) {
		t.Errorf("Now() = %v, before %v", now, before)
	}

	timer := c.NewTimer(5 * time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if timer.Stop() {
		t.Error("Stop after firing reported an active timer")
	}

	ticker := c.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; i < 2; i++ {
		select {
		case <-ticker.C():
		case <-time.After(time.Second):
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	c.Advance(1500 * time.Millisecond)
	if got := c.Now(); !got.Equal(epoch.Add(1500 * time.Millisecond)) {
		t.Errorf("Now() = %v after Advance", got)
	}
	c.Set(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Errorf("Now() = %v after Set", got)
	}
}

func TestMockClock_TimerFiresOnce(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Minute)
	if c.TimerCount() != 1 {
		t.Fatalf("TimerCount = %d, want 1", c.TimerCount())
	}

	c.Advance(59 * time.Second)
	if _, ok := received(timer.C()); ok {
		t.Fatal("fired early")
	}
	c.Advance(time.Second)
	at, ok := received(timer.C())
	if !ok || !at.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("fire = %v, %t", at, ok)
	}
	c.Advance(time.Hour)
	if _, ok := received(timer.C()); ok {
		t.Error("timer fired twice")
	}
	if timer.Stop() {
		t.Error("Stop after firing reported an active timer")
	}
	if c.TimerCount() != 0 {
		t.Errorf("TimerCount = %d after firing", c.TimerCount())
	}
}

func TestMockClock_StoppedTimerStaysQuiet(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)
	if !timer.Stop() {
		t.Error("Stop on a pending timer reported inactive")
	}
	c.Advance(time.Minute)
	if _, ok := received(timer.C()); ok {
		t.Error("stopped timer fired")
	}
}

func TestMockClock_SetForwardFires(t *testing.T) {
	c := NewMockClock(epoch)
	timer := c.NewTimer(time.Second)
	c.Set(epoch.Add(-time.Hour))
	if _, ok := received(timer.C()); ok {
		t.Fatal("moving backwards fired the timer")
	}
	c.Set(epoch.Add(2 * time.Second))
	if _, ok := received(timer.C()); !ok {
		t.Error("Set past the deadline did not fire")
	}
}

func TestMockClock_Ticker(t *testing.T) {
	c := NewMockClock(epoch)
	ticker := c.NewTicker(time.Second)
	if c.TickerCount() != 1 {
		t.Fatalf("TickerCount = %d, want 1", c.TickerCount())
	}

	for i := 1; i <= 3; i++ {
		c.Advance(time.Second)
		at, ok := received(ticker.C())
		if !ok || !at.Equal(epoch.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("tick %d = %v, %t", i, at, ok)
		}
	}

	// an unread tick is not queued twice
	c.Advance(time.Second)
	c.Advance(time.Second)
	if _, ok := received(ticker.C()); !ok {
		t.Fatal("missing tick")
	}
	if _, ok := received(ticker.C()); ok {
		t.Error("dropped tick was delivered")
	}

	ticker.Stop()
	if c.TickerCount() != 0 {
		t.Errorf("TickerCount = %d after Stop", c.TickerCount())
	}
	c.Advance(time.Minute)
	if _, ok := received(ticker.C()); ok {
		t.Error("stopped ticker fired")
	}
}
