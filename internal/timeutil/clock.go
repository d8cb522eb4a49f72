// Package timeutil lets the animator, recorder and replay loops run against a
// manually advanced clock in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the capture loops depend on.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer fires once on C after its duration.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker fires on C every period.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock with the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) Timer { return realTimer{time.NewTimer(d)} }

func (RealClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTimer struct{ t *time.Timer }

func (t realTimer) C() <-chan time.Time { return t.t.C }
func (t realTimer) Stop() bool          { return t.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.t.C }
func (t realTicker) Stop()               { t.t.Stop() }

// Sleep waits for d on clock or until ctxDone is closed. It reports whether
// the full duration elapsed.
func Sleep(clock Clock, d time.Duration, ctxDone <-chan struct{}) bool {
	if d <= 0 {
		return true
	}
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-ctxDone:
		return false
	}
}

// MockClock only moves when Advance or Set is called.
type MockClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	timers  []*mockTimer
	tickers []*mockTicker
}

// NewMockClock returns a clock reading t.
func NewMockClock(t time.Time) *MockClock {
	c := &MockClock{now: t}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t without firing anything.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and fires every timer and ticker that
// came due. A ticker fires at most once per Advance, like a real ticker whose
// reader fell behind.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	timers := append([]*mockTimer(nil), c.timers...)
	tickers := append([]*mockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range timers {
		t.fire(now)
	}
	for _, t := range tickers {
		t.fire(now)
	}
}

// BlockUntil waits until at least n timers and tickers are active. Tests use
// it to avoid advancing before a goroutine has created its ticker.
func (c *MockClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.cond.Wait()
	}
}

func (c *MockClock) activeLocked() int {
	n := 0
	for _, t := range c.timers {
		if t.active() {
			n++
		}
	}
	for _, t := range c.tickers {
		if t.active() {
			n++
		}
	}
	return n
}

func (c *MockClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{ch: make(chan time.Time, 1), deadline: c.now.Add(d)}
	c.timers = append(c.timers, t)
	c.cond.Broadcast()
	return t
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	c.cond.Broadcast()
	return t
}

type mockTimer struct {
	mu       sync.Mutex
	ch       chan time.Time
	deadline time.Time
	done     bool
}

func (t *mockTimer) C() <-chan time.Time { return t.ch }

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

func (t *mockTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}

func (t *mockTimer) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || now.Before(t.deadline) {
		return
	}
	t.done = true
	select {
	case t.ch <- now:
	default:
	}
}

type mockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *mockTicker) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

func (t *mockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
	}
}
