package network

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits how often something may happen per key, such as a warning
// about one sender. Idle keys are evicted.
type Throttle struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*throttleEntry
	hits  uint64
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows burst events per key and then one every interval.
func NewThrottle(every time.Duration, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limit:   rate.Every(every),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byKey:   make(map[string]*throttleEntry),
	}
}

// Allow reports whether an event for key may happen at now. A nil Throttle
// allows everything.
func (t *Throttle) Allow(key string, now time.Time) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byKey[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	t.hits++
	if t.hits%256 == 0 {
		cutoff := now.Add(-t.idleTTL)
		for k, v := range t.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(t.byKey, k)
			}
		}
	}
	return allowed
}

// Len returns the number of keys currently tracked.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}
