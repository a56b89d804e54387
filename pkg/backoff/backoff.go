// Package backoff implements bounded retry with escalation. The poll loop
// and the session supervisor share the same state machines: an exponential
// delay tracker for transient failures and a sliding-window counter for
// crash-loop detection.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Policy describes an exponential backoff schedule
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	// Jitter is the fraction of the delay randomized in both directions,
	// 0 disables jitter
	Jitter float64
}

// Tracker counts consecutive failures and produces the next delay
type Tracker struct {
	mu          sync.Mutex
	policy      Policy
	consecutive int
	limit       int
}

// NewTracker creates a tracker that reports exhaustion after limit
// consecutive failures; limit <= 0 means unbounded
func NewTracker(policy Policy, limit int) *Tracker {
	if policy.Factor <= 1 {
		policy.Factor = 2
	}
	return &Tracker{policy: policy, limit: limit}
}

// Failure records a failure and returns the delay before the next attempt.
// The delay grows exponentially from Base and is capped at Max.
func (t *Tracker) Failure() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive++
	return t.delayLocked()
}

// Success resets the failure count so the next delay returns to Base
func (t *Tracker) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive = 0
}

// Consecutive returns the current consecutive failure count
func (t *Tracker) Consecutive() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutive
}

// Exhausted returns true once the consecutive failure count reaches the
// configured limit
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit > 0 && t.consecutive >= t.limit
}

func (t *Tracker) delayLocked() time.Duration {
	exp := float64(t.policy.Base) * math.Pow(t.policy.Factor, float64(t.consecutive-1))
	delay := time.Duration(exp)
	if delay > t.policy.Max || exp > float64(math.MaxInt64) {
		delay = t.policy.Max
	}
	if t.policy.Jitter > 0 {
		spread := float64(delay) * t.policy.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < t.policy.Base {
			delay = t.policy.Base
		}
		if delay > t.policy.Max {
			delay = t.policy.Max
		}
	}
	return delay
}

// Window counts events inside a sliding time window
type Window struct {
	mu     sync.Mutex
	span   time.Duration
	limit  int
	events []time.Time
}

// NewWindow creates a window that trips once limit events fall within span
func NewWindow(limit int, span time.Duration) *Window {
	return &Window{span: span, limit: limit}
}

// Observe records an event and returns true once the window holds at
// least limit events
func (w *Window) Observe(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-w.span)
	kept := w.events[:0]
	for _, e := range w.events {
		if e.After(cutoff) {
			kept = append(kept, e)
		}
	}
	w.events = append(kept, now)
	return len(w.events) >= w.limit
}

// Count returns the number of events currently inside the window
func (w *Window) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-w.span)
	n := 0
	for _, e := range w.events {
		if e.After(cutoff) {
			n++
		}
	}
	return n
}
