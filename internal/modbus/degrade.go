package modbus

import (
	"sync"
	"time"
)

// DegradeTracker implements spec §4.8's per-slave degrade model: once a
// slave accumulates degradeCycle consecutive failed poll cycles, it is
// skipped for degradeTime before being retried. Unlike the teacher's
// Closed/Open/HalfOpen circuit breaker (infrastructure/resilience), there
// is no half-open probing state — the slave is simply skipped, silently,
// until the timer expires.
type DegradeTracker struct {
	mu           sync.Mutex
	degradeCycle int
	degradeTime  time.Duration
	failures     map[int]int
	skippedUntil map[int]time.Time
}

// NewDegradeTracker builds a tracker for one driver node's slaves.
func NewDegradeTracker(degradeCycle int, degradeTime time.Duration) *DegradeTracker {
	return &DegradeTracker{
		degradeCycle: degradeCycle,
		degradeTime:  degradeTime,
		failures:     make(map[int]int),
		skippedUntil: make(map[int]time.Time),
	}
}

// RecordSuccess clears a slave's failure counter and any active skip.
func (d *DegradeTracker) RecordSuccess(slaveID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, slaveID)
	delete(d.skippedUntil, slaveID)
}

// RecordFailure increments a slave's consecutive-failure counter and, once
// it reaches degradeCycle, marks the slave skipped for degradeTime.
func (d *DegradeTracker) RecordFailure(slaveID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[slaveID]++
	if d.failures[slaveID] >= d.degradeCycle {
		d.skippedUntil[slaveID] = time.Now().Add(d.degradeTime)
	}
}

// Skipped reports whether slaveID is currently within its degrade window.
// Once the window elapses the slave is automatically un-skipped (its
// failure counter also resets, giving it a fresh run at degradeCycle).
func (d *DegradeTracker) Skipped(slaveID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	until, ok := d.skippedUntil[slaveID]
	if !ok {
		return false
	}
	if time.Now().Before(until) {
		return true
	}
	delete(d.skippedUntil, slaveID)
	delete(d.failures, slaveID)
	return false
}
