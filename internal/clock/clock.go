// Package clock provides wall-clock access and elapsed-time measurement.
//
// Components that make decisions on wall-clock time take a Clock so that
// tests can drive time explicitly with a Manual clock.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Manual is a Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// =============================================================================
// Stopwatch
// =============================================================================

// Stopwatch measures elapsed time on the monotonic clock.
// The zero value is stopped with zero elapsed time.
type Stopwatch struct {
	start   time.Time
	elapsed time.Duration
	running bool
}

// StartStopwatch returns a running stopwatch.
func StartStopwatch() *Stopwatch {
	sw := &Stopwatch{}
	sw.Start()
	return sw
}

// Start (re)starts measurement from zero.
func (sw *Stopwatch) Start() {
	sw.start = time.Now()
	sw.elapsed = 0
	sw.running = true
}

// Stop ends measurement and returns the elapsed time.
func (sw *Stopwatch) Stop() time.Duration {
	if sw.running {
		sw.elapsed = time.Since(sw.start)
		sw.running = false
	}
	return sw.elapsed
}

// Elapsed returns the time since Start, or the final time once stopped.
func (sw *Stopwatch) Elapsed() time.Duration {
	if sw.running {
		return time.Since(sw.start)
	}
	return sw.elapsed
}
