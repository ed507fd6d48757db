// Package clock implements the simulator's logical clock: a
// timezone-aware instant that only ever moves forward, optionally paused
// and optionally scaled for auto-advance.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// ErrBackwards is returned when Set would move the clock before its
// current instant.
type ErrBackwards struct {
	Current time.Time
	Target  time.Time
}

func (e *ErrBackwards) Error() string {
	return fmt.Sprintf("clock: backwards not allowed (current=%s target=%s)",
		e.Current.Format(time.RFC3339), e.Target.Format(time.RFC3339))
}

// ErrNonPositive is returned when Advance is called with seconds <= 0.
type ErrNonPositive struct {
	Seconds float64
}

func (e *ErrNonPositive) Error() string {
	return fmt.Sprintf("clock: advance requires seconds > 0, got %g", e.Seconds)
}

// Clock is a monotonic, pausable simulated clock. The zero value is not
// ready to use; construct with New.
//
// Clock is safe for concurrent use, but the simulator's engine is
// expected to hold its own mutex around sequences of clock operations
// that must appear atomic with other engine state changes (see
// internal/engine).
type Clock struct {
	mu        sync.Mutex
	current   time.Time
	isPaused  bool
	timeScale float64
}

// New creates a Clock starting at start. A zero time.Time defaults to
// time.Now().UTC().
func New(start time.Time) *Clock {
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Clock{
		current:   start,
		timeScale: 1.0,
	}
}

// Now returns the current simulated instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set moves the clock to target. Moving backward is rejected.
func (c *Clock) Set(target time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if target.Before(c.current) {
		return &ErrBackwards{Current: c.current, Target: target}
	}
	c.current = target
	return nil
}

// Advance moves the clock forward by seconds, which must be positive.
// Returns the new current instant.
func (c *Clock) Advance(seconds float64) (time.Time, error) {
	if seconds <= 0 {
		return time.Time{}, &ErrNonPositive{Seconds: seconds}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Duration(seconds * float64(time.Second)))
	return c.current, nil
}

// IsPaused reports whether auto-advance is currently suspended. Pause
// never blocks manual Advance or Set calls.
func (c *Clock) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPaused
}

// Pause suspends auto-advance. Idempotent.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isPaused = true
}

// Resume re-enables auto-advance. Idempotent.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isPaused = false
}

// TimeScale returns the current auto-advance scale factor.
func (c *Clock) TimeScale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeScale
}

// SetTimeScale sets the auto-advance scale factor, which must be positive.
func (c *Clock) SetTimeScale(scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("clock: time_scale must be positive, got %g", scale)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeScale = scale
	return nil
}
