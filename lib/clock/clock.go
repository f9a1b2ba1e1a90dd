// Copyright 2026 The Keyhole Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the host uses. Production code
// injects Real(); tests inject Fake() with deterministic control over
// when timers fire.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f. Returns a Timer
	// that can cancel the pending call with Stop. If d <= 0, f runs
	// immediately.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on its C channel at
	// the given interval. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer represents a scheduled call created by AfterFunc. Its C field
// is always nil, matching time.AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer has already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker wraps a periodic timer. Read ticks from C; call Stop when the
// Ticker is no longer needed. The C channel has capacity 1, matching
// time.Ticker: if the consumer falls behind, ticks are dropped.
type Ticker struct {
	// C delivers ticks.
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
