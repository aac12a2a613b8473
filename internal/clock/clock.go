// Package clock is the timer primitive used by requesters and the holder
// daemon. Production code takes Real(); tests drive Fake() by hand.
package clock

import "time"

// Clock abstracts the time operations the sharer needs.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f once after d. Stopping the returned Timer before
	// it fires cancels the call.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker panics if d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending one-shot call created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop reports whether the call was prevented. False means it already
// fired or was stopped earlier.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers ticks on C. The buffer holds one tick; late ticks drop.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

func (t *Ticker) Stop() { t.stopFunc() }
