// Package timer provides a resettable, stoppable periodic/one-shot timer
// used by the RTMP sender's send interval, the RIB ager's sweep tick, and
// the router's periodic ZIP query tick.
package timer

import (
	"sync"
	"time"
)

// Timer wraps time.AfterFunc with Reset/Stop semantics that are safe to call
// from any goroutine, including from inside the callback itself.
type Timer struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	fn       func()
	running  bool
}

// New creates a new Timer that calls f after d elapses. The timer is
// started immediately.
func New(d time.Duration, f func()) *Timer {
	t := &Timer{interval: d, fn: f, running: true}
	t.timer = time.AfterFunc(d, t.fire)
	return t
}

// fire is the wrapper actually handed to time.AfterFunc; it clears the
// running flag before invoking the caller's function so Running() reflects
// reality even if the callback itself calls Reset.
func (t *Timer) fire() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.fn()
}

// Reset restarts the timer using its original interval.
func (t *Timer) Reset() {
	t.ResetTo(t.interval)
}

// ResetTo restarts the timer with a new interval, replacing the one it was
// created with. The RIB ager, the RTMP sender, and the router's ZIP tick
// call it from their own callbacks to re-arm for the next period.
func (t *Timer) ResetTo(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = d
	t.timer.Stop()
	t.running = true
	t.timer.Reset(d)
}

// Stop cancels the timer. Safe to call even if the timer already fired.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.Stop()
	t.running = false
}

// Running reports whether the timer is currently counting down.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
