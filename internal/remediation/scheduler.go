// Package remediation restores failed connectors through bounded,
// observable retry jobs driven by exponential backoff.
package remediation

import "time"

// Scheduler defers work. The engine schedules one callback per pending
// retry; tests swap in a fake to fire callbacks deterministically.
type Scheduler interface {
	// After runs fn once d elapses. The returned cancel stops the callback
	// if it has not fired yet.
	After(d time.Duration, fn func()) (cancel func())
}

// timerScheduler is the production scheduler backed by time.AfterFunc.
type timerScheduler struct{}

// NewTimerScheduler returns the production scheduler.
func NewTimerScheduler() Scheduler { return timerScheduler{} }

func (timerScheduler) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
