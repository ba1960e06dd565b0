// Package sched provides cancellable scheduled tasks on top of a pluggable clock.
package sched

import (
	"sync"
	"time"
)

// Timer is the handle returned by Clock.AfterFunc.
// *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Real() is backed by the time package; FakeClock is
// driven manually from tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Task is a single scheduled callback together with its cancellation token.
// A Task runs at most once. Cancel is idempotent and safe on a nil Task or on a
// Task that has already fired.
type Task struct {
	mu    sync.Mutex
	timer Timer
	done  bool
}

// After schedules f to run once after d on the given clock.
func After(clock Clock, d time.Duration, f func()) *Task {
	t := &Task{}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.done {
			t.mu.Unlock()
			return
		}
		t.done = true
		t.mu.Unlock()
		f()
	})
	return t
}

// Cancel prevents the callback from running if it has not started yet.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Pending reports whether the task is still waiting to fire.
func (t *Task) Pending() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.done
}
