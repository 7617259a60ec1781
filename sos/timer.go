package sos

import (
	"sync"
	"time"
)

// Clock schedules the hold timer. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper stops a scheduled callback.
type Stopper interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// RealClock returns the clock backed by the runtime timers.
func RealClock() Clock {
	return realClock{}
}

// HoldTimer is a single-shot cancellable timer.
//
// Every start issues a new generation. The callback only runs when its
// generation is still current, so a cancellation that races with an
// already expired runtime timer always wins.
type HoldTimer struct {
	mutex      sync.Mutex
	clock      Clock
	generation uint64
	pending    Stopper
}

// HoldHandle identifies one started hold timer.
type HoldHandle struct {
	timer      *HoldTimer
	generation uint64
}

// Start schedules fire after d and invalidates any previous handle.
func (timer *HoldTimer) Start(d time.Duration, fire func()) HoldHandle {
	timer.mutex.Lock()
	defer timer.mutex.Unlock()

	timer.stopPending()
	timer.generation++
	generation := timer.generation

	timer.pending = timer.clock.AfterFunc(d, func() {
		if timer.claim(generation) {
			fire()
		}
	})

	return HoldHandle{
		timer:      timer,
		generation: generation,
	}
}

// Cancel prevents the callback from running.
// It returns false if the callback already ran or the handle was replaced.
func (handle HoldHandle) Cancel() bool {
	if handle.timer == nil {
		return false
	}

	return handle.timer.claim(handle.generation)
}

// claim consumes the generation. Only the first claimer succeeds.
func (timer *HoldTimer) claim(generation uint64) bool {
	timer.mutex.Lock()
	defer timer.mutex.Unlock()

	if timer.generation != generation {
		return false
	}

	timer.generation++
	timer.stopPending()

	return true
}

func (timer *HoldTimer) stopPending() {
	if timer.pending != nil {
		timer.pending.Stop()
		timer.pending = nil
	}
}

// NewHoldTimer creates a hold timer driven by the clock.
func NewHoldTimer(clock Clock) *HoldTimer {
	if clock == nil {
		clock = RealClock()
	}

	return &HoldTimer{
		clock: clock,
	}
}
