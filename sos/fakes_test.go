package sos

import (
	"context"
	"io"
	"sync"
	"time"

	"panic-button/data"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

// manualClock fires callbacks only when advanced.
type manualClock struct {
	mutex  sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (timer *manualTimer) Stop() bool {
	timer.clock.mutex.Lock()
	defer timer.clock.mutex.Unlock()

	if timer.stopped || timer.fired {
		return false
	}

	timer.stopped = true

	return true
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()

	return clock.now
}

func (clock *manualClock) AfterFunc(d time.Duration, f func()) Stopper {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()

	timer := &manualTimer{
		clock: clock,
		when:  clock.now.Add(d),
		fn:    f,
	}
	clock.timers = append(clock.timers, timer)

	return timer
}

// Advance moves the time forward and runs the due callbacks on the calling goroutine.
func (clock *manualClock) Advance(d time.Duration) {
	clock.mutex.Lock()
	clock.now = clock.now.Add(d)

	due := make([]*manualTimer, 0)

	for _, timer := range clock.timers {
		if !timer.stopped && !timer.fired && !timer.when.After(clock.now) {
			timer.fired = true
			due = append(due, timer)
		}
	}
	clock.mutex.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

func newManualClock() *manualClock {
	return &manualClock{
		now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fakeLocation struct {
	mutex sync.Mutex
	calls int
	fix   Fix
	err   error
	// block makes the read wait for the context.
	block bool
}

func (location *fakeLocation) CurrentPosition(ctx context.Context, request LocationRequest) (Fix, error) {
	location.mutex.Lock()
	location.calls++
	location.mutex.Unlock()

	if location.block {
		<-ctx.Done()
		return Fix{}, ctx.Err()
	}

	return location.fix, location.err
}

func (location *fakeLocation) Calls() int {
	location.mutex.Lock()
	defer location.mutex.Unlock()

	return location.calls
}

type fakeBattery struct {
	level float64
	err   error
}

func (battery fakeBattery) BatteryLevel(ctx context.Context) (float64, error) {
	return battery.level, battery.err
}

type fakeTransport struct {
	mutex    sync.Mutex
	payloads []data.AlertPayload
	err      error
	entered  chan struct{}
	release  chan struct{}
}

func (transport *fakeTransport) Submit(ctx context.Context, payload data.AlertPayload) error {
	transport.mutex.Lock()
	transport.payloads = append(transport.payloads, payload)
	transport.mutex.Unlock()

	if transport.entered != nil {
		transport.entered <- struct{}{}
	}

	if transport.release != nil {
		<-transport.release
	}

	return transport.err
}

func (transport *fakeTransport) Payloads() []data.AlertPayload {
	transport.mutex.Lock()
	defer transport.mutex.Unlock()

	return append([]data.AlertPayload(nil), transport.payloads...)
}

type recordingNotifier struct {
	mutex    sync.Mutex
	outcomes []Outcome
}

func (notifier *recordingNotifier) Notify(outcome Outcome) {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()

	notifier.outcomes = append(notifier.outcomes, outcome)
}

func (notifier *recordingNotifier) Outcomes() []Outcome {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()

	return append([]Outcome(nil), notifier.outcomes...)
}
