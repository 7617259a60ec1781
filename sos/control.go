package sos

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultHoldThreshold is how long the button has to be held to raise an alert.
const DefaultHoldThreshold = 1500 * time.Millisecond

// State is the visible status of the SOS control.
type State int

// Control states.
const (
	Idle State = iota
	Pressing
	Sending
)

func (state State) String() string {
	switch state {
	case Idle:
		return "idle"

	case Pressing:
		return "pressing"

	case Sending:
		return "sending"

	default:
		return "unknown"
	}
}

// TransitionFunc observes state changes. It is called with the control locked
// and must not call back into the control.
type TransitionFunc func(from, to State)

// Control detects the long-press gesture and raises the alert.
type Control struct {
	mutex       sync.Mutex
	ctx         context.Context
	state       State
	threshold   time.Duration
	clock       Clock
	timer       *HoldTimer
	handle      HoldHandle
	telemetry   TelemetryProvider
	transport   AlertTransport
	notifier    Notifier
	transitions []TransitionFunc
	logger      logrus.FieldLogger
}

// Press starts the hold timer. It is ignored unless the control is idle,
// which also keeps a second submission from starting while one is in flight.
func (control *Control) Press() bool {
	control.mutex.Lock()
	defer control.mutex.Unlock()

	if control.state != Idle {
		control.logger.WithField("state", control.state).Debug("Press ignored")
		return false
	}

	control.setState(Pressing)
	control.handle = control.timer.Start(control.threshold, control.trigger)

	return true
}

// Release cancels the hold timer if the threshold has not been reached yet.
// It returns true if the gesture was cancelled.
func (control *Control) Release() bool {
	control.mutex.Lock()
	defer control.mutex.Unlock()

	if control.state != Pressing {
		return false
	}

	// The timer already fired and the alert sequence is about to take over.
	if !control.handle.Cancel() {
		return false
	}

	control.setState(Idle)

	return true
}

// State returns the current state.
func (control *Control) State() State {
	control.mutex.Lock()
	defer control.mutex.Unlock()

	return control.state
}

// OnTransition registers an observer for state changes.
func (control *Control) OnTransition(fn TransitionFunc) {
	control.mutex.Lock()
	defer control.mutex.Unlock()

	control.transitions = append(control.transitions, fn)
}

// SetHoldThreshold changes the hold duration for the following presses.
func (control *Control) SetHoldThreshold(threshold time.Duration) {
	control.mutex.Lock()
	defer control.mutex.Unlock()

	if threshold > 0 {
		control.threshold = threshold
	}
}

// SetClock replaces the clock. It must be called before the first press.
func (control *Control) SetClock(clock Clock) {
	control.mutex.Lock()
	defer control.mutex.Unlock()

	control.clock = clock
	control.timer = NewHoldTimer(clock)
}

// trigger runs when the hold timer expires.
func (control *Control) trigger() {
	control.mutex.Lock()

	if control.state != Pressing {
		control.mutex.Unlock()
		return
	}

	control.setState(Sending)
	control.mutex.Unlock()

	outcome := control.raiseAlert()
	control.notifier.Notify(outcome)

	control.mutex.Lock()
	control.setState(Idle)
	control.mutex.Unlock()
}

// raiseAlert captures the telemetry and submits it once.
func (control *Control) raiseAlert() Outcome {
	outcome := Outcome{
		Started: control.clock.Now(),
	}

	control.logger.Info("SOS triggered, capturing telemetry")

	payload, err := control.telemetry.CaptureTelemetry(control.ctx)

	if err != nil {
		control.handleCaptureError(err)

		outcome.Err = err
		outcome.Finished = control.clock.Now()

		return outcome
	}

	outcome.Payload = &payload

	err = control.transport.Submit(control.ctx, payload)
	control.handleSubmitError(err)

	outcome.Err = err
	outcome.Finished = control.clock.Now()

	if err == nil {
		control.logger.WithFields(logrus.Fields{
			"lat":     payload.Latitude,
			"lon":     payload.Longitude,
			"battery": payload.Battery,
		}).Info("SOS alert submitted")
	}

	return outcome
}

func (control *Control) setState(state State) {
	previous := control.state
	control.state = state

	for _, fn := range control.transitions {
		fn(previous, state)
	}
}

func (control *Control) handleCaptureError(err error) {
	if err != nil {
		control.logger.WithError(err).WithField("kind", KindOf(err)).Error("Couldn't capture the telemetry")
	}
}

func (control *Control) handleSubmitError(err error) {
	if err != nil {
		control.logger.WithError(err).WithField("kind", KindOf(err)).Error("Couldn't submit the SOS alert")
	}
}

// NewControl creates an idle SOS control.
func NewControl(ctx context.Context, telemetry TelemetryProvider, transport AlertTransport,
	notifier Notifier, logger logrus.FieldLogger) *Control {
	if notifier == nil {
		notifier = Notifiers()
	}

	clock := RealClock()

	return &Control{
		ctx:       ctx,
		state:     Idle,
		threshold: DefaultHoldThreshold,
		clock:     clock,
		timer:     NewHoldTimer(clock),
		telemetry: telemetry,
		transport: transport,
		notifier:  notifier,
		logger:    logger,
	}
}
