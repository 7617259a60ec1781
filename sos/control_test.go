package sos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type controlFixture struct {
	clock     *manualClock
	location  *fakeLocation
	transport *fakeTransport
	notifier  *recordingNotifier
	control   *Control
	states    []State
}

func newControlFixture(t *testing.T) *controlFixture {
	t.Helper()

	fixture := &controlFixture{
		clock:     newManualClock(),
		location:  &fakeLocation{fix: Fix{Latitude: 12.34, Longitude: 56.78}},
		transport: &fakeTransport{},
		notifier:  &recordingNotifier{},
	}

	telemetry := &Telemetry{
		UserID:   "tourist-1",
		Location: fixture.location,
		Battery:  fakeBattery{level: 0.42},
		Device:   StaticDeviceInfo{Platform: "Linux x86_64", Version: "5.0", UserAgent: "test-agent"},
		Request:  DefaultLocationRequest(),
		Clock:    fixture.clock,
	}

	fixture.control = NewControl(context.Background(), telemetry, fixture.transport,
		fixture.notifier, quietLogger())
	fixture.control.SetClock(fixture.clock)
	fixture.control.OnTransition(func(from, to State) {
		fixture.states = append(fixture.states, to)
	})

	return fixture
}

func TestHoldAndSubmitSuccess(t *testing.T) {
	fixture := newControlFixture(t)

	require.True(t, fixture.control.Press())
	assert.Equal(t, Pressing, fixture.control.State())

	fixture.clock.Advance(2000 * time.Millisecond)

	payloads := fixture.transport.Payloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, 12.34, payloads[0].Latitude)
	assert.Equal(t, 56.78, payloads[0].Longitude)
	assert.Equal(t, 42, payloads[0].Battery)
	assert.True(t, payloads[0].LiveStream)
	assert.Equal(t, "tourist-1", payloads[0].UserID)

	outcomes := fixture.notifier.Outcomes()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Succeeded())
	assert.Equal(t, Idle, fixture.control.State())
	assert.Equal(t, []State{Pressing, Sending, Idle}, fixture.states)
}

func TestShortHoldIsCancelled(t *testing.T) {
	for _, hold := range []time.Duration{0, 10 * time.Millisecond, 800 * time.Millisecond, 1499 * time.Millisecond} {
		fixture := newControlFixture(t)

		require.True(t, fixture.control.Press())
		fixture.clock.Advance(hold)
		assert.True(t, fixture.control.Release(), "hold %s", hold)

		// The cancelled timer must never fire later.
		fixture.clock.Advance(time.Minute)

		assert.Zero(t, fixture.location.Calls(), "hold %s", hold)
		assert.Empty(t, fixture.transport.Payloads(), "hold %s", hold)
		assert.Empty(t, fixture.notifier.Outcomes(), "hold %s", hold)
		assert.Equal(t, Idle, fixture.control.State())
		assert.Equal(t, []State{Pressing, Idle}, fixture.states)
	}
}

func TestLongHoldFiresExactlyOnce(t *testing.T) {
	for _, hold := range []time.Duration{1500 * time.Millisecond, 2 * time.Second, time.Minute} {
		fixture := newControlFixture(t)

		require.True(t, fixture.control.Press())
		fixture.clock.Advance(hold)
		fixture.clock.Advance(hold)

		// Releasing after the threshold changes nothing.
		assert.False(t, fixture.control.Release())

		assert.Equal(t, 1, fixture.location.Calls(), "hold %s", hold)
		assert.Len(t, fixture.transport.Payloads(), 1, "hold %s", hold)
		assert.Len(t, fixture.notifier.Outcomes(), 1, "hold %s", hold)
	}
}

func TestLocationTimeoutPreventsSubmission(t *testing.T) {
	fixture := newControlFixture(t)
	fixture.location.block = true
	fixture.control.telemetry.(*Telemetry).Request.Timeout = 20 * time.Millisecond

	require.True(t, fixture.control.Press())
	fixture.clock.Advance(2000 * time.Millisecond)

	assert.Empty(t, fixture.transport.Payloads())

	outcomes := fixture.notifier.Outcomes()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Succeeded())
	assert.Equal(t, LocationTimeout, outcomes[0].Kind())
	assert.ErrorIs(t, outcomes[0].Err, ErrLocationTimeout)
	assert.Nil(t, outcomes[0].Payload)
	assert.Equal(t, Idle, fixture.control.State())
}

func TestLocationFailuresPreventSubmission(t *testing.T) {
	for _, failure := range []error{ErrLocationDenied, ErrLocationUnavailable, ErrLocationError} {
		fixture := newControlFixture(t)
		fixture.location.err = failure

		require.True(t, fixture.control.Press())
		fixture.clock.Advance(1500 * time.Millisecond)

		assert.Empty(t, fixture.transport.Payloads())

		outcomes := fixture.notifier.Outcomes()
		require.Len(t, outcomes, 1)
		assert.ErrorIs(t, outcomes[0].Err, failure)

		// Immediately re-armable.
		assert.True(t, fixture.control.Press())
	}
}

func TestRejectedSubmissionNotifiesFailureOnce(t *testing.T) {
	fixture := newControlFixture(t)
	fixture.transport.err = &Failure{Kind: SubmissionRejected, StatusCode: 503}

	require.True(t, fixture.control.Press())
	fixture.clock.Advance(1500 * time.Millisecond)

	outcomes := fixture.notifier.Outcomes()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Succeeded())
	assert.Equal(t, SubmissionRejected, outcomes[0].Kind())
	require.NotNil(t, outcomes[0].Payload)
	assert.Len(t, fixture.transport.Payloads(), 1)
	assert.Equal(t, 503, outcomes[0].Record().StatusCode)
}

func TestNoConcurrentSubmission(t *testing.T) {
	fixture := newControlFixture(t)
	fixture.transport.entered = make(chan struct{}, 1)
	fixture.transport.release = make(chan struct{})

	require.True(t, fixture.control.Press())

	done := make(chan struct{})

	go func() {
		fixture.clock.Advance(1500 * time.Millisecond)
		close(done)
	}()

	<-fixture.transport.entered

	assert.Equal(t, Sending, fixture.control.State())
	assert.False(t, fixture.control.Press())
	assert.False(t, fixture.control.Release())

	close(fixture.transport.release)
	<-done

	assert.Len(t, fixture.transport.Payloads(), 1)
	assert.Len(t, fixture.notifier.Outcomes(), 1)
	assert.Equal(t, Idle, fixture.control.State())
	assert.True(t, fixture.control.Press())
}

func TestPressWhilePressingIsIgnored(t *testing.T) {
	fixture := newControlFixture(t)

	require.True(t, fixture.control.Press())
	fixture.clock.Advance(1000 * time.Millisecond)
	assert.False(t, fixture.control.Press())

	// The timer keeps running from the first press.
	fixture.clock.Advance(500 * time.Millisecond)

	assert.Len(t, fixture.transport.Payloads(), 1)
}

func TestReleaseWhenIdleIsNoop(t *testing.T) {
	fixture := newControlFixture(t)

	assert.False(t, fixture.control.Release())
	assert.Empty(t, fixture.states)
}

func TestHoldThresholdIsConfigurable(t *testing.T) {
	fixture := newControlFixture(t)
	fixture.control.SetHoldThreshold(3 * time.Second)

	require.True(t, fixture.control.Press())
	fixture.clock.Advance(2 * time.Second)
	assert.Empty(t, fixture.transport.Payloads())

	fixture.clock.Advance(time.Second)
	assert.Len(t, fixture.transport.Payloads(), 1)
}
