package sos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureTelemetryBuildsPayload(t *testing.T) {
	clock := newManualClock()
	telemetry := &Telemetry{
		UserID:   "tourist-1",
		Location: &fakeLocation{fix: Fix{Latitude: 12.34, Longitude: 56.78}},
		Battery:  fakeBattery{level: 0.42},
		Device:   StaticDeviceInfo{Platform: "MacIntel", Version: "5.0 (Macintosh)", UserAgent: "Mozilla/5.0"},
		Clock:    clock,
	}

	payload, err := telemetry.CaptureTelemetry(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tourist-1", payload.UserID)
	assert.Equal(t, 12.34, payload.Latitude)
	assert.Equal(t, 56.78, payload.Longitude)
	assert.Equal(t, 42, payload.Battery)
	assert.Equal(t, "MacIntel", payload.DeviceInfo.Platform)
	assert.Equal(t, "Mozilla/5.0", payload.DeviceInfo.UserAgent)
	assert.Equal(t, clock.Now(), payload.Timestamp)
	assert.True(t, payload.LiveStream)
}

func TestBatteryFailureDefaultsToFull(t *testing.T) {
	cases := map[string]BatteryProvider{
		"unavailable": nil,
		"read error":  fakeBattery{err: errors.New("battery API not supported")},
	}

	for name, battery := range cases {
		t.Run(name, func(t *testing.T) {
			telemetry := &Telemetry{
				Location: &fakeLocation{fix: Fix{Latitude: 1, Longitude: 2}},
				Battery:  battery,
			}

			payload, err := telemetry.CaptureTelemetry(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 100, payload.Battery)
		})
	}
}

func TestMissingLocationProvider(t *testing.T) {
	telemetry := &Telemetry{}

	_, err := telemetry.CaptureTelemetry(context.Background())
	assert.ErrorIs(t, err, ErrLocationUnavailable)
}

func TestLocationErrorsAreClassified(t *testing.T) {
	generic := &Telemetry{Location: &fakeLocation{err: errors.New("sensor exploded")}}

	_, err := generic.CaptureTelemetry(context.Background())
	assert.Equal(t, LocationError, KindOf(err))

	denied := &Telemetry{Location: &fakeLocation{err: ErrLocationDenied}}

	_, err = denied.CaptureTelemetry(context.Background())
	assert.Equal(t, LocationDenied, KindOf(err))

	slow := &Telemetry{
		Location: &fakeLocation{block: true},
		Request:  LocationRequest{Timeout: 10 * time.Millisecond},
	}

	_, err = slow.CaptureTelemetry(context.Background())
	assert.Equal(t, LocationTimeout, KindOf(err))
}

func TestBatteryPercent(t *testing.T) {
	assert.Equal(t, 42, BatteryPercent(0.42))
	assert.Equal(t, 100, BatteryPercent(1))
	assert.Equal(t, 0, BatteryPercent(0))
	assert.Equal(t, 100, BatteryPercent(1.7))
	assert.Equal(t, 0, BatteryPercent(-0.2))
	assert.Equal(t, 67, BatteryPercent(0.666))
}
