package sos

import (
	"context"
	"errors"
	"math"
	"time"

	"panic-button/data"

	"github.com/sirupsen/logrus"
)

// Telemetry defaults.
const (
	DefaultLocationTimeout    = 10 * time.Second
	DefaultLocationMaximumAge = 60 * time.Second
	DefaultBatteryPercent     = 100
)

// Fix is a single position reading.
type Fix struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationRequest carries the options of a single-shot position read.
type LocationRequest struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaximumAge is the oldest cached fix the caller accepts.
	MaximumAge time.Duration
}

// DefaultLocationRequest asks for a high accuracy fix within 10 seconds,
// accepting a cached one up to a minute old.
func DefaultLocationRequest() LocationRequest {
	return LocationRequest{
		HighAccuracy: true,
		Timeout:      DefaultLocationTimeout,
		MaximumAge:   DefaultLocationMaximumAge,
	}
}

// LocationProvider reads the device position.
// Implementations return a *Failure with a location kind when they can
// tell why the read failed.
type LocationProvider interface {
	CurrentPosition(ctx context.Context, request LocationRequest) (Fix, error)
}

// BatteryProvider reads the battery charge as a fraction in [0, 1].
type BatteryProvider interface {
	BatteryLevel(ctx context.Context) (float64, error)
}

// DeviceInfoProvider describes the device for diagnostics.
type DeviceInfoProvider interface {
	DeviceInfo() data.DeviceInfo
}

// StaticDeviceInfo is a DeviceInfoProvider with fixed values.
type StaticDeviceInfo data.DeviceInfo

// DeviceInfo returns the fixed values.
func (info StaticDeviceInfo) DeviceInfo() data.DeviceInfo {
	return data.DeviceInfo(info)
}

// TelemetryProvider captures everything an alert needs.
type TelemetryProvider interface {
	CaptureTelemetry(ctx context.Context) (data.AlertPayload, error)
}

// Telemetry assembles alert payloads from the device sensors.
type Telemetry struct {
	UserID   string
	Location LocationProvider
	Battery  BatteryProvider
	Device   DeviceInfoProvider
	Request  LocationRequest
	Clock    Clock
	Logger   logrus.FieldLogger
}

// CaptureTelemetry reads the position and then the battery and builds the payload.
// Without a position there is no payload.
func (telemetry *Telemetry) CaptureTelemetry(ctx context.Context) (data.AlertPayload, error) {
	if telemetry.Location == nil {
		return data.AlertPayload{}, ErrLocationUnavailable
	}

	fix, err := telemetry.readLocation(ctx)

	if err != nil {
		telemetry.handleLocationError(err)

		return data.AlertPayload{}, err
	}

	payload := data.AlertPayload{
		UserID:     telemetry.UserID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Battery:    telemetry.readBattery(ctx),
		Timestamp:  telemetry.now().UTC(),
		LiveStream: true,
	}

	if telemetry.Device != nil {
		payload.DeviceInfo = telemetry.Device.DeviceInfo()
	}

	return payload, nil
}

func (telemetry *Telemetry) readLocation(ctx context.Context) (Fix, error) {
	request := telemetry.Request

	if request.Timeout <= 0 {
		request.Timeout = DefaultLocationTimeout
	}

	locationCtx, cancel := context.WithTimeout(ctx, request.Timeout)
	defer cancel()

	fix, err := telemetry.Location.CurrentPosition(locationCtx, request)

	if err == nil {
		return fix, nil
	}

	if KindOf(err).IsLocation() {
		return Fix{}, err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(locationCtx.Err(), context.DeadlineExceeded) {
		return Fix{}, newFailure(LocationTimeout, err)
	}

	return Fix{}, newFailure(LocationError, err)
}

// readBattery never fails: an unknown level is reported as full.
func (telemetry *Telemetry) readBattery(ctx context.Context) int {
	if telemetry.Battery == nil {
		return DefaultBatteryPercent
	}

	level, err := telemetry.Battery.BatteryLevel(ctx)

	if err != nil || math.IsNaN(level) {
		telemetry.handleBatteryError(err)

		return DefaultBatteryPercent
	}

	return BatteryPercent(level)
}

func (telemetry *Telemetry) now() time.Time {
	if telemetry.Clock == nil {
		return time.Now()
	}

	return telemetry.Clock.Now()
}

func (telemetry *Telemetry) handleLocationError(err error) {
	if telemetry.Logger != nil {
		telemetry.Logger.WithError(err).Warn("Couldn't read the device location")
	}
}

func (telemetry *Telemetry) handleBatteryError(err error) {
	if telemetry.Logger != nil && err != nil {
		telemetry.Logger.WithError(err).Debug("Couldn't read the battery level, assuming full charge")
	}
}

// BatteryPercent converts a charge fraction to a whole percentage in [0, 100].
func BatteryPercent(level float64) int {
	percent := int(math.Round(level * 100))

	if percent < 0 {
		return 0
	}

	if percent > 100 {
		return 100
	}

	return percent
}
