package data

import (
	"time"

	influxdb "github.com/influxdata/influxdb1-client/v2"
)

// DeviceInfo describes the device that raised the alert.
// All the fields are opaque strings for diagnostic display only.
type DeviceInfo struct {
	Platform  string `json:"platform"`
	Version   string `json:"version"`
	UserAgent string `json:"userAgent"`
}

// AlertPayload is the body posted to the alert intake endpoint.
// It is built once per triggered gesture and never modified afterwards.
type AlertPayload struct {
	UserID     string     `json:"user_id"`
	Latitude   float64    `json:"lat"`
	Longitude  float64    `json:"lon"`
	Battery    int        `json:"battery"`
	DeviceInfo DeviceInfo `json:"device_info"`
	Timestamp  time.Time  `json:"timestamp"`
	LiveStream bool       `json:"live_stream"`
}

// AlertRecord is the flattened result of a single SOS gesture.
type AlertRecord struct {
	UserID      string        `json:"user_id"`
	Succeeded   bool          `json:"succeeded"`
	Captured    bool          `json:"captured"`
	FailureKind string        `json:"failure_kind,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
	Message     string        `json:"message,omitempty"`
	Latitude    float64       `json:"lat"`
	Longitude   float64       `json:"lon"`
	Battery     int           `json:"battery"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
}

// ToDataPoint transforms the alert record into a time-series data point.
func (record AlertRecord) ToDataPoint() (*influxdb.Point, error) {
	outcome := "failed"

	if record.Succeeded {
		outcome = "succeeded"
	}

	tags := map[string]string{
		"user_id": record.UserID,
		"outcome": outcome,
	}

	if record.FailureKind != "" {
		tags["failure_kind"] = record.FailureKind
	}

	fields := map[string]interface{}{
		"duration_ms": record.Duration.Milliseconds(),
		"status_code": record.StatusCode,
	}

	// Position and battery only exist when telemetry was captured.
	if record.Captured {
		fields["lat"] = record.Latitude
		fields["lon"] = record.Longitude
		fields["battery"] = record.Battery
	}

	return influxdb.NewPoint("sos_alerts", tags, fields, record.Timestamp)
}
