package model

// Client message types.
const (
	TypePress     = "press"
	TypeRelease   = "release"
	TypeTelemetry = "telemetry"
)

// Server message types.
const (
	TypeState            = "state"
	TypeTelemetryRequest = "telemetry_request"
	TypeNotification     = "notification"
)

// Location error codes sent by the page.
const (
	LocationErrorUnavailable = "unavailable"
	LocationErrorTimeout     = "timeout"
	LocationErrorDenied      = "denied"
	LocationErrorOther       = "error"
)

// Position error codes of the browser geolocation API.
const (
	PositionPermissionDenied = 1
	PositionUnavailable      = 2
	PositionTimeout          = 3
)

// ClientMessage is any message sent by the page.
type ClientMessage struct {
	Type string `json:"type"`
	// ID matches a telemetry reply with its request.
	ID        uint64   `json:"id,omitempty"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lon,omitempty"`
	Accuracy  float64  `json:"accuracy,omitempty"`
	Error     string   `json:"error,omitempty"`
	// Code is the browser's position error code.
	Code      int      `json:"code,omitempty"`
	Message   string   `json:"message,omitempty"`
	Battery   *float64 `json:"battery,omitempty"`
	Platform  string   `json:"platform,omitempty"`
	Version   string   `json:"version,omitempty"`
	UserAgent string   `json:"userAgent,omitempty"`
}

// StateMessage tells the page which state the SOS button is in.
type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// TelemetryRequest asks the page for a position and battery reading.
type TelemetryRequest struct {
	Type         string `json:"type"`
	ID           uint64 `json:"id"`
	HighAccuracy bool   `json:"high_accuracy"`
	TimeoutMs    int64  `json:"timeout_ms"`
	MaximumAgeMs int64  `json:"maximum_age_ms"`
}

// Notification is shown to the user as a toast.
type Notification struct {
	Type        string `json:"type"`
	Level       string `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description"`
	FailureKind string `json:"failure_kind,omitempty"`
}

// Health is the response of the health check.
type Health struct {
	Status   string `json:"status"`
	Sessions int64  `json:"sessions"`
}
