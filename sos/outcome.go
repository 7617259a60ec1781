package sos

import (
	"errors"
	"time"

	"panic-button/data"
)

// Outcome is the result of one triggered SOS gesture.
// Exactly one outcome is produced per gesture that reached the hold threshold.
type Outcome struct {
	// Payload is nil when telemetry capture failed.
	Payload  *data.AlertPayload
	Err      error
	Started  time.Time
	Finished time.Time
}

// Succeeded reports whether the alert was delivered.
func (outcome Outcome) Succeeded() bool {
	return outcome.Err == nil
}

// Kind returns the failure kind, empty on success.
func (outcome Outcome) Kind() FailureKind {
	if outcome.Err == nil {
		return ""
	}

	if kind := KindOf(outcome.Err); kind != "" {
		return kind
	}

	return SubmissionNetworkError
}

// Record flattens the outcome for storage and publishing.
func (outcome Outcome) Record() data.AlertRecord {
	record := data.AlertRecord{
		Succeeded:   outcome.Succeeded(),
		FailureKind: string(outcome.Kind()),
		Duration:    outcome.Finished.Sub(outcome.Started),
		Timestamp:   outcome.Finished,
	}

	if outcome.Err != nil {
		record.Message = outcome.Err.Error()

		var failure *Failure

		if errors.As(outcome.Err, &failure) {
			record.StatusCode = failure.StatusCode
		}
	}

	if outcome.Payload != nil {
		record.Captured = true
		record.UserID = outcome.Payload.UserID
		record.Latitude = outcome.Payload.Latitude
		record.Longitude = outcome.Payload.Longitude
		record.Battery = outcome.Payload.Battery
	}

	return record
}

// Notifier is told about every completed gesture exactly once.
type Notifier interface {
	Notify(outcome Outcome)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(outcome Outcome)

// Notify calls the function.
func (fn NotifierFunc) Notify(outcome Outcome) {
	fn(outcome)
}

type multiNotifier []Notifier

func (notifiers multiNotifier) Notify(outcome Outcome) {
	for _, notifier := range notifiers {
		notifier.Notify(outcome)
	}
}

// Notifiers combines several notifiers into one. Nil entries are skipped.
func Notifiers(notifiers ...Notifier) Notifier {
	combined := make(multiNotifier, 0, len(notifiers))

	for _, notifier := range notifiers {
		if notifier != nil {
			combined = append(combined, notifier)
		}
	}

	return combined
}
