package sos

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an SOS gesture did not deliver an alert.
type FailureKind string

// Failure kinds reported to notifiers.
const (
	// LocationUnavailable means the device has no location capability.
	LocationUnavailable FailureKind = "location_unavailable"
	// LocationTimeout means no fix was acquired within the request timeout.
	LocationTimeout FailureKind = "location_timeout"
	// LocationDenied means the user or the platform refused access to the location.
	LocationDenied FailureKind = "location_denied"
	// LocationError is any other location sensor failure.
	LocationError FailureKind = "location_error"
	// SubmissionRejected means the intake endpoint answered with a non-2xx status.
	SubmissionRejected FailureKind = "submission_rejected"
	// SubmissionNetworkError means the request to the intake endpoint could not be completed.
	SubmissionNetworkError FailureKind = "submission_network_error"
)

// Sentinels for errors.Is checks. Only the kind is compared.
var (
	ErrLocationUnavailable    = &Failure{Kind: LocationUnavailable}
	ErrLocationTimeout        = &Failure{Kind: LocationTimeout}
	ErrLocationDenied         = &Failure{Kind: LocationDenied}
	ErrLocationError          = &Failure{Kind: LocationError}
	ErrSubmissionRejected     = &Failure{Kind: SubmissionRejected}
	ErrSubmissionNetworkError = &Failure{Kind: SubmissionNetworkError}
)

// Failure is a terminal error of a single SOS gesture.
type Failure struct {
	Kind FailureKind
	// StatusCode is set for SubmissionRejected.
	StatusCode int
	Err        error
}

func (failure *Failure) Error() string {
	switch {
	case failure.StatusCode != 0 && failure.Err != nil:
		return fmt.Sprintf("%s (status %d): %v", failure.Kind, failure.StatusCode, failure.Err)

	case failure.StatusCode != 0:
		return fmt.Sprintf("%s (status %d)", failure.Kind, failure.StatusCode)

	case failure.Err != nil:
		return fmt.Sprintf("%s: %v", failure.Kind, failure.Err)

	default:
		return string(failure.Kind)
	}
}

// Unwrap returns the underlying cause.
func (failure *Failure) Unwrap() error {
	return failure.Err
}

// Is reports whether the target is a failure of the same kind.
func (failure *Failure) Is(target error) bool {
	other, ok := target.(*Failure)

	if !ok {
		return false
	}

	return other.Kind == failure.Kind
}

// IsLocation reports whether the kind belongs to the location sensor.
func (kind FailureKind) IsLocation() bool {
	switch kind {
	case LocationUnavailable, LocationTimeout, LocationDenied, LocationError:
		return true
	}

	return false
}

// KindOf extracts the failure kind from the error chain.
// It returns an empty kind for nil and for errors that are not failures.
func KindOf(err error) FailureKind {
	var failure *Failure

	if errors.As(err, &failure) {
		return failure.Kind
	}

	return ""
}

func newFailure(kind FailureKind, err error) *Failure {
	return &Failure{
		Kind: kind,
		Err:  err,
	}
}
