package transcriber

import (
	"errors"
	"fmt"
)

// ErrUnavailable means no local recognizer could be obtained.
var ErrUnavailable = errors.New("no speech recognizer available")

// FailureReason classifies why a backend call failed.
type FailureReason string

const (
	ReasonTransport   FailureReason = "transport"
	ReasonStatus      FailureReason = "status"
	ReasonBody        FailureReason = "body"
	ReasonEmpty       FailureReason = "empty"
	ReasonUnavailable FailureReason = "unavailable"
	ReasonRecognition FailureReason = "recognition"
	ReasonAudio       FailureReason = "audio"
)

// FailureError carries a FailureReason and the underlying cause.
type FailureError struct {
	Reason FailureReason
	Err    error
}

func (e *FailureError) Error() string {
	if e == nil || e.Err == nil {
		return fmt.Sprintf("transcription failed (%s)", e.reason())
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FailureError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *FailureError) reason() FailureReason {
	if e == nil {
		return ""
	}
	return e.Reason
}

func fail(reason FailureReason, err error) error {
	return &FailureError{Reason: reason, Err: err}
}

// ReasonOf extracts the failure reason from err, or "" if err is not a
// FailureError.
func ReasonOf(err error) FailureReason {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
