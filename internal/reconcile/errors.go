package reconcile

import (
	"errors"
	"strings"
)

var (
	ErrNoActiveSession  = errors.New("reconcile: no active session")
	ErrNoImageProvided  = errors.New("reconcile: no image provided")
	ErrStatsUnavailable = errors.New("reconcile: attendance stats unavailable")
	ErrDetectionFailed  = errors.New("reconcile: headcount detection failed")
	ErrInFlight         = errors.New("reconcile: run already in flight")
)

// ServerMessenger is implemented by transport errors that carry the remote
// server's own error text.
type ServerMessenger interface {
	ServerMessage() string
}

// DetectionError is ErrDetectionFailed plus whatever the detector said.
type DetectionError struct {
	Message string
	Err     error
}

func (e *DetectionError) Error() string {
	var b strings.Builder
	b.WriteString(ErrDetectionFailed.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DetectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDetectionFailed}
	}
	return []error{ErrDetectionFailed, e.Err}
}

func newDetectionError(cause error, fallback string) *DetectionError {
	msg := fallback
	var sm ServerMessenger
	if errors.As(cause, &sm) {
		if m := strings.TrimSpace(sm.ServerMessage()); m != "" {
			msg = m
		}
	}
	return &DetectionError{Message: msg, Err: cause}
}
