package device

import (
	"errors"
	"fmt"
)

// ErrTimedOut is returned by WaitReady when the step timeout elapses
// before the instrument reports Ready. A timeout is not an instrument
// fault; the engine reports it as a distinct outcome.
var ErrTimedOut = errors.New("device: wait-ready timed out")

// ErrorKind classifies what went wrong with an instrument.
type ErrorKind string

const (
	// KindCommunicationLost means the instrument could not be reached
	// or stopped responding mid-operation.
	KindCommunicationLost ErrorKind = "communication_lost"

	// KindRejected means the instrument refused a command, for example
	// a trigger without a preceding arm or parameters it cannot apply.
	KindRejected ErrorKind = "rejected"

	// KindHardwareFault means the instrument reported an internal
	// failure while executing an operation.
	KindHardwareFault ErrorKind = "hardware_fault"
)

// Error is a failure attributed to a specific instrument.
type Error struct {
	Role   Role
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("device %s: %s", e.Role, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an instrument error.
func NewError(role Role, kind ErrorKind, reason string) *Error {
	return &Error{Role: role, Kind: kind, Reason: reason}
}

// AsError extracts a *Error from err's chain, if present.
func AsError(err error) (*Error, bool) {
	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr, true
	}
	return nil, false
}

// IsTimeout reports whether err is, or wraps, ErrTimedOut.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut)
}
