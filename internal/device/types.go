package device

import (
	"context"
	"time"
)

// Role identifies an instrument on the bench.
type Role string

const (
	// RolePolarimeter is the MuSOL solar polarimeter, the instrument
	// whose retarder modulation the sequence drives.
	RolePolarimeter Role = "polarimeter"

	// RoleSpectrograph is the SONG echelle spectrograph that records
	// exposures synchronised with the polarimeter.
	RoleSpectrograph Role = "spectrograph"
)

// AllRoles returns every instrument role the engine can coordinate.
func AllRoles() []Role {
	return []Role{RolePolarimeter, RoleSpectrograph}
}

// Valid reports whether the role names a known instrument.
func (r Role) Valid() bool {
	return r == RolePolarimeter || r == RoleSpectrograph
}

// Status is the lifecycle position of an instrument.
type Status string

const (
	// StatusIdle means the instrument is quiescent and ready to be armed.
	StatusIdle Status = "idle"

	// StatusArmed means parameters are loaded and the instrument is
	// waiting for a trigger.
	StatusArmed Status = "armed"

	// StatusRunning means a triggered operation is in flight.
	StatusRunning Status = "running"

	// StatusFaulted means the last operation ended in a hardware or
	// protocol fault. An abort returns the instrument to idle.
	StatusFaulted Status = "faulted"
)

// Interface is the capability contract every instrument satisfies,
// whether simulated or reached over the wire.
//
// The engine drives instruments through a fixed handshake per step:
// Arm loads the step parameters, Trigger starts the operation on all
// armed instruments, WaitReady blocks until the operation completes
// or the step timeout elapses, and Abort cancels whatever is in
// flight. Arm is idempotent: arming twice without an intervening
// Trigger is equivalent to arming once. Abort is always safe to call
// regardless of the instrument's state.
//
// Implementations must be safe for concurrent use: WaitReady is
// called from a goroutine per instrument while Abort may arrive from
// the engine at any moment.
type Interface interface {
	// Role identifies which instrument this is.
	Role() Role

	// Arm loads the step's modulation parameters. It returns a *Error
	// when the instrument rejects the parameters or cannot be reached.
	Arm(ctx context.Context, params map[string]float64) error

	// Trigger starts the armed operation. Triggering an instrument
	// that is not armed is a protocol violation and returns a *Error
	// of kind KindRejected.
	Trigger(ctx context.Context) error

	// WaitReady blocks until the triggered operation completes, the
	// timeout elapses, or ctx is cancelled. It returns nil on Ready,
	// ErrTimedOut when the timeout elapses first, a *Error on an
	// instrument fault, and ctx.Err() on cancellation.
	WaitReady(ctx context.Context, timeout time.Duration) error

	// Abort cancels any in-flight operation and returns the instrument
	// to idle. It never fails on an already-idle instrument.
	Abort(ctx context.Context) error

	// Status reports the instrument's current lifecycle position.
	Status() Status
}
