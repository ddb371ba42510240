// Package device defines the instrument capability contract shared by
// every instrument the engine coordinates.
//
// The contract is deliberately small: Arm, Trigger, WaitReady, Abort
// and Status. Anything that satisfies Interface can take part in a
// synchronised step, which is how the simulated bench (sim) and the
// MQTT-connected real instruments (remote) stay interchangeable. The
// engine never knows which kind it is driving.
//
// Failures are either the ErrTimedOut sentinel, which the engine treats
// as its own outcome, or a *Error carrying the instrument role and an
// ErrorKind (communication lost, rejected, hardware fault).
package device
