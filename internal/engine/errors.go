package engine

import "errors"

var (
	// ErrRunInProgress is returned when Execute is called while another
	// run is active. The engine executes one sequence at a time.
	ErrRunInProgress = errors.New("engine: a run is already in progress")

	// ErrValidationFailed is returned by Execute when the document does
	// not pass semantic validation. The report carries the details.
	ErrValidationFailed = errors.New("engine: sequence validation failed")

	// ErrRunFailed is returned when a step exhausted its retry budget.
	ErrRunFailed = errors.New("engine: run failed")

	// ErrRunAborted is returned when the operator aborted the run.
	ErrRunAborted = errors.New("engine: run aborted")

	// ErrUnknownDevice is returned when a step names an instrument the
	// engine was not constructed with.
	ErrUnknownDevice = errors.New("engine: step targets an unknown device")

	// ErrRunNotFound is returned by the repository when no run matches
	// the requested ID.
	ErrRunNotFound = errors.New("engine: run not found")
)
