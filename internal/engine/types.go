package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/musolsong/musolsong-core/internal/sequence"
)

// State is the engine's position in the run lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateValidationFailed State = "validation_failed"
	StateValidated        State = "validated"
	StateExecuting        State = "executing"
	StateStepRunning      State = "step_running"
	StateStepRetry        State = "step_retry"
	StateCompleted        State = "completed"
	StateAborted          State = "aborted"
	StateFailed           State = "failed"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateValidationFailed, StateCompleted, StateAborted, StateFailed:
		return true
	}
	return false
}

// Outcome is the result of one step attempt. Timeouts are kept apart
// from instrument faults so operators can tell a slow bench from a
// broken one.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeDeviceError Outcome = "device_error"
	OutcomeAborted     Outcome = "aborted"
)

// StepResult records one attempt of one step. Attempts are append-only;
// a retry produces a new StepResult rather than rewriting the old one.
type StepResult struct {
	ID          string    `json:"id"`
	StepIndex   int       `json:"step_index"`
	Attempt     int       `json:"attempt"`
	Outcome     Outcome   `json:"outcome"`
	DurationMS  int64     `json:"duration_ms"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Report is the full account of a run, returned by Execute and
// published as the run's final MQTT message.
type Report struct {
	RunID          string                     `json:"run_id"`
	ProjectName    string                     `json:"project_name"`
	ProjectNumber  int                        `json:"project_number"`
	FinalState     State                      `json:"final_state"`
	StartedAt      time.Time                  `json:"started_at"`
	FinishedAt     time.Time                  `json:"finished_at"`
	StepsTotal     int                        `json:"steps_total"`
	StepsCompleted int                        `json:"steps_completed"`
	StepResults    []StepResult               `json:"step_results,omitempty"`
	Validation     []sequence.ValidationError `json:"validation_errors,omitempty"`
}

// EventType identifies a progress event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStepStarted   EventType = "step_started"
	EventStepCompleted EventType = "step_completed"
	EventStepRetried   EventType = "step_retried"
	EventStepFailed    EventType = "step_failed"
	EventRunFinished   EventType = "run_finished"
)

// Event is a progress notification emitted while a run executes.
// StepIndex and Attempt are meaningful only for step events.
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	State      State     `json:"state"`
	StepIndex  int       `json:"step_index"`
	Attempt    int       `json:"attempt"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier receives progress events. Delivery is fire-and-forget: the
// engine never blocks on a notifier and never fails a run because one
// misbehaved.
type Notifier interface {
	Notify(event Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(Event) {}

// GenerateID returns a new unique identifier for runs and step results.
func GenerateID() string {
	return uuid.New().String()
}
