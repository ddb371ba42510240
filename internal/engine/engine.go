package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/musolsong/musolsong-core/internal/device"
	"github.com/musolsong/musolsong-core/internal/sequence"
)

// Logger is the minimal logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder receives step and run timing measurements. *influxdb.Client
// satisfies it. Writes are fire-and-forget.
type Recorder interface {
	WriteStepDuration(projectName, mode, outcome string, stepIndex int, durationMS int64)
	WriteRunSummary(projectName, finalState string, stepsTotal, stepsCompleted int, durationMS int64)
}

// Engine validates sequence documents and executes them step by step
// against the instrument bench. One sequence runs at a time; steps run
// strictly in order and a step only starts after the previous one
// succeeded.
type Engine struct {
	instruments map[device.Role]device.Interface
	sync        *Synchronizer
	validator   *sequence.Validator
	notifier    Notifier
	repo        Repository
	recorder    Recorder
	log         Logger

	mu    sync.Mutex
	state State
	abort context.CancelFunc
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithNotifier sets the progress event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithRepository sets the run-history store.
func WithRepository(r Repository) Option {
	return func(e *Engine) { e.repo = r }
}

// WithRecorder sets the timing measurement sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithValidator overrides the default validator, for example to use a
// different mode transition policy.
func WithValidator(v *sequence.Validator) Option {
	return func(e *Engine) {
		if v != nil {
			e.validator = v
		}
	}
}

// New creates an Engine driving the given instruments. Repository and
// Recorder are optional; a nil logger disables logging.
func New(instruments []device.Interface, logger Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	byRole := make(map[device.Role]device.Interface, len(instruments))
	for _, inst := range instruments {
		byRole[inst.Role()] = inst
	}
	e := &Engine{
		instruments: byRole,
		sync:        NewSynchronizer(logger),
		validator:   sequence.NewValidator(nil),
		notifier:    noopNotifier{},
		log:         logger,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Abort cancels the active run, if any. The step in flight is aborted
// on every instrument it targets and the run finishes as aborted.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abort != nil {
		e.abort()
	}
}

// Validate runs semantic validation without executing anything.
func (e *Engine) Validate(doc *sequence.Document) (*sequence.Validated, []sequence.ValidationError) {
	return e.validator.Validate(doc)
}

// Execute validates the document and, when validation passes, runs it.
//
// The returned Report is never nil on a started run: it carries the
// validation errors when validation fails, and the per-attempt step
// results otherwise. The error distinguishes the terminal states:
// ErrValidationFailed, ErrRunAborted, ErrRunFailed, or nil when the
// run completed.
func (e *Engine) Execute(ctx context.Context, doc *sequence.Document) (*Report, error) {
	runID, err := e.begin()
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:         runID,
		ProjectName:   doc.ProjectName,
		ProjectNumber: doc.ProjectNumber,
		StartedAt:     time.Now().UTC(),
	}

	e.setState(StateValidating)
	validated, validationErrs := e.validator.Validate(doc)
	if len(validationErrs) > 0 {
		report.Validation = validationErrs
		report.FinalState = StateValidationFailed
		report.FinishedAt = time.Now().UTC()
		e.finish(StateValidationFailed)
		e.log.Warn("validation failed", "run_id", runID, "errors", len(validationErrs))
		return report, ErrValidationFailed
	}
	e.setState(StateValidated)
	e.log.Info("sequence validated", "run_id", runID,
		"project", doc.ProjectName, "steps", len(doc.Steps))

	return e.run(ctx, validated, report)
}

// begin claims the engine for a new run.
func (e *Engine) begin() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle && !e.state.Terminal() {
		return "", ErrRunInProgress
	}
	e.state = StateValidating
	return GenerateID(), nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// finish records the terminal state and releases the abort handle.
func (e *Engine) finish(s State) {
	e.mu.Lock()
	e.state = s
	e.abort = nil
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, validated *sequence.Validated, report *Report) (*Report, error) {
	steps := validated.Steps()
	report.StepsTotal = len(steps)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.abort = cancel
	e.mu.Unlock()

	e.setState(StateExecuting)
	e.notify(Event{Type: EventRunStarted, RunID: report.RunID, State: StateExecuting})
	e.persistRunStart(report)

	var runErr error
	for index, step := range steps {
		if runCtx.Err() != nil {
			runErr = ErrRunAborted
			break
		}
		if err := e.runStep(runCtx, report, index, step); err != nil {
			runErr = err
			break
		}
		report.StepsCompleted++
	}

	final := StateCompleted
	switch {
	case errors.Is(runErr, ErrRunAborted):
		final = StateAborted
	case runErr != nil:
		final = StateFailed
	}

	report.FinalState = final
	report.FinishedAt = time.Now().UTC()
	e.finish(final)

	e.notify(Event{Type: EventRunFinished, RunID: report.RunID, State: final})
	e.persistRunFinish(report)
	if e.recorder != nil {
		e.recorder.WriteRunSummary(report.ProjectName, string(final),
			report.StepsTotal, report.StepsCompleted,
			report.FinishedAt.Sub(report.StartedAt).Milliseconds())
	}

	e.log.Info("run finished", "run_id", report.RunID, "state", final,
		"completed", report.StepsCompleted, "total", report.StepsTotal)
	return report, runErr
}

// runStep drives one step through its attempts until it succeeds, the
// retry budget is spent, or the run is aborted.
func (e *Engine) runStep(ctx context.Context, report *Report, index int, step sequence.Step) error {
	instruments, err := e.resolve(step)
	if err != nil {
		e.appendResult(report, StepResult{
			ID:          GenerateID(),
			StepIndex:   index,
			Attempt:     1,
			Outcome:     OutcomeDeviceError,
			ErrorDetail: err.Error(),
			RecordedAt:  time.Now().UTC(),
		}, step)
		e.notify(Event{Type: EventStepFailed, RunID: report.RunID, State: StateFailed,
			StepIndex: index, Attempt: 1, Outcome: OutcomeDeviceError, Error: err.Error()})
		return fmt.Errorf("%w: step %d: %v", ErrRunFailed, index, err)
	}

	maxAttempts := step.Retry.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.setState(StateStepRunning)
		e.notify(Event{Type: EventStepStarted, RunID: report.RunID, State: StateStepRunning,
			StepIndex: index, Attempt: attempt})
		e.log.Info("step started", "run_id", report.RunID,
			"step", index, "attempt", attempt, "mode", step.Mode)

		attemptStart := time.Now()
		duration, stepErr := e.sync.ExecuteStep(ctx, step, instruments)

		if stepErr == nil {
			result := StepResult{
				ID:         GenerateID(),
				StepIndex:  index,
				Attempt:    attempt,
				Outcome:    OutcomeSuccess,
				DurationMS: duration.Milliseconds(),
				RecordedAt: time.Now().UTC(),
			}
			e.appendResult(report, result, step)
			e.notify(Event{Type: EventStepCompleted, RunID: report.RunID, State: StateExecuting,
				StepIndex: index, Attempt: attempt, Outcome: OutcomeSuccess})
			e.log.Info("step completed", "run_id", report.RunID,
				"step", index, "attempt", attempt, "duration_ms", result.DurationMS)
			return nil
		}

		outcome := classify(ctx, stepErr)
		result := StepResult{
			ID:          GenerateID(),
			StepIndex:   index,
			Attempt:     attempt,
			Outcome:     outcome,
			DurationMS:  time.Since(attemptStart).Milliseconds(),
			ErrorDetail: stepErr.Error(),
			RecordedAt:  time.Now().UTC(),
		}
		e.appendResult(report, result, step)

		if outcome == OutcomeAborted {
			e.notify(Event{Type: EventStepFailed, RunID: report.RunID, State: StateAborted,
				StepIndex: index, Attempt: attempt, Outcome: outcome, Error: stepErr.Error()})
			e.log.Warn("step aborted", "run_id", report.RunID, "step", index, "attempt", attempt)
			return ErrRunAborted
		}

		if attempt < maxAttempts {
			e.setState(StateStepRetry)
			e.notify(Event{Type: EventStepRetried, RunID: report.RunID, State: StateStepRetry,
				StepIndex: index, Attempt: attempt, Outcome: outcome, Error: stepErr.Error()})
			e.log.Warn("step attempt failed, retrying", "run_id", report.RunID,
				"step", index, "attempt", attempt, "error", stepErr)
			if err := sleepCtx(ctx, step.Retry.Backoff()); err != nil {
				return ErrRunAborted
			}
			continue
		}

		e.notify(Event{Type: EventStepFailed, RunID: report.RunID, State: StateFailed,
			StepIndex: index, Attempt: attempt, Outcome: outcome, Error: stepErr.Error()})
		e.log.Error("step failed, retry budget exhausted", "run_id", report.RunID,
			"step", index, "attempts", attempt, "error", stepErr)
		return fmt.Errorf("%w: step %d after %d attempts: %v", ErrRunFailed, index, attempt, stepErr)
	}
	return nil
}

// resolve maps a step's device roles to instruments, preserving the
// step's declaration order.
func (e *Engine) resolve(step sequence.Step) ([]device.Interface, error) {
	instruments := make([]device.Interface, 0, len(step.Devices))
	for _, role := range step.Devices {
		inst, ok := e.instruments[role]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, role)
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// classify maps a step attempt error to its outcome. Context
// cancellation means the operator aborted; a wait-ready timeout is its
// own outcome; everything else is an instrument failure.
func classify(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return OutcomeAborted
	}
	if device.IsTimeout(err) {
		return OutcomeTimeout
	}
	return OutcomeDeviceError
}

// appendResult records a step attempt in the report, the run-history
// store, and the timing sink. Persistence failures are logged and the
// run carries on; losing history must not lose science time.
func (e *Engine) appendResult(report *Report, result StepResult, step sequence.Step) {
	report.StepResults = append(report.StepResults, result)

	if e.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.repo.AppendStepResult(ctx, report.RunID, &result); err != nil {
			e.log.Error("persisting step result", "run_id", report.RunID, "error", err)
		}
		cancel()
	}
	if e.recorder != nil {
		e.recorder.WriteStepDuration(report.ProjectName, string(step.Mode),
			string(result.Outcome), result.StepIndex, result.DurationMS)
	}
}

func (e *Engine) persistRunStart(report *Report) {
	if e.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run := &RunRecord{
		ID:            report.RunID,
		ProjectName:   report.ProjectName,
		ProjectNumber: report.ProjectNumber,
		FinalState:    StateExecuting,
		StartedAt:     report.StartedAt,
		StepsTotal:    report.StepsTotal,
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		e.log.Error("persisting run start", "run_id", report.RunID, "error", err)
	}
}

func (e *Engine) persistRunFinish(report *Report) {
	if e.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run := &RunRecord{
		ID:             report.RunID,
		ProjectName:    report.ProjectName,
		ProjectNumber:  report.ProjectNumber,
		FinalState:     report.FinalState,
		StartedAt:      report.StartedAt,
		FinishedAt:     &report.FinishedAt,
		StepsTotal:     report.StepsTotal,
		StepsCompleted: report.StepsCompleted,
	}
	if err := e.repo.FinishRun(ctx, run); err != nil {
		e.log.Error("persisting run finish", "run_id", report.RunID, "error", err)
	}
}

// notify delivers an event to the notifier, shielding the run from a
// panicking sink.
func (e *Engine) notify(event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notifier panicked", "panic", r)
		}
	}()
	event.OccurredAt = time.Now().UTC()
	e.notifier.Notify(event)
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
