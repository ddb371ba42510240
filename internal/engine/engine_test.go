package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/musolsong/musolsong-core/internal/device"
	"github.com/musolsong/musolsong-core/internal/device/sim"
	"github.com/musolsong/musolsong-core/internal/sequence"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockNotifier captures all emitted events.
type mockNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockNotifier) Notify(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockNotifier) getEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]Event, len(m.events))
	copy(cpy, m.events)
	return cpy
}

func (m *mockNotifier) typesSeen() map[EventType]int {
	counts := make(map[EventType]int)
	for _, e := range m.getEvents() {
		counts[e.Type]++
	}
	return counts
}

// mockRepository stores runs and step results in memory.
type mockRepository struct {
	mu      sync.Mutex
	runs    map[string]*RunRecord
	results map[string][]StepResult
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		runs:    make(map[string]*RunRecord),
		results: make(map[string][]StepResult),
	}
}

func (m *mockRepository) CreateRun(_ context.Context, run *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *run
	m.runs[run.ID] = &cpy
	return nil
}

func (m *mockRepository) FinishRun(_ context.Context, run *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	cpy := *run
	m.runs[run.ID] = &cpy
	return nil
}

func (m *mockRepository) GetRun(_ context.Context, id string) (*RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	cpy := *run
	return &cpy, nil
}

func (m *mockRepository) ListRuns(_ context.Context, _ int) ([]RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []RunRecord
	for _, run := range m.runs {
		runs = append(runs, *run)
	}
	return runs, nil
}

func (m *mockRepository) AppendStepResult(_ context.Context, runID string, result *StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[runID] = append(m.results[runID], *result)
	return nil
}

func (m *mockRepository) ListStepResults(_ context.Context, runID string) ([]StepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StepResult(nil), m.results[runID]...), nil
}

// mockRecorder captures timing writes.
type mockRecorder struct {
	mu        sync.Mutex
	steps     int
	summaries int
}

func (m *mockRecorder) WriteStepDuration(_, _, _ string, _ int, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps++
}

func (m *mockRecorder) WriteRunSummary(_, _ string, _, _ int, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries++
}

// ─── Helper ─────────────────────────────────────────────────────────────────

func setupEngine(t *testing.T) (*Engine, *sim.Instrument, *sim.Instrument, *mockNotifier, *mockRepository) {
	t.Helper()

	pol := sim.NewInstrument(device.RolePolarimeter)
	spe := sim.NewInstrument(device.RoleSpectrograph)
	notifier := &mockNotifier{}
	repo := newMockRepository()

	eng := New([]device.Interface{pol, spe}, nil,
		WithNotifier(notifier), WithRepository(repo))
	return eng, pol, spe, notifier, repo
}

func twoStepDocument() *sequence.Document {
	return &sequence.Document{
		ProjectName:   "solar-survey",
		ProjectNumber: 7,
		Steps: []sequence.Step{
			{
				Mode:           sequence.ModeCalibration,
				Params:         map[string]float64{"angle": 45},
				Devices:        []device.Role{device.RolePolarimeter},
				TimeoutSeconds: 5,
			},
			{
				Mode:           sequence.ModeObservation,
				Params:         map[string]float64{"alpha": 10, "beta": -20, "exposure": 1},
				Devices:        []device.Role{device.RolePolarimeter, device.RoleSpectrograph},
				TimeoutSeconds: 5,
			},
		},
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestEngine_Execute_Completes(t *testing.T) {
	eng, pol, spe, notifier, repo := setupEngine(t)

	report, err := eng.Execute(context.Background(), twoStepDocument())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if report.FinalState != StateCompleted {
		t.Errorf("FinalState = %q, want %q", report.FinalState, StateCompleted)
	}
	if report.StepsCompleted != 2 {
		t.Errorf("StepsCompleted = %d, want 2", report.StepsCompleted)
	}
	if len(report.StepResults) != 2 {
		t.Fatalf("len(StepResults) = %d, want 2", len(report.StepResults))
	}
	for i, res := range report.StepResults {
		if res.Outcome != OutcomeSuccess {
			t.Errorf("step %d outcome = %q, want %q", i, res.Outcome, OutcomeSuccess)
		}
		if res.Attempt != 1 {
			t.Errorf("step %d attempt = %d, want 1", i, res.Attempt)
		}
	}
	if got := eng.State(); got != StateCompleted {
		t.Errorf("engine state = %q, want %q", got, StateCompleted)
	}

	// Step 0 drove only the polarimeter; step 1 drove both.
	if got := pol.Calls().Trigger; got != 2 {
		t.Errorf("polarimeter triggers = %d, want 2", got)
	}
	if got := spe.Calls().Trigger; got != 1 {
		t.Errorf("spectrograph triggers = %d, want 1", got)
	}

	types := notifier.typesSeen()
	if types[EventRunStarted] != 1 || types[EventRunFinished] != 1 {
		t.Errorf("run events = %v", types)
	}
	if types[EventStepStarted] != 2 || types[EventStepCompleted] != 2 {
		t.Errorf("step events = %v", types)
	}

	run, err := repo.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.FinalState != StateCompleted {
		t.Errorf("persisted state = %q, want %q", run.FinalState, StateCompleted)
	}
	if run.FinishedAt == nil {
		t.Error("persisted run has no finished_at")
	}
	results, _ := repo.ListStepResults(context.Background(), report.RunID)
	if len(results) != 2 {
		t.Errorf("persisted results = %d, want 2", len(results))
	}
}

func TestEngine_Execute_ValidationFailure(t *testing.T) {
	eng, pol, spe, notifier, _ := setupEngine(t)

	doc := twoStepDocument()
	doc.Steps[0].Params["angle"] = 999

	report, err := eng.Execute(context.Background(), doc)
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got: %v", err)
	}
	if report.FinalState != StateValidationFailed {
		t.Errorf("FinalState = %q, want %q", report.FinalState, StateValidationFailed)
	}
	if len(report.Validation) != 1 {
		t.Errorf("validation errors = %d, want 1", len(report.Validation))
	}

	// No instrument was touched.
	if pol.Calls().Arm != 0 || spe.Calls().Arm != 0 {
		t.Error("instruments must not be armed when validation fails")
	}
	if len(notifier.getEvents()) != 0 {
		t.Errorf("no events expected, got: %v", notifier.getEvents())
	}
}

func TestEngine_Execute_RetryThenSuccess(t *testing.T) {
	eng, pol, _, notifier, _ := setupEngine(t)

	doc := twoStepDocument()
	doc.Steps = doc.Steps[:1]
	doc.Steps[0].Retry = sequence.RetryPolicy{MaxRetries: 2, BackoffSeconds: 0.01}

	pol.QueueWaitResult(device.NewError(device.RolePolarimeter, device.KindHardwareFault, "transient"))

	report, err := eng.Execute(context.Background(), doc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.FinalState != StateCompleted {
		t.Errorf("FinalState = %q, want %q", report.FinalState, StateCompleted)
	}
	if len(report.StepResults) != 2 {
		t.Fatalf("len(StepResults) = %d, want 2 attempts", len(report.StepResults))
	}
	if report.StepResults[0].Outcome != OutcomeDeviceError {
		t.Errorf("attempt 1 outcome = %q, want %q", report.StepResults[0].Outcome, OutcomeDeviceError)
	}
	if report.StepResults[0].ErrorDetail == "" {
		t.Error("failed attempt should carry error detail")
	}
	if report.StepResults[1].Outcome != OutcomeSuccess {
		t.Errorf("attempt 2 outcome = %q, want %q", report.StepResults[1].Outcome, OutcomeSuccess)
	}
	if report.StepResults[1].Attempt != 2 {
		t.Errorf("attempt number = %d, want 2", report.StepResults[1].Attempt)
	}
	if notifier.typesSeen()[EventStepRetried] != 1 {
		t.Errorf("expected one retry event, got: %v", notifier.typesSeen())
	}
}

func TestEngine_Execute_RetryBudgetExhausted(t *testing.T) {
	eng, pol, spe, notifier, _ := setupEngine(t)

	doc := twoStepDocument()
	doc.Steps[0].Retry = sequence.RetryPolicy{MaxRetries: 1, BackoffSeconds: 0.01}

	pol.QueueWaitResult(device.NewError(device.RolePolarimeter, device.KindHardwareFault, "persistent"))
	pol.QueueWaitResult(device.NewError(device.RolePolarimeter, device.KindHardwareFault, "persistent"))

	report, err := eng.Execute(context.Background(), doc)
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got: %v", err)
	}
	if report.FinalState != StateFailed {
		t.Errorf("FinalState = %q, want %q", report.FinalState, StateFailed)
	}
	if report.StepsCompleted != 0 {
		t.Errorf("StepsCompleted = %d, want 0", report.StepsCompleted)
	}
	if len(report.StepResults) != 2 {
		t.Errorf("len(StepResults) = %d, want 2 attempts", len(report.StepResults))
	}

	// The second step never started.
	if spe.Calls().Arm != 0 {
		t.Errorf("spectrograph arms = %d, want 0", spe.Calls().Arm)
	}
	if notifier.typesSeen()[EventStepFailed] != 1 {
		t.Errorf("expected one step_failed event, got: %v", notifier.typesSeen())
	}
}

func TestEngine_Execute_TimeoutOutcome(t *testing.T) {
	eng, pol, _, _, _ := setupEngine(t)

	doc := twoStepDocument()
	doc.Steps = doc.Steps[:1]
	doc.Steps[0].TimeoutSeconds = 0.02

	pol.QueueWaitResult(device.ErrTimedOut)

	report, err := eng.Execute(context.Background(), doc)
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got: %v", err)
	}
	if report.StepResults[0].Outcome != OutcomeTimeout {
		t.Errorf("outcome = %q, want %q", report.StepResults[0].Outcome, OutcomeTimeout)
	}
}

func TestEngine_Abort(t *testing.T) {
	eng, pol, _, _, _ := setupEngine(t)

	doc := twoStepDocument()
	doc.Steps = doc.Steps[:1]
	pol.SetReadyDelay(2 * time.Second)

	done := make(chan struct{})
	var report *Report
	var runErr error
	go func() {
		report, runErr = eng.Execute(context.Background(), doc)
		close(done)
	}()

	// Let the step get in flight, then abort.
	time.Sleep(50 * time.Millisecond)
	eng.Abort()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not finish after abort")
	}

	if !errors.Is(runErr, ErrRunAborted) {
		t.Fatalf("expected ErrRunAborted, got: %v", runErr)
	}
	if report.FinalState != StateAborted {
		t.Errorf("FinalState = %q, want %q", report.FinalState, StateAborted)
	}
	if len(report.StepResults) != 1 || report.StepResults[0].Outcome != OutcomeAborted {
		t.Errorf("StepResults = %+v, want one aborted attempt", report.StepResults)
	}
	if got := pol.Calls().Abort; got != 1 {
		t.Errorf("polarimeter aborts = %d, want 1", got)
	}
	if got := eng.State(); got != StateAborted {
		t.Errorf("engine state = %q, want %q", got, StateAborted)
	}
}

func TestEngine_Execute_SingleRunAtATime(t *testing.T) {
	eng, pol, _, _, _ := setupEngine(t)

	doc := twoStepDocument()
	doc.Steps = doc.Steps[:1]
	pol.SetReadyDelay(500 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_, _ = eng.Execute(context.Background(), doc)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := eng.Execute(context.Background(), twoStepDocument()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got: %v", err)
	}

	eng.Abort()
	<-done
}

func TestEngine_Execute_UnknownDevice(t *testing.T) {
	pol := sim.NewInstrument(device.RolePolarimeter)
	eng := New([]device.Interface{pol}, nil)

	doc := twoStepDocument() // step 1 targets the spectrograph too
	report, err := eng.Execute(context.Background(), doc)
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got: %v", err)
	}
	if !errors.Is(err, ErrRunFailed) || report.FinalState != StateFailed {
		t.Errorf("FinalState = %q, want %q", report.FinalState, StateFailed)
	}
	if report.StepsCompleted != 1 {
		t.Errorf("StepsCompleted = %d, want 1 (first step targets only the polarimeter)", report.StepsCompleted)
	}
}

func TestEngine_Validate_DoesNotExecute(t *testing.T) {
	eng, pol, spe, _, _ := setupEngine(t)

	validated, errs := eng.Validate(twoStepDocument())
	if len(errs) != 0 {
		t.Fatalf("Validate: %v", errs)
	}
	if validated == nil {
		t.Fatal("expected a Validated sequence")
	}
	if pol.Calls().Arm != 0 || spe.Calls().Arm != 0 {
		t.Error("Validate must not touch instruments")
	}
	if got := eng.State(); got != StateIdle {
		t.Errorf("state = %q, want %q", got, StateIdle)
	}
}

func TestEngine_RecorderReceivesTimings(t *testing.T) {
	pol := sim.NewInstrument(device.RolePolarimeter)
	spe := sim.NewInstrument(device.RoleSpectrograph)
	recorder := &mockRecorder{}
	eng := New([]device.Interface{pol, spe}, nil, WithRecorder(recorder))

	if _, err := eng.Execute(context.Background(), twoStepDocument()); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.steps != 2 {
		t.Errorf("step timing writes = %d, want 2", recorder.steps)
	}
	if recorder.summaries != 1 {
		t.Errorf("run summary writes = %d, want 1", recorder.summaries)
	}
}

func TestEvent_JSONKeepsZeroStepIndex(t *testing.T) {
	// The first step of a run has index 0; subscribers must still see
	// the key on the wire.
	event := Event{
		Type:       EventStepStarted,
		RunID:      "run-1",
		State:      StateStepRunning,
		StepIndex:  0,
		Attempt:    0,
		OccurredAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"step_index":0`, `"attempt":0`} {
		if !strings.Contains(string(payload), key) {
			t.Errorf("event JSON %s is missing %s", payload, key)
		}
	}
}
