package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunRecord is the persisted form of a run.
type RunRecord struct {
	ID             string
	ProjectName    string
	ProjectNumber  int
	FinalState     State
	StartedAt      time.Time
	FinishedAt     *time.Time
	StepsTotal     int
	StepsCompleted int
}

// Repository defines the run-history store. The abstraction keeps the
// engine testable without a database and leaves room for other
// backends.
type Repository interface {
	CreateRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	AppendStepResult(ctx context.Context, runID string, result *StepResult) error
	ListStepResults(ctx context.Context, runID string) ([]StepResult, error)
}

// runColumns is the SELECT column list for run queries.
const runColumns = `id, project_name, project_number, final_state,
			started_at, finished_at, steps_total, steps_completed`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRun inserts a new run in its initial state.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `INSERT INTO runs (id, project_name, project_number, final_state,
			started_at, steps_total, steps_completed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.ProjectName, run.ProjectNumber, string(run.FinalState),
		run.StartedAt, run.StepsTotal, run.StepsCompleted)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal state and completion counters.
func (r *SQLiteRepository) FinishRun(ctx context.Context, run *RunRecord) error {
	query := `UPDATE runs
		SET final_state = ?, finished_at = ?, steps_completed = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		string(run.FinalState), run.FinishedAt, run.StepsCompleted, run.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by its identifier.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run by id: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// AppendStepResult inserts one step attempt. Attempts are append-only;
// existing rows are never updated.
func (r *SQLiteRepository) AppendStepResult(ctx context.Context, runID string, result *StepResult) error {
	query := `INSERT INTO step_results (id, run_id, step_index, attempt,
			outcome, duration_ms, error_detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var detail any
	if result.ErrorDetail != "" {
		detail = result.ErrorDetail
	}
	_, err := r.db.ExecContext(ctx, query,
		result.ID, runID, result.StepIndex, result.Attempt,
		string(result.Outcome), result.DurationMS, detail, result.RecordedAt)
	if err != nil {
		return fmt.Errorf("inserting step result: %w", err)
	}
	return nil
}

// ListStepResults retrieves a run's step attempts in execution order.
func (r *SQLiteRepository) ListStepResults(ctx context.Context, runID string) ([]StepResult, error) {
	query := `SELECT id, step_index, attempt, outcome, duration_ms, error_detail, recorded_at
		FROM step_results WHERE run_id = ? ORDER BY step_index, attempt`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying step results: %w", err)
	}
	defer rows.Close()

	var results []StepResult
	for rows.Next() {
		var res StepResult
		var outcome string
		var detail sql.NullString
		if err := rows.Scan(&res.ID, &res.StepIndex, &res.Attempt, &outcome,
			&res.DurationMS, &detail, &res.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning step result: %w", err)
		}
		res.Outcome = Outcome(outcome)
		res.ErrorDetail = detail.String
		results = append(results, res)
	}
	return results, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var run RunRecord
	var state string
	var finished sql.NullTime
	if err := s.Scan(&run.ID, &run.ProjectName, &run.ProjectNumber, &state,
		&run.StartedAt, &finished, &run.StepsTotal, &run.StepsCompleted); err != nil {
		return nil, err
	}
	run.FinalState = State(state)
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}
