package database

import (
	"context"
	"fmt"
)

// schemaVersion is the current run-history schema version, recorded in
// SQLite's user_version pragma. Bump when the schema below changes.
const schemaVersion = 1

// schema is the run-history schema applied by Migrate.
//
// runs holds one row per execution run; step_results holds one row per
// step attempt. Attempts are append-only: retries insert new rows, they
// never update prior ones.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	project_name    TEXT NOT NULL,
	project_number  INTEGER NOT NULL,
	final_state     TEXT NOT NULL,
	started_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP,
	steps_total     INTEGER NOT NULL,
	steps_completed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS step_results (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step_index   INTEGER NOT NULL,
	attempt      INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL,
	error_detail TEXT,
	recorded_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_step_results_run ON step_results(run_id, step_index, attempt);
`

// Migrate applies the run-history schema to the database.
//
// The schema uses CREATE IF NOT EXISTS so Migrate is idempotent. The
// user_version pragma records the applied version for forward
// compatibility; a database created by a newer schema is rejected
// rather than silently misread.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If schema application fails or the version is unsupported
func (db *DB) Migrate(ctx context.Context) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, schemaVersion)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	return nil
}
