// Package database provides the SQLite-backed run-history store.
//
// This package manages:
//   - Opening the database with WAL mode and busy-timeout pragmas
//   - Applying the run-history schema (runs, step_results)
//   - Health checks and lifecycle management
//
// The store is optional infrastructure: sequence execution works without
// it, and the engine accepts a nil repository. When enabled, every run
// and every step attempt is archived for later inspection.
//
// # Thread Safety
//
// The underlying sql.DB is safe for concurrent use. The pool is capped
// at a single connection to match SQLite's single-writer model.
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: "./data/musolsong.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
