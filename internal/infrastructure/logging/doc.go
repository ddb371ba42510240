// Package logging provides structured logging for the MUSOL/SONG controller.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("run started", "project", name)
//	logger.Error("handshake failed", "error", err)
//
// In CLI mode the log stream goes to stderr via NewWriter so the final
// run report on stdout stays machine-parsable.
//
// # Security
//
// Never log secrets, tokens, or broker passwords.
package logging
