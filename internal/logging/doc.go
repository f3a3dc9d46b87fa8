// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Every long-lived component takes a child logger named after itself, so
// lines from the session manager carry the logger name "sessions":
//
//	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
//	sessions := logger.Component("sessions")
//	sessions.Info("Session created", zap.String("session", id))
//
// NewFromLevel falls back to info on an unknown level.
package logging
