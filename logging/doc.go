// Package logging provides the minimal Logger interface used throughout
// codepipe plus adapters for log/slog and go.uber.org/zap.
//
// Components log dotted event names with key/value pairs:
//
//	logger.Info("runner.run.start", "run", runID, "session", sessionID)
//
// Use New to build a logger from configuration or wrap an existing slog or
// zap logger with NewSlogAdapter / NewZapAdapter. NoOpLogger discards
// everything and is the default wherever a logger is optional.
package logging
