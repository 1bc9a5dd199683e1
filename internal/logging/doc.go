// Package logging assembles structured slog loggers and formatting helpers used
// across comfybatch.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so batch code can automatically
// tag log lines with run IDs, stages, job positions, and persona names. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
