// Package logging assembles structured slog loggers and formatting helpers used
// across archivist.
//
// It owns the console and JSON handlers, mirrors records into a daily JSON log
// file, prunes old files, and exposes context-aware helpers so ingest and sweep
// code can tag every line with the run ID and partition. A no-op logger is
// provided for tests and wiring code that cannot fail.
package logging
