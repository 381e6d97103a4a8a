// Package logs reads the daily JSON log files written by the logging package.
//
// Tail returns the last N matching lines or follows a file from a byte offset
// with bounded memory. Filter selects records by run, level, partition, or
// event type so `archivist logs --run <id>` can replay a single ingest or
// sweep.
package logs
