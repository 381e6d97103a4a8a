// Package preflight provides readiness checks for the filesystem paths the
// archive depends on.
//
// The CLI runs RunAll before opening an archive for writing so a missing or
// read-only archive directory, or a nearly full disk, is reported up front
// instead of as a failed SQLite commit halfway through an ingest. The
// "archivist health" command shows the same results.
package preflight
