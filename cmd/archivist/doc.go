// Package main hosts the archivist CLI entrypoint and command graph.
//
// The Cobra-based command tree maps terminal invocations onto the archive:
// existence checks before downloading, folder and single-item ingestion, a
// long-running folder watch, duplicate sweeps, schema inspection and the
// confirmed maintenance operations. It centralizes configuration resolution,
// logging setup and store opening so subcommands only deal with their own
// flags and output.
//
// Keep this package lean: add behaviour to the internal packages first, then
// surface it through a command or flag here.
package main
