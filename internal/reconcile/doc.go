// Package reconcile sweeps a directory tree against the archive and removes
// files that were already archived.
//
// Content matching is the default: every file is hashed and compared with the
// content hashes and hash identities recorded in the archive. Filename
// matching is kept as a legacy mode and as an optional prefilter that limits
// hashing to files whose base name is already known. Sweeps are dry runs
// unless the caller confirms deletion.
package reconcile
