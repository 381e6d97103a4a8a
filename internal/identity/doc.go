// Package identity derives the key that decides whether a downloaded item is
// already archived: a SHA-256 of the file bytes, a source-native ID found in
// the sidecar via JSONPath, or, as a last resort, a low-confidence hash of the
// file name.
package identity
