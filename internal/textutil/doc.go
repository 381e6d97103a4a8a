// Package textutil provides string helpers for naming things on disk and in
// the archive database.
//
// The primary use cases are:
//   - Turning author, gallery and source labels into partition identifiers
//   - Lowercasing source names into stable config keys
//   - Quoting identifiers that come from untrusted metadata keys
package textutil
