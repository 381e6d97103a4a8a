package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the archive file could not be opened, created,
	// locked, or written. It aborts the current operation.
	ErrStoreUnavailable = errors.New("archive store unavailable")
	// ErrSchema is wrapped by every SchemaError.
	ErrSchema = errors.New("archive schema error")
	// ErrNotConfirmed is returned by destructive operations called without confirmation.
	ErrNotConfirmed = errors.New("destructive operation not confirmed")
	// ErrSchemeMismatch is returned when a record's identity scheme differs
	// from the scheme fixed by the partition's first insert.
	ErrSchemeMismatch = errors.New("identity scheme does not match partition")
	// ErrNotFound is returned when a partition or record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly is returned by mutating calls on a store opened read-only.
	ErrReadOnly = errors.New("archive store opened read-only")
	// ErrLayoutMismatch indicates the archive file was written by an
	// incompatible version.
	ErrLayoutMismatch = errors.New("archive layout version mismatch")
)

// SchemaError reports that a partition's schema could not be evolved for one
// document. Only that document's insert is abandoned.
type SchemaError struct {
	Partition string
	Column    string
	Err       error
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema error in partition %q: %v", e.Partition, e.Err)
	}
	return fmt.Sprintf("schema error in partition %q column %q: %v", e.Partition, e.Column, e.Err)
}

func (e *SchemaError) Unwrap() []error { return []error{ErrSchema, e.Err} }

// IsDocumentError reports whether err affects only a single document and a
// batch may continue.
func IsDocumentError(err error) bool {
	return errors.Is(err, ErrSchema) || errors.Is(err, ErrSchemeMismatch)
}
