package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPartialReconciliation is wrapped by PartialFailureError.
var ErrPartialReconciliation = errors.New("reconciliation partially failed")

// Failure is one file the sweep could not hash or delete.
type Failure struct {
	Path string
	Err  error
}

// PartialFailureError aggregates per-file failures of a sweep that otherwise
// ran to completion.
type PartialFailureError struct {
	Failures []Failure
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Path, f.Err))
	}
	return fmt.Sprintf("%v (%d files): %s", ErrPartialReconciliation, len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrPartialReconciliation)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
