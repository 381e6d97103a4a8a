package preflight

import (
	"errors"
	"fmt"
	"strings"

	"archivist/internal/config"
)

// ErrPreflightFailed is wrapped by the error returned from Check.
var ErrPreflightFailed = errors.New("preflight check failed")

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes all preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Archive directory (always checked)
	archiveDir := CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir)
	results = append(results, archiveDir)
	if archiveDir.Passed && cfg.Archive.MinFreeMiB > 0 {
		results = append(results, CheckFreeSpace("Archive free space", cfg.Paths.ArchiveDir, uint64(cfg.Archive.MinFreeMiB)<<20))
	}

	// Log directory (when file logging is configured)
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	return results
}

// Check runs RunAll and returns an error describing every failed check.
func Check(cfg *config.Config) error {
	var failed []string
	for _, r := range RunAll(cfg) {
		if !r.Passed {
			failed = append(failed, r.Name+": "+r.Detail)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPreflightFailed, strings.Join(failed, "; "))
}
