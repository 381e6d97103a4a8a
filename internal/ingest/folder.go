package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"archivist/internal/fileutil"
	"archivist/internal/logging"
	"archivist/internal/metadata"
)

// FolderOptions controls a folder ingest.
type FolderOptions struct {
	// PartitionRule overrides the configured rule when set.
	PartitionRule string
	// Override places every item in this partition.
	Override string
	// RemoveSidecars deletes each sidecar once its item is archived or known.
	RemoveSidecars bool
	// Progress, when set, is called after each sidecar.
	Progress func(done, total int)
}

// Skip is a sidecar that was not an item.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Failure is a sidecar whose item could not be archived.
type Failure struct {
	Path string
	Err  error
}

// Summary reports a folder ingest.
type Summary struct {
	RunID           string
	Processed       int
	Inserted        int
	Duplicates      int
	LowConfidence   int
	SidecarsRemoved int
	Skipped         []Skip
	Failed          []Failure
	Duration        time.Duration
}

// IngestFolder archives every sidecar under root. Per-item failures are
// collected in the summary and the walk continues; an unavailable store or a
// cancelled context stops the run and returns the summary so far.
func (i *Ingester) IngestFolder(ctx context.Context, root string, opts FolderOptions) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, summary.RunID)
	logger := logging.WithContext(ctx, i.logger)

	sidecars, err := findSidecars(ctx, root)
	if err != nil {
		return summary, err
	}
	logger.Info("folder ingest started",
		logging.Path(root),
		logging.Int("sidecars", len(sidecars)),
	)

	sampler := logging.NewProgressSampler(10)
	for n, sidecar := range sidecars {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		summary.Processed++

		out, err := i.ingestSidecar(ctx, sidecar, opts)
		switch {
		case err == nil:
			if out.Inserted {
				summary.Inserted++
			} else {
				summary.Duplicates++
			}
			if out.LowConfidence {
				summary.LowConfidence++
			}
			if opts.RemoveSidecars {
				if i.removeSidecar(ctx, sidecar) {
					summary.SidecarsRemoved++
				}
			}
		case errors.Is(err, metadata.ErrNotObject):
			summary.Skipped = append(summary.Skipped, Skip{Path: sidecar, Reason: "not an item sidecar"})
		case isDocumentError(err):
			summary.Failed = append(summary.Failed, Failure{Path: sidecar, Err: err})
			logging.WarnWithContext(logger, "item not archived", "ingest_item_failed",
				logging.Path(sidecar),
				logging.Error(err),
				logging.String(logging.FieldImpact, "item will be offered again on the next ingest"),
			)
		default:
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("ingest %s: %w", sidecar, err)
		}

		if opts.Progress != nil {
			opts.Progress(n+1, len(sidecars))
		}
		if sampler.ShouldLog(n+1, len(sidecars), "ingest") {
			logger.Info("ingest progress",
				logging.Int("done", n+1),
				logging.Int("total", len(sidecars)),
			)
		}
	}

	summary.Duration = time.Since(start)
	logger.Info("folder ingest finished",
		logging.Int("processed", summary.Processed),
		logging.Int("inserted", summary.Inserted),
		logging.Int("duplicates", summary.Duplicates),
		logging.Int("skipped", len(summary.Skipped)),
		logging.Int("failed", len(summary.Failed)),
		logging.Int("low_confidence", summary.LowConfidence),
		logging.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (i *Ingester) ingestSidecar(ctx context.Context, sidecar string, opts FolderOptions) (Outcome, error) {
	rule := opts.PartitionRule
	if rule == "" {
		rule = i.cfg.Ingest.PartitionRule
	}
	return i.ingest(ctx, Descriptor{SidecarPath: sidecar, Partition: opts.Override}, rule)
}

func (i *Ingester) removeSidecar(ctx context.Context, sidecar string) bool {
	if err := fileutil.RemoveIfExists(sidecar); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, i.logger), "failed to remove sidecar", "sidecar_remove_failed",
			logging.Path(sidecar),
			logging.Error(err),
			logging.String(logging.FieldImpact, "sidecar stays on disk and is re-read as a duplicate next time"),
		)
		return false
	}
	return true
}

// findSidecars lists every sidecar under root in lexical order.
func findSidecars(ctx context.Context, root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() && fileutil.IsSidecar(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return out, nil
}
