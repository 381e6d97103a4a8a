package reconcile

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"archivist/internal/archive"
	"archivist/internal/fileutil"
	"archivist/internal/identity"
	"archivist/internal/logging"
)

// MatchMode selects how files are compared with the archive.
type MatchMode string

const (
	// MatchContent hashes files and compares the digest.
	MatchContent MatchMode = "content"
	// MatchFilename compares base names only.
	MatchFilename MatchMode = "filename"
)

// ParseMatchMode maps a config value to a MatchMode. Empty selects content.
func ParseMatchMode(value string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", MatchContent:
		return MatchContent, nil
	case MatchFilename:
		return MatchFilename, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", value)
	}
}

const defaultWorkers = 4

// Index is the part of the archive a sweep reads.
type Index interface {
	EnumerateAll(ctx context.Context, fn func(archive.Entry) error) error
}

// Options controls one sweep.
type Options struct {
	Mode MatchMode
	// Confirmed deletes matched files. Without it the sweep only reports.
	Confirmed bool
	// Workers bounds concurrent hashing. Zero uses 4.
	Workers int
	// FilenamePrefilter limits content hashing to files whose base name is
	// already archived.
	FilenamePrefilter bool
	// ChunkSize is the hashing read size in bytes.
	ChunkSize int
	// Progress, when set, is called after each candidate file is examined.
	Progress func(done, total int)
}

// Match is one file found in the archive.
type Match struct {
	Path      string
	Partition string
	Identity  string
	// Reason is "content" or "filename".
	Reason  string
	Removed bool
}

// Report summarizes a sweep.
type Report struct {
	RunID    string
	Root     string
	Mode     MatchMode
	DryRun   bool
	Scanned  int
	Hashed   int
	Matches  []Match
	Removed  int
	Failures []Failure
	Duration time.Duration
}

// Reconciler sweeps directory trees against an archive.
type Reconciler struct {
	index  Index
	logger *slog.Logger
}

// New constructs a Reconciler reading from index.
func New(index Index, logger *slog.Logger) *Reconciler {
	return &Reconciler{index: index, logger: logging.NewComponentLogger(logger, "reconcile")}
}

type knownSet struct {
	byHash map[string]archive.Entry
	byName map[string]archive.Entry
}

// Sweep walks root and reports, or with Confirmed removes, every file already
// present in the archive. Per-file failures do not stop the sweep; they are
// returned as a *PartialFailureError alongside the full report. Cancellation is
// checked between files.
func (r *Reconciler) Sweep(ctx context.Context, root string, opts Options) (Report, error) {
	start := time.Now()
	if opts.Mode == "" {
		opts.Mode = MatchContent
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	report := Report{
		RunID:  uuid.NewString(),
		Root:   root,
		Mode:   opts.Mode,
		DryRun: !opts.Confirmed,
	}
	ctx = logging.WithRunID(ctx, report.RunID)
	logger := logging.WithContext(ctx, r.logger)

	info, err := os.Stat(root)
	if err != nil {
		return report, fmt.Errorf("sweep root: %w", err)
	}
	if !info.IsDir() {
		return report, fmt.Errorf("sweep root %q is not a directory", root)
	}

	known, err := r.loadKnown(ctx)
	if err != nil {
		return report, err
	}
	logger.Info("sweep started",
		logging.Path(root),
		logging.String("mode", string(opts.Mode)),
		logging.Bool("dry_run", report.DryRun),
		logging.Int("known_hashes", len(known.byHash)),
		logging.Int("known_names", len(known.byName)),
	)

	files, err := listFiles(ctx, root)
	if err != nil {
		return report, err
	}
	report.Scanned = len(files)

	var matches []Match
	var failures []Failure
	switch opts.Mode {
	case MatchFilename:
		for _, path := range files {
			if e, ok := known.byName[filepath.Base(path)]; ok {
				matches = append(matches, Match{Path: path, Partition: e.Partition, Identity: e.Identity, Reason: "filename"})
			}
		}
	default:
		candidates := files
		if opts.FilenamePrefilter {
			candidates = candidates[:0:0]
			for _, path := range files {
				if _, ok := known.byName[filepath.Base(path)]; ok {
					candidates = append(candidates, path)
				}
			}
		}
		report.Hashed = len(candidates)
		matches, failures, err = r.hashMatches(ctx, logger, candidates, known, opts)
		if err != nil {
			return report, err
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })

	if opts.Confirmed {
		for i := range matches {
			if err := ctx.Err(); err != nil {
				report.Matches = matches
				report.Failures = failures
				return report, err
			}
			if err := fileutil.RemoveIfExists(matches[i].Path); err != nil {
				failures = append(failures, Failure{Path: matches[i].Path, Err: err})
				logging.WarnWithContext(logger, "failed to remove archived duplicate", "sweep_remove_failed",
					logging.Path(matches[i].Path),
					logging.Error(err),
				)
				continue
			}
			matches[i].Removed = true
			report.Removed++
		}
	}

	report.Matches = matches
	report.Failures = failures
	report.Duration = time.Since(start)
	logger.Info("sweep finished",
		logging.Int("scanned", report.Scanned),
		logging.Int("matches", len(report.Matches)),
		logging.Int("removed", report.Removed),
		logging.Int("failures", len(report.Failures)),
		logging.Duration("duration", report.Duration),
	)
	if len(failures) > 0 {
		return report, &PartialFailureError{Failures: failures}
	}
	return report, nil
}

func (r *Reconciler) loadKnown(ctx context.Context) (knownSet, error) {
	known := knownSet{byHash: map[string]archive.Entry{}, byName: map[string]archive.Entry{}}
	err := r.index.EnumerateAll(ctx, func(e archive.Entry) error {
		if e.ContentHash != "" {
			known.byHash[strings.ToLower(e.ContentHash)] = e
		}
		// name-fallback identities are hashes of a file name, not of content
		if e.Confidence != identity.ConfidenceLow && isHexDigest(e.Identity) {
			if _, ok := known.byHash[strings.ToLower(e.Identity)]; !ok {
				known.byHash[strings.ToLower(e.Identity)] = e
			}
		}
		if e.Filename != "" {
			known.byName[e.Filename] = e
		}
		return nil
	})
	if err != nil {
		return knownSet{}, fmt.Errorf("load archived entries: %w", err)
	}
	return known, nil
}

// listFiles returns every regular file under root in walk order.
func listFiles(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func (r *Reconciler) hashMatches(ctx context.Context, logger *slog.Logger, candidates []string, known knownSet, opts Options) ([]Match, []Failure, error) {
	var (
		mu       sync.Mutex
		matches  []Match
		failures []Failure
		done     int
	)
	sampler := logging.NewProgressSampler(10)
	total := len(candidates)

	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)
	for _, path := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			digest, err := fileutil.HashFile(path, opts.ChunkSize)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				failures = append(failures, Failure{Path: path, Err: err})
			} else if e, ok := known.byHash[digest]; ok {
				matches = append(matches, Match{Path: path, Partition: e.Partition, Identity: e.Identity, Reason: "content"})
			}
			if opts.Progress != nil {
				opts.Progress(done, total)
			}
			if sampler.ShouldLog(done, total, "hash") {
				logger.Debug("sweep progress",
					logging.Int("hashed", done),
					logging.Int("total", total),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return matches, failures, err
	}
	return matches, failures, nil
}

func isHexDigest(value string) bool {
	if len(value) != 64 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
