package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"archivist/internal/archive"
	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/identity"
	"archivist/internal/logging"
	"archivist/internal/metadata"
)

// ErrInvalidSidecar wraps sidecar read and parse failures.
var ErrInvalidSidecar = errors.New("invalid sidecar")

// Store is the part of the archive the ingester writes to.
type Store interface {
	InsertIfAbsent(ctx context.Context, rec archive.Record) (bool, error)
	Locate(ctx context.Context, value string, scope archive.Scope) ([]string, error)
}

// Descriptor describes one downloaded item. Document may be nil when
// SidecarPath names the metadata file; FilePath may be empty when the media
// file sits next to the sidecar.
type Descriptor struct {
	FilePath    string
	SidecarPath string
	Document    map[string]any
	// Partition overrides the configured partition rule.
	Partition string
	// Source selects per-source ID paths; empty derives it from the document.
	Source string
}

// Outcome reports what happened to one item.
type Outcome struct {
	Identity      identity.Identity
	Partition     string
	Inserted      bool
	LowConfidence bool
}

// Ingester turns download descriptors into archive records.
type Ingester struct {
	cfg       *config.Config
	store     Store
	extractor *identity.Extractor
	logger    *slog.Logger
}

// New constructs an Ingester writing to store.
func New(cfg *config.Config, store Store, logger *slog.Logger) *Ingester {
	logger = logging.NewComponentLogger(logger, "ingest")
	return &Ingester{
		cfg:       cfg,
		store:     store,
		extractor: identity.NewExtractor(cfg, logger),
		logger:    logger,
	}
}

// IngestItem archives one item using the configured partition rule. A
// low-confidence fallback identity is archived and reported, not returned as
// an error.
func (i *Ingester) IngestItem(ctx context.Context, desc Descriptor) (Outcome, error) {
	return i.ingest(ctx, desc, i.cfg.Ingest.PartitionRule)
}

func (i *Ingester) ingest(ctx context.Context, desc Descriptor, rule string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	doc := desc.Document
	if doc == nil && desc.SidecarPath != "" {
		var err error
		doc, err = readSidecar(desc.SidecarPath)
		if err != nil {
			return Outcome{}, err
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	filePath := desc.FilePath
	if filePath == "" && desc.SidecarPath != "" {
		if media, ok := fileutil.MediaForSidecar(desc.SidecarPath); ok {
			filePath = media
		} else {
			// keeps the expected media name for the filename fallback
			filePath = strings.TrimSuffix(desc.SidecarPath, filepath.Ext(desc.SidecarPath))
		}
	}

	source := strings.TrimSpace(desc.Source)
	if source == "" {
		source = metadata.SourceOf(doc)
	}

	id, err := i.extractor.Resolve(ctx, identity.Request{
		FilePath:       filePath,
		Document:       doc,
		Source:         source,
		PreferSourceID: i.cfg.Identity.PreferSourceID,
	})
	low := false
	if err != nil {
		if !errors.Is(err, identity.ErrIdentityUnavailable) || id.Value == "" {
			return Outcome{}, err
		}
		low = true
	}

	rulePath := filePath
	if rulePath == "" {
		rulePath = desc.SidecarPath
	}
	partition, err := metadata.PartitionFor(rule, metadata.Context{
		Override: desc.Partition,
		Document: doc,
		FilePath: rulePath,
	})
	if err != nil {
		return Outcome{}, err
	}

	filename := ""
	if filePath != "" {
		filename = filepath.Base(filePath)
	}
	inserted, err := i.store.InsertIfAbsent(ctx, archive.Record{
		Partition:  partition,
		Identity:   id,
		Filename:   filename,
		Attributes: metadata.Normalize(doc),
	})
	if err != nil {
		return Outcome{}, err
	}

	logger := logging.WithContext(ctx, i.logger)
	if inserted {
		logger.Info("item archived",
			logging.Partition(partition),
			logging.Identity(id.Value),
			logging.String("scheme", string(id.Scheme)),
			logging.EventType("item_archived"),
		)
	} else {
		logger.Debug("item already archived",
			logging.Partition(partition),
			logging.Identity(id.Value),
			logging.EventType("item_duplicate"),
		)
	}
	return Outcome{Identity: id, Partition: partition, Inserted: inserted, LowConfidence: low}, nil
}

func readSidecar(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSidecar, err)
	}
	defer f.Close()
	doc, err := metadata.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSidecar, filepath.Base(path), err)
	}
	return doc, nil
}

// CheckDownloaded reports the partitions already holding idOrURL. A URL is
// reduced to its last path segment, which is the item ID on the supported
// galleries. The result is empty when the item has not been archived.
func (i *Ingester) CheckDownloaded(ctx context.Context, idOrURL string) ([]string, error) {
	key := KeyFromURL(idOrURL)
	if key == "" {
		return nil, fmt.Errorf("nothing to look up in %q", idOrURL)
	}
	return i.store.Locate(ctx, key, archive.ScopeAll)
}

// KeyFromURL returns the trailing path segment of an http(s) URL, or the
// trimmed input when it is not a URL.
func KeyFromURL(value string) string {
	value = strings.TrimSpace(value)
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return value
	}
	path := strings.TrimRight(u.Path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		path = path[idx+1:]
	}
	return path
}

// isDocumentError reports whether err affects only the current item.
func isDocumentError(err error) bool {
	return archive.IsDocumentError(err) ||
		errors.Is(err, ErrInvalidSidecar) ||
		errors.Is(err, identity.ErrIdentityUnavailable) ||
		errors.Is(err, metadata.ErrNoPartition)
}
