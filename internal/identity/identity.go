package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"

	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/logging"
	"archivist/internal/textutil"
)

// ErrIdentityUnavailable indicates neither file content nor a usable ID field
// was present. Resolve still returns a usable low-confidence identity.
var ErrIdentityUnavailable = errors.New("identity unavailable")

// Scheme records how an identity was derived.
type Scheme string

const (
	SchemeContentHash  Scheme = "content_hash"
	SchemeSourceID     Scheme = "source_id"
	SchemeNameFallback Scheme = "name_fallback"
)

// Keyspace groups schemes whose values may share a partition. Content hashes
// and filename fallbacks are both SHA-256 hex; source IDs are not.
func (s Scheme) Keyspace() string {
	if s == SchemeSourceID {
		return "source_id"
	}
	return "sha256"
}

// Confidence grades how trustworthy an identity is for duplicate detection.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// DefaultIDPaths are tried in order when no configuration is supplied.
var DefaultIDPaths = []string{"$.id", "$.post_id", "$.illust_id", "$.image_id"}

// Identity is the key used to decide whether an item was already archived.
type Identity struct {
	Value      string
	Scheme     Scheme
	Confidence Confidence
	// ContentHash is set whenever the file bytes were hashed.
	ContentHash string
	// SourceID is the source-native ID whenever the document carries one,
	// whichever scheme produced Value.
	SourceID string
}

// Request describes one item to identify.
type Request struct {
	FilePath       string
	Document       map[string]any
	Source         string
	PreferSourceID bool
}

// Extractor derives identities from files and sidecar documents.
type Extractor struct {
	chunkSize int
	defaults  []jp.Expr
	bySource  map[string][]jp.Expr
	logger    *slog.Logger
}

// NewExtractor builds an extractor from configuration. Invalid JSONPath
// expressions are rejected by config validation; any that slip through are
// ignored here.
func NewExtractor(cfg *config.Config, logger *slog.Logger) *Extractor {
	e := &Extractor{
		chunkSize: fileutil.DefaultChunkSize,
		defaults:  compile(DefaultIDPaths),
		bySource:  map[string][]jp.Expr{},
		logger:    logging.NewComponentLogger(logger, "identity"),
	}
	if cfg == nil {
		return e
	}
	if size := cfg.HashChunkSize(); size > 0 {
		e.chunkSize = size
	}
	if len(cfg.Identity.IDPaths) > 0 {
		e.defaults = compile(cfg.Identity.IDPaths)
	}
	for source, paths := range cfg.Identity.SourceIDPaths {
		e.bySource[textutil.SanitizeToken(source)] = compile(paths)
	}
	return e
}

// HashFile returns the lowercase hex SHA-256 of the file using the
// extractor's chunk size.
func (e *Extractor) HashFile(path string) (string, error) {
	return fileutil.HashFile(path, e.chunkSize)
}

// SourceID evaluates the ID paths for source against doc.
func (e *Extractor) SourceID(doc map[string]any, source string) (string, bool) {
	if doc == nil {
		return "", false
	}
	exprs := e.defaults
	if source != "" {
		if specific, ok := e.bySource[textutil.SanitizeToken(source)]; ok && len(specific) > 0 {
			exprs = specific
		}
	}
	return firstScalar(doc, exprs)
}

// Resolve picks the identity for one item. The order is: the source ID when
// preferred and present, the content hash when the file is readable, any
// source ID, and finally a hash of the base filename. The last case returns
// the fallback identity together with an error wrapping
// ErrIdentityUnavailable.
func (e *Extractor) Resolve(ctx context.Context, req Request) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	sourceID, hasSourceID := e.SourceID(req.Document, req.Source)
	if req.PreferSourceID && hasSourceID {
		return Identity{Value: sourceID, Scheme: SchemeSourceID, Confidence: ConfidenceHigh, SourceID: sourceID}, nil
	}

	var hashErr error
	if strings.TrimSpace(req.FilePath) != "" {
		sum, err := e.HashFile(req.FilePath)
		if err == nil {
			return Identity{Value: sum, Scheme: SchemeContentHash, Confidence: ConfidenceHigh, ContentHash: sum, SourceID: sourceID}, nil
		}
		hashErr = err
	}
	if hasSourceID {
		return Identity{Value: sourceID, Scheme: SchemeSourceID, Confidence: ConfidenceHigh, SourceID: sourceID}, nil
	}

	name := filepath.Base(strings.TrimSpace(req.FilePath))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return Identity{}, fmt.Errorf("%w: no file name, readable content, or id field", ErrIdentityUnavailable)
	}
	fallback := Identity{Value: FallbackFromName(name), Scheme: SchemeNameFallback, Confidence: ConfidenceLow}
	attrs := []logging.Attr{
		logging.Path(req.FilePath),
		logging.Identity(fallback.Value),
		logging.String(logging.FieldErrorHint, "keep the media file next to its sidecar or add an id field"),
		logging.String(logging.FieldImpact, "record keyed by file name; different files with the same name collide"),
	}
	if hashErr != nil && !errors.Is(hashErr, os.ErrNotExist) {
		attrs = append(attrs, logging.Error(hashErr))
	}
	logging.WarnWithContext(logging.WithContext(ctx, e.logger), "low-confidence identity derived from file name", "identity_fallback", attrs...)
	return fallback, fmt.Errorf("%w: %s", ErrIdentityUnavailable, name)
}

// FallbackFromName hashes a base filename into a reproducible identity.
func FallbackFromName(name string) string {
	return fileutil.HashString(name)
}

// FromMetadata evaluates JSONPath expressions against doc in order and returns
// the first scalar string or integral number found.
func FromMetadata(doc any, paths []string) (string, bool) {
	return firstScalar(doc, compile(paths))
}

func compile(paths []string) []jp.Expr {
	exprs := make([]jp.Expr, 0, len(paths))
	for _, p := range paths {
		x, err := jp.ParseString(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		exprs = append(exprs, x)
	}
	return exprs
}

func firstScalar(doc any, exprs []jp.Expr) (string, bool) {
	for _, x := range exprs {
		for _, v := range x.Get(doc) {
			if id, ok := scalarID(v); ok {
				return id, true
			}
		}
	}
	return "", false
}

func scalarID(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		val = strings.TrimSpace(val)
		return val, val != ""
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		// integers beyond int64 survive as their literal digits
		s := val.String()
		if s != "" && strings.Trim(s, "0123456789") == "" {
			return s, true
		}
		return "", false
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10), true
		}
	case int64:
		return strconv.FormatInt(val, 10), true
	case int:
		return strconv.Itoa(val), true
	}
	return "", false
}
