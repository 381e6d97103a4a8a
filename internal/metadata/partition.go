package metadata

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"archivist/internal/textutil"
)

// Partition rules.
const (
	// RuleFolder groups records by author/gallery: the parent folder of the file.
	RuleFolder = "folder"
	// RuleSource groups records by platform.
	RuleSource = "source"
	// RuleOverride uses the caller-supplied name.
	RuleOverride = "override"
)

// ReservedPrefix marks tables owned by the archive itself.
const ReservedPrefix = "archive_"

// UnknownSource is used when no source can be determined.
const UnknownSource = "unknown"

// ErrNoPartition is returned when a rule has nothing to derive a name from.
var ErrNoPartition = errors.New("cannot derive partition name")

// Context carries everything a partition rule may look at.
type Context struct {
	Override string
	Document map[string]any
	FilePath string
}

// PartitionFor derives the sanitized partition name for one item. A non-empty
// override always wins.
func PartitionFor(rule string, c Context) (string, error) {
	if override := strings.TrimSpace(c.Override); override != "" {
		return SanitizePartition(override), nil
	}
	switch strings.ToLower(strings.TrimSpace(rule)) {
	case RuleOverride:
		return "", fmt.Errorf("%w: override rule without a name", ErrNoPartition)
	case RuleFolder:
		if strings.TrimSpace(c.FilePath) == "" {
			return "", fmt.Errorf("%w: folder rule without a file path", ErrNoPartition)
		}
		folder := filepath.Base(filepath.Dir(filepath.Clean(c.FilePath)))
		if folder == "." || folder == string(filepath.Separator) {
			return "", fmt.Errorf("%w: %s has no parent folder", ErrNoPartition, c.FilePath)
		}
		return SanitizePartition(folder), nil
	case RuleSource:
		return SanitizePartition(SourceOf(c.Document)), nil
	default:
		return "", fmt.Errorf("%w: unknown rule %q", ErrNoPartition, rule)
	}
}

// SourceOf returns the platform a document came from: the category field,
// then the source field, then DetectSource.
func SourceOf(doc map[string]any) string {
	for _, key := range []string{"category", "source"} {
		if s, ok := doc[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return DetectSource(doc)
}

// DetectSource recognises documents produced by known downloaders that do not
// label themselves.
func DetectSource(doc map[string]any) string {
	if doc == nil {
		return UnknownSource
	}
	if s, ok := doc["category"].(string); ok && s == "pixiv" {
		return "pixiv"
	}
	_, hasAIType := doc["illust_ai_type"]
	_, hasRestrict := doc["x_restrict"]
	if hasAIType && hasRestrict {
		return "pixiv"
	}
	if url, ok := doc["url"].(string); ok && strings.HasPrefix(url, "https://i.pximg.net") {
		return "pixiv"
	}
	return UnknownSource
}

// SanitizePartition turns any label into a table name that cannot collide
// with the archive's own tables or SQLite's.
func SanitizePartition(name string) string {
	out := textutil.SanitizeIdentifier(name)
	lower := strings.ToLower(out)
	if strings.HasPrefix(lower, ReservedPrefix) || strings.HasPrefix(lower, "sqlite_") {
		out = "_" + out
	}
	return out
}
