package logs

import (
	"log/slog"
	"strings"

	"github.com/ohler55/ojg/oj"

	"archivist/internal/logging"
)

// Filter selects JSON log records. Zero fields match everything.
type Filter struct {
	RunID     string
	Partition string
	EventType string
	// MinLevel drops records below this level ("debug", "info", "warn", "error").
	MinLevel string
}

// IsZero reports whether the filter matches every line.
func (f Filter) IsZero() bool {
	return f.RunID == "" && f.Partition == "" && f.EventType == "" && f.MinLevel == ""
}

// Match reports whether line is a JSON record accepted by f. Lines that are
// not JSON objects only match the zero filter.
func (f Filter) Match(line string) bool {
	if f.IsZero() {
		return true
	}
	parsed, err := oj.ParseString(line)
	if err != nil {
		return false
	}
	record, ok := parsed.(map[string]any)
	if !ok {
		return false
	}
	if f.RunID != "" && !strings.HasPrefix(field(record, logging.FieldRunID), f.RunID) {
		return false
	}
	if f.Partition != "" && !strings.EqualFold(field(record, logging.FieldPartition), f.Partition) {
		return false
	}
	if f.EventType != "" && field(record, logging.FieldEventType) != f.EventType {
		return false
	}
	if f.MinLevel != "" && levelOf(field(record, slog.LevelKey)) < levelOf(f.MinLevel) {
		return false
	}
	return true
}

func field(record map[string]any, key string) string {
	if v, ok := record[key].(string); ok {
		return v
	}
	return ""
}

func levelOf(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(value)))); err != nil {
		return slog.LevelInfo
	}
	return level
}
