package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logTimestampLayout = "2006-01-02 15:04:05"

// consoleHandler writes one human-readable line per record:
//
//	2026-01-02 15:04:05 INFO  ingest [run 1a2b3c4d]: record archived partition=studio_x identity=abc
//
// Component and run ID move into the prefix. Other attributes follow as
// key=value in first-seen order; a repeated key keeps its last value.
type consoleHandler struct {
	out       *lockedWriter
	level     slog.Leveler
	preset    []field
	groups    []string
	addSource bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(p)
	return err
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	if !h.Enabled(context.Background(), r.Level) {
		return nil
	}
	when := r.Time
	if when.IsZero() {
		when = time.Now()
	}

	fields := append([]field(nil), h.preset...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendField(fields, h.groups, a)
		return true
	})
	component, runID, rest := splitHeader(fields)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s ", when.In(time.Local).Format(logTimestampLayout), levelName(r.Level))
	switch {
	case component != "" && runID != "":
		fmt.Fprintf(&b, "%s [run %s]: ", component, shortRunID(runID))
	case runID != "":
		fmt.Fprintf(&b, "[run %s]: ", shortRunID(runID))
	case component != "":
		b.WriteString(component + ": ")
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}
	b.WriteString(msg)
	if h.addSource {
		if src := r.Source(); src != nil {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range rest {
		b.WriteString(" " + f.key + "=" + formatValue(f.value))
	}
	b.WriteByte('\n')
	return h.out.write([]byte(b.String()))
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append([]field(nil), h.preset...)
	for _, a := range attrs {
		next.preset = appendField(next.preset, h.groups, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

// appendField flattens a into dst, joining group names with dots.
func appendField(dst []field, groups []string, a slog.Attr) []field {
	if a.Equal(slog.Attr{}) {
		return dst
	}
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			groups = append(append([]string(nil), groups...), a.Key)
		}
		for _, member := range a.Value.Group() {
			dst = appendField(dst, groups, member)
		}
		return dst
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	if key == "" {
		return dst
	}
	return append(dst, field{key: key, value: a.Value})
}

// splitHeader pulls the first component and run ID out of fields and
// collapses repeated keys onto their first position.
func splitHeader(fields []field) (component, runID string, rest []field) {
	pos := make(map[string]int, len(fields))
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			if component == "" {
				component = valueText(f.value)
			}
			continue
		case FieldRunID:
			if runID == "" {
				runID = valueText(f.value)
			}
			continue
		}
		if i, seen := pos[f.key]; seen {
			rest[i] = f
			continue
		}
		pos[f.key] = len(rest)
		rest = append(rest, f)
	}
	return component, runID, rest
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
