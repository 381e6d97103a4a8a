package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// valueText renders v for the console without quoting.
func valueText(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
	case slog.KindTime:
		if v.Time().IsZero() {
			return ""
		}
		return v.Time().In(time.Local).Format(logTimestampLayout)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// formatValue renders v as the right-hand side of key=value, quoting values
// that are empty or contain spaces, quotes, or '='.
func formatValue(v slog.Value) string {
	s := valueText(v)
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
