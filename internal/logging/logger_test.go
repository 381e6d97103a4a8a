package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archivist/internal/config"
	"archivist/internal/logging"
)

func TestConsoleLoggerRendersComponentAndRunID(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithRunID(context.Background(), "0123456789abcdef")
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "ingest"))
	logger.Info("record archived", logging.Args(logging.Partition("studio_x"), logging.Identity("abc123"))...)

	line := buf.String()
	if !strings.Contains(line, "ingest [run 01234567]: record archived") {
		t.Fatalf("expected component and run header, got %q", line)
	}
	if !strings.Contains(line, "partition=studio_x") || !strings.Contains(line, "identity=abc123") {
		t.Fatalf("expected attributes in output, got %q", line)
	}
	if strings.Contains(line, "component=") || strings.Contains(line, "run_id=") {
		t.Fatalf("header fields should not repeat as attributes: %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerQuotesAndDedupes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.With(logging.Path("/a")).Warn("skip", logging.Args(logging.Path("/tmp/with space.jpg"), logging.Error(errors.New("boom")))...)

	line := buf.String()
	if !strings.Contains(line, `path="/tmp/with space.jpg"`) {
		t.Fatalf("expected quoted, last-wins path, got %q", line)
	}
	if strings.Count(line, "path=") != 1 {
		t.Fatalf("expected deduplicated path key, got %q", line)
	}
	if !strings.Contains(line, "error=boom") {
		t.Fatalf("expected error attribute, got %q", line)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
}

func TestJSONFormatUsesShortKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hello", logging.Args(logging.Int("count", 3))...)

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if payload["msg"] != "hello" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
}

func TestUnknownFormatRejected(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFileMirrorWritesJSON(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	logger, err := logging.New(logging.Options{Format: "console", Writer: &console, FilePath: path})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("mirrored", logging.Args(logging.EventType("test"))...)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"event_type":"test"`) {
		t.Fatalf("expected JSON record in file, got %q", data)
	}
	if !strings.Contains(console.String(), "mirrored") {
		t.Fatalf("expected console output, got %q", console.String())
	}
}

func TestNewFromConfigPrunesOldLogs(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.RetentionDays = 7

	stale := filepath.Join(cfg.Paths.LogDir, "archivist-2000-01-01.log")
	if err := os.WriteFile(stale, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write stale log: %v", err)
	}
	old := time.Now().AddDate(0, 0, -30)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	unrelated := filepath.Join(cfg.Paths.LogDir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep"), 0o644); err != nil {
		t.Fatalf("write unrelated: %v", err)
	}
	if err := os.Chtimes(unrelated, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	logger, err := logging.NewFromConfig(&cfg, io.Discard)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Debug("debug message")

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err=%v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("expected unrelated file kept: %v", err)
	}
	if _, err := os.Stat(logging.DailyLogPath(cfg.Paths.LogDir, time.Now())); err != nil {
		t.Fatalf("expected daily log file: %v", err)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "sidecar unreadable", "sidecar_invalid")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected %s in payload: %v", key, payload)
		}
	}
	if payload[logging.FieldEventType] != "sidecar_invalid" {
		t.Fatalf("unexpected event type: %v", payload[logging.FieldEventType])
	}
}

func TestContextFieldsRoundTrip(t *testing.T) {
	ctx := logging.WithPartition(logging.WithRunID(context.Background(), "run-1"), "studio_x")
	fields := logging.ContextFields(ctx)
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %v", fields)
	}
	if _, ok := logging.RunIDFromContext(context.Background()); ok {
		t.Fatal("expected no run id on empty context")
	}
}

func TestWarnWithContextFillsMissingFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "sidecar kept", "sidecar_remove_failed",
		logging.String(logging.FieldImpact, "sidecar is re-read next time"),
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record %q: %v", buf.String(), err)
	}
	if record["level"] != "warn" || record["event_type"] != "sidecar_remove_failed" {
		t.Fatalf("unexpected record: %v", record)
	}
	if record["impact"] != "sidecar is re-read next time" || record["error_hint"] == nil {
		t.Fatalf("expected caller impact kept and hint defaulted, got %v", record)
	}
	ts, _ := record["ts"].(string)
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", ts); err != nil {
		t.Fatalf("unexpected timestamp %q: %v", ts, err)
	}
}

func TestTeeHandlerRespectsEachLevel(t *testing.T) {
	var info, debug bytes.Buffer
	infoLogger, _ := logging.New(logging.Options{Format: "json", Level: "info", Writer: &info})
	debugLogger, _ := logging.New(logging.Options{Format: "json", Level: "debug", Writer: &debug})
	logger := slog.New(logging.TeeHandler(infoLogger.Handler(), nil, debugLogger.Handler()))

	logger.Debug("detail")
	logger.Info("summary")

	if strings.Contains(info.String(), "detail") || !strings.Contains(info.String(), "summary") {
		t.Fatalf("info handler got %q", info.String())
	}
	if !strings.Contains(debug.String(), "detail") || !strings.Contains(debug.String(), "summary") {
		t.Fatalf("debug handler got %q", debug.String())
	}
}
