package main

import (
	"errors"
	"path/filepath"
	"testing"

	"archivist/internal/archive"
	"archivist/internal/fileutil"
	"archivist/internal/testsupport"
)

func TestIngestExistsAndSweep(t *testing.T) {
	env := setupCLITestEnv(t)
	media, sidecar := testsupport.WriteSidecar(t, filepath.Join(env.downloads, "author_a", "1_p0.jpg"), "pixels",
		map[string]any{"id": 1, "title": "first"})
	testsupport.WriteSidecar(t, filepath.Join(env.downloads, "author_b", "2_p0.jpg"), "more pixels",
		map[string]any{"id": 2})
	hash, err := fileutil.HashFile(media, 0)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	out, _, err := runCLI(t, []string{"--json", "ingest", env.downloads}, env.configPath)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var summary ingestSummaryJSON
	decodeJSON(t, out, &summary)
	if summary.Processed != 2 || summary.Inserted != 2 || summary.SidecarsRemoved != 2 {
		t.Fatalf("unexpected ingest summary: %+v", summary)
	}
	if testsupport.Exists(t, sidecar) {
		t.Fatal("expected sidecar removed by default")
	}

	out, _, err = runCLI(t, []string{"--json", "exists", hash, "missing"}, env.configPath)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	var results []existsResult
	decodeJSON(t, out, &results)
	if len(results) != 2 || !results[0].Archived || results[0].Partitions[0] != "author_a" || results[1].Archived {
		t.Fatalf("unexpected exists results: %+v", results)
	}

	out, _, err = runCLI(t, []string{"exists", "--filename", "2_p0.jpg"}, env.configPath)
	if err != nil {
		t.Fatalf("exists --filename: %v", err)
	}
	requireContains(t, out, "archived in author_b")

	out, _, err = runCLI(t, []string{"--json", "exists", "https://www.pixiv.net/en/artworks/2"}, env.configPath)
	if err != nil {
		t.Fatalf("exists url: %v", err)
	}
	results = nil
	decodeJSON(t, out, &results)
	if len(results) != 1 || !results[0].Archived || results[0].Key != "2" || results[0].Partitions[0] != "author_b" {
		t.Fatalf("expected gallery url to match stored source id: %+v", results)
	}

	out, _, err = runCLI(t, []string{"sweep", env.downloads}, env.configPath)
	if err != nil {
		t.Fatalf("sweep dry run: %v", err)
	}
	requireContains(t, out, "would remove 2")
	if !testsupport.Exists(t, media) {
		t.Fatal("dry run must not delete files")
	}

	out, _, err = runCLI(t, []string{"--json", "sweep", "--confirm", env.downloads}, env.configPath)
	if err != nil {
		t.Fatalf("sweep --confirm: %v", err)
	}
	var report sweepReportJSON
	decodeJSON(t, out, &report)
	if report.DryRun || report.Removed != 2 || len(report.Matches) != 2 {
		t.Fatalf("unexpected sweep report: %+v", report)
	}
	if testsupport.Exists(t, media) {
		t.Fatal("expected archived file removed")
	}
}

func TestExistsWithoutArchiveFile(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"exists", "https://www.pixiv.net/artworks/12345"}, env.configPath)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	requireContains(t, out, "12345: not archived")
}

func TestPartitionsColumnsAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	media, _ := testsupport.WriteSidecar(t, filepath.Join(env.downloads, "studio_x", "a.png"), "a",
		map[string]any{"id": 7, "score": 4.5, "tags": []string{"x"}})
	if _, _, err := runCLI(t, []string{"ingest", env.downloads}, env.configPath); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	hash, _ := fileutil.HashFile(media, 0)

	out, _, err := runCLI(t, []string{"partitions"}, env.configPath)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	requireContains(t, out, "studio_x")
	requireContains(t, out, "sha256")

	out, _, err = runCLI(t, []string{"columns", "studio_x"}, env.configPath)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	requireContains(t, out, "score")
	requireContains(t, out, "REAL")

	out, _, err = runCLI(t, []string{"--json", "show", "studio_x", hash}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var rec map[string]any
	decodeJSON(t, out, &rec)
	attrs, _ := rec["attributes"].(map[string]any)
	if rec["filename"] != "a.png" || attrs["score"] != 4.5 || attrs["tags"] != `["x"]` {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestDestructiveCommandsRequireConfirm(t *testing.T) {
	env := setupCLITestEnv(t)
	media, _ := testsupport.WriteSidecar(t, filepath.Join(env.downloads, "gallery", "a.png"), "a", map[string]any{"id": 1})
	if _, _, err := runCLI(t, []string{"ingest", env.downloads}, env.configPath); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	hash, _ := fileutil.HashFile(media, 0)

	if _, _, err := runCLI(t, []string{"delete", "gallery", hash}, env.configPath); !errors.Is(err, archive.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed from delete, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"drop", "gallery"}, env.configPath); !errors.Is(err, archive.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed from drop, got %v", err)
	}

	out, _, err := runCLI(t, []string{"delete", "--confirm", "gallery", hash}, env.configPath)
	if err != nil {
		t.Fatalf("delete --confirm: %v", err)
	}
	requireContains(t, out, "Deleted")

	if _, _, err := runCLI(t, []string{"drop", "--confirm", "gallery"}, env.configPath); err != nil {
		t.Fatalf("drop --confirm: %v", err)
	}
	out, _, err = runCLI(t, []string{"partitions"}, env.configPath)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	requireContains(t, out, "Archive is empty")
}

func TestClearCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSidecar(t, filepath.Join(env.downloads, "g1", "a.png"), "a", map[string]any{"id": 1})
	testsupport.WriteSidecar(t, filepath.Join(env.downloads, "g2", "b.png"), "b", map[string]any{"id": 2})
	if _, _, err := runCLI(t, []string{"ingest", env.downloads}, env.configPath); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, _, err := runCLI(t, []string{"clear"}, env.configPath); !errors.Is(err, archive.ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed from clear, got %v", err)
	}
	out, _, err := runCLI(t, []string{"clear", "--confirm"}, env.configPath)
	if err != nil {
		t.Fatalf("clear --confirm: %v", err)
	}
	requireContains(t, out, "Cleared 2 partition(s)")

	out, _, err = runCLI(t, []string{"partitions"}, env.configPath)
	if err != nil {
		t.Fatalf("partitions: %v", err)
	}
	requireContains(t, out, "Archive is empty")
}

func TestHealthCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"health"}, env.configPath)
	if err != nil {
		t.Fatalf("health before first ingest: %v", err)
	}
	requireContains(t, out, "Archive directory")

	testsupport.WriteSidecar(t, filepath.Join(env.downloads, "g", "a.png"), "a", map[string]any{"id": 1})
	if _, _, err := runCLI(t, []string{"ingest", env.downloads}, env.configPath); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	out, _, err = runCLI(t, []string{"--json", "health"}, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var h healthJSON
	decodeJSON(t, out, &h)
	if !h.Healthy || !h.Exists || h.Partitions != 1 || h.TotalRecords != 1 || !h.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", h)
	}
}

func TestLogsCommandFiltersByRun(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteSidecar(t, filepath.Join(env.downloads, "g", "a.png"), "a", map[string]any{"id": 1})
	out, _, err := runCLI(t, []string{"--json", "ingest", env.downloads}, env.configPath)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var summary ingestSummaryJSON
	decodeJSON(t, out, &summary)

	out, _, err = runCLI(t, []string{"logs", "--run", summary.RunID, "--event", "item_archived"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, summary.RunID)
	requireContains(t, out, `"partition":"g"`)
}
