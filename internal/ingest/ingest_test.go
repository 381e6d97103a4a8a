package ingest_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"archivist/internal/archive"
	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/identity"
	"archivist/internal/ingest"
	"archivist/internal/logging"
	"archivist/internal/metadata"
	"archivist/internal/testsupport"
)

func newIngester(t *testing.T, opts ...testsupport.ConfigOption) (*ingest.Ingester, *archive.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	return ingest.New(cfg, store, logging.NewNop()), store, cfg
}

func TestIngestItemUsesContentHashAndFolderPartition(t *testing.T) {
	ing, store, _ := newIngester(t)
	root := t.TempDir()
	media, sidecar := testsupport.WriteSidecar(t, filepath.Join(root, "author_a", "1_p0.jpg"), "pixels",
		map[string]any{"id": 1, "rating": "safe", "tags": []string{"b", "a"}})

	out, err := ing.IngestItem(context.Background(), ingest.Descriptor{SidecarPath: sidecar})
	if err != nil {
		t.Fatalf("IngestItem failed: %v", err)
	}
	if !out.Inserted || out.Partition != "author_a" || out.LowConfidence {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	want, _ := fileutil.HashFile(media, 0)
	if out.Identity.Value != want || out.Identity.Scheme != identity.SchemeContentHash {
		t.Fatalf("expected content hash identity, got %+v", out.Identity)
	}

	rec, err := store.Get(context.Background(), "author_a", want)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Filename != "1_p0.jpg" {
		t.Fatalf("unexpected filename %q", rec.Filename)
	}
	if rec.Attributes["tags"].Text != `["b","a"]` || rec.Attributes["id"].Int != 1 {
		t.Fatalf("unexpected attributes: %v", rec.Attributes)
	}

	again, err := ing.IngestItem(context.Background(), ingest.Descriptor{SidecarPath: sidecar})
	if err != nil || again.Inserted {
		t.Fatalf("expected duplicate on second ingest, got %+v err=%v", again, err)
	}
}

func TestIngestItemSourceRuleAndPreferredID(t *testing.T) {
	ing, _, _ := newIngester(t, testsupport.WithPartitionRule(metadata.RuleSource), testsupport.WithPreferSourceID())
	root := t.TempDir()
	media := testsupport.WriteFile(t, filepath.Join(root, "x.png"), "bytes")

	out, err := ing.IngestItem(context.Background(), ingest.Descriptor{
		FilePath: media,
		Document: map[string]any{"illust_ai_type": 1, "x_restrict": 0, "illust_id": "555"},
	})
	if err != nil {
		t.Fatalf("IngestItem failed: %v", err)
	}
	if out.Partition != "pixiv" || out.Identity.Value != "555" || out.Identity.Scheme != identity.SchemeSourceID {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestIngestItemFallbackIsLowConfidence(t *testing.T) {
	ing, _, _ := newIngester(t)
	root := t.TempDir()
	sidecar := testsupport.WriteFile(t, filepath.Join(root, "gallery", "lost.jpg.json"), `{"title":"no id"}`)

	out, err := ing.IngestItem(context.Background(), ingest.Descriptor{SidecarPath: sidecar})
	if err != nil {
		t.Fatalf("fallback identity should not fail the item: %v", err)
	}
	if !out.LowConfidence || out.Identity.Value != identity.FallbackFromName("lost.jpg") {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestIngestFolderSummaryAndSidecarRemoval(t *testing.T) {
	ing, _, _ := newIngester(t)
	root := t.TempDir()
	_, good := testsupport.WriteSidecar(t, filepath.Join(root, "a", "1.jpg"), "one", map[string]any{"id": 1})
	_, dup := testsupport.WriteSidecar(t, filepath.Join(root, "a", "copy.jpg"), "one", map[string]any{"id": 1})
	bad := testsupport.WriteFile(t, filepath.Join(root, "a", "broken.jpg.json"), `{"id":`)
	list := testsupport.WriteFile(t, filepath.Join(root, "a", "list.json"), `[1,2,3]`)

	var calls int
	summary, err := ing.IngestFolder(context.Background(), root, ingest.FolderOptions{
		RemoveSidecars: true,
		Progress:       func(done, total int) { calls++ },
	})
	if err != nil {
		t.Fatalf("IngestFolder failed: %v", err)
	}
	if summary.Processed != 4 || summary.Inserted != 1 || summary.Duplicates != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Path != bad || !errors.Is(summary.Failed[0].Err, ingest.ErrInvalidSidecar) {
		t.Fatalf("expected broken sidecar failure, got %+v", summary.Failed)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0].Path != list {
		t.Fatalf("expected list sidecar skipped, got %+v", summary.Skipped)
	}
	if testsupport.Exists(t, good) || testsupport.Exists(t, dup) {
		t.Fatal("expected archived sidecars removed")
	}
	if !testsupport.Exists(t, bad) || !testsupport.Exists(t, list) {
		t.Fatal("sidecars that were not archived must stay")
	}
	if summary.SidecarsRemoved != 2 || calls != 4 || summary.RunID == "" {
		t.Fatalf("unexpected bookkeeping: %+v calls=%d", summary, calls)
	}
}

func TestIngestFolderOverrideAndSchemeMismatch(t *testing.T) {
	ing, store, _ := newIngester(t, testsupport.WithPreferSourceID())
	root := t.TempDir()
	testsupport.WriteSidecar(t, filepath.Join(root, "1.jpg"), "one", map[string]any{"id": 1})
	testsupport.WriteSidecar(t, filepath.Join(root, "2.jpg"), "two", map[string]any{"name": "no id"})

	summary, err := ing.IngestFolder(context.Background(), root, ingest.FolderOptions{Override: "studio_x"})
	if err != nil {
		t.Fatalf("IngestFolder failed: %v", err)
	}
	if summary.Inserted != 1 || len(summary.Failed) != 1 || !errors.Is(summary.Failed[0].Err, archive.ErrSchemeMismatch) {
		t.Fatalf("expected one insert and one scheme mismatch, got %+v", summary)
	}
	ok, err := store.Exists(context.Background(), "1", archive.ScopePartition("studio_x"))
	if err != nil || !ok {
		t.Fatalf("expected record in override partition, got %v err=%v", ok, err)
	}
}

func TestIngestFolderStopsWhenStoreUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ing := ingest.New(cfg, store, logging.NewNop())
	root := t.TempDir()
	testsupport.WriteSidecar(t, filepath.Join(root, "a", "1.jpg"), "one", map[string]any{"id": 1})
	testsupport.WriteSidecar(t, filepath.Join(root, "a", "2.jpg"), "two", map[string]any{"id": 2})
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	summary, err := ing.IngestFolder(context.Background(), root, ingest.FolderOptions{})
	if !errors.Is(err, archive.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("expected abort after first item, got %+v", summary)
	}
}

func TestWatcherStopsWhenStoreUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.WatchDebounceMS = 20
	store := testsupport.MustOpenStore(t, cfg)
	ing := ingest.New(cfg, store, logging.NewNop())
	root := t.TempDir()

	w, err := ing.NewWatcher(root, ingest.FolderOptions{})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	testsupport.WriteSidecar(t, filepath.Join(root, "1.jpg"), "one", map[string]any{"id": 1})

	select {
	case err := <-done:
		if !errors.Is(err, archive.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable from Run, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher kept running against an unavailable store")
	}
}

func TestCheckDownloaded(t *testing.T) {
	ing, _, _ := newIngester(t, testsupport.WithPreferSourceID())
	root := t.TempDir()
	media := testsupport.WriteFile(t, filepath.Join(root, "pixiv", "98765_p0.jpg"), "img")
	if _, err := ing.IngestItem(context.Background(), ingest.Descriptor{FilePath: media, Document: map[string]any{"id": "98765"}}); err != nil {
		t.Fatalf("IngestItem failed: %v", err)
	}

	found, err := ing.CheckDownloaded(context.Background(), "https://www.pixiv.net/artworks/98765/")
	if err != nil || len(found) != 1 || found[0] != "pixiv" {
		t.Fatalf("expected URL to resolve to archived item, got %v err=%v", found, err)
	}
	found, err = ing.CheckDownloaded(context.Background(), "11111")
	if err != nil || len(found) != 0 {
		t.Fatalf("expected no match, got %v err=%v", found, err)
	}
}

func TestCheckDownloadedFindsSourceIDOfHashedItem(t *testing.T) {
	ing, store, _ := newIngester(t)
	root := t.TempDir()
	testsupport.WriteSidecar(t, filepath.Join(root, "author_a", "98765_p0.jpg"), "img",
		map[string]any{"id": 98765, "category": "pixiv"})

	summary, err := ing.IngestFolder(context.Background(), root, ingest.FolderOptions{})
	if err != nil || summary.Inserted != 1 {
		t.Fatalf("expected one insert, got %+v err=%v", summary, err)
	}

	found, err := ing.CheckDownloaded(context.Background(), "https://www.pixiv.net/en/artworks/98765")
	if err != nil || len(found) != 1 || found[0] != "author_a" {
		t.Fatalf("expected source id to resolve to hashed item, got %v err=%v", found, err)
	}
	ok, err := store.Exists(context.Background(), "98765", archive.ScopePartition("author_a"))
	if err != nil || !ok {
		t.Fatalf("expected scoped existence by source id, got %v err=%v", ok, err)
	}
}

func TestKeyFromURL(t *testing.T) {
	cases := map[string]string{
		"https://www.pixiv.net/artworks/123?lang=en": "123",
		"  456 ":                                      "456",
		"http://example.com/posts/789/":               "789",
		"not a url/abc":                               "not a url/abc",
	}
	for in, want := range cases {
		if got := ingest.KeyFromURL(in); got != want {
			t.Fatalf("KeyFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatcherIngestsNewSidecars(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.WatchDebounceMS = 50
	store := testsupport.MustOpenStore(t, cfg)
	ing := ingest.New(cfg, store, logging.NewNop())
	root := t.TempDir()

	w, err := ing.NewWatcher(root, ingest.FolderOptions{RemoveSidecars: true})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	results := make(chan ingest.Outcome, 4)
	w.OnIngest = func(path string, out ingest.Outcome, err error) {
		if err == nil {
			results <- out
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	_, sidecar := testsupport.WriteSidecar(t, filepath.Join(root, "9.jpg"), "nine", map[string]any{"id": 9})

	select {
	case out := <-results:
		if !out.Inserted {
			t.Fatalf("expected insert, got %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher ingest")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled from Run, got %v", err)
	}
	if testsupport.Exists(t, sidecar) {
		t.Fatal("expected sidecar removed after ingest")
	}
}
