package identity_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"archivist/internal/config"
	"archivist/internal/fileutil"
	"archivist/internal/identity"
	"archivist/internal/logging"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func newExtractor(t *testing.T) *identity.Extractor {
	t.Helper()
	cfg := config.Default()
	return identity.NewExtractor(&cfg, logging.NewNop())
}

func TestResolveContentHashIgnoresName(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.jpg", "same bytes")
	b := writeFile(t, dir, "b.png", "same bytes")
	e := newExtractor(t)

	first, err := e.Resolve(context.Background(), identity.Request{FilePath: a})
	if err != nil {
		t.Fatalf("Resolve a: %v", err)
	}
	second, err := e.Resolve(context.Background(), identity.Request{FilePath: b})
	if err != nil {
		t.Fatalf("Resolve b: %v", err)
	}
	if first.Value != second.Value {
		t.Fatalf("byte-identical files should collide: %q vs %q", first.Value, second.Value)
	}
	if first.Scheme != identity.SchemeContentHash || first.Confidence != identity.ConfidenceHigh {
		t.Fatalf("unexpected identity: %+v", first)
	}
	if len(first.Value) != 64 || first.ContentHash != first.Value {
		t.Fatalf("expected 64-char hex digest, got %+v", first)
	}
}

func TestResolvePrefersSourceIDWhenAsked(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "1.jpg", "bytes")
	doc := map[string]any{"id": json.Number("102818725")}
	e := newExtractor(t)

	got, err := e.Resolve(context.Background(), identity.Request{FilePath: path, Document: doc, PreferSourceID: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Value != "102818725" || got.Scheme != identity.SchemeSourceID {
		t.Fatalf("expected source id identity, got %+v", got)
	}

	got, err = e.Resolve(context.Background(), identity.Request{FilePath: path, Document: doc})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Scheme != identity.SchemeContentHash {
		t.Fatalf("expected content hash without preference, got %+v", got)
	}
	if got.SourceID != "102818725" {
		t.Fatalf("expected source id kept alongside content hash, got %+v", got)
	}
}

func TestResolveFallsBackToSourceIDWhenFileMissing(t *testing.T) {
	e := newExtractor(t)
	got, err := e.Resolve(context.Background(), identity.Request{
		FilePath: filepath.Join(t.TempDir(), "gone.jpg"),
		Document: map[string]any{"post_id": "p-77"},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Value != "p-77" || got.Scheme != identity.SchemeSourceID {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestResolveNameFallbackIsLowConfidence(t *testing.T) {
	e := newExtractor(t)
	path := filepath.Join(t.TempDir(), "missing.jpg")

	got, err := e.Resolve(context.Background(), identity.Request{FilePath: path, Document: map[string]any{"title": "x"}})
	if !errors.Is(err, identity.ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
	if got.Scheme != identity.SchemeNameFallback || got.Confidence != identity.ConfidenceLow {
		t.Fatalf("expected low-confidence fallback, got %+v", got)
	}
	if got.Value != fileutil.HashString("missing.jpg") {
		t.Fatalf("fallback should hash the base name, got %q", got.Value)
	}
	if got.Value == fileutil.HashString("") {
		t.Fatal("fallback must not be the empty hash")
	}
}

func TestResolveWithoutAnythingFails(t *testing.T) {
	e := newExtractor(t)
	got, err := e.Resolve(context.Background(), identity.Request{})
	if !errors.Is(err, identity.ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
	if got.Value != "" {
		t.Fatalf("expected empty identity, got %+v", got)
	}
}

func TestResolveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newExtractor(t).Resolve(ctx, identity.Request{FilePath: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSourceIDUsesPerSourcePaths(t *testing.T) {
	cfg := config.Default()
	cfg.Identity.SourceIDPaths = map[string][]string{"gelbooru": {"$.post.md5"}}
	e := identity.NewExtractor(&cfg, nil)

	doc := map[string]any{"id": json.Number("5"), "post": map[string]any{"md5": "d41d8"}}
	if got, ok := e.SourceID(doc, "Gelbooru"); !ok || got != "d41d8" {
		t.Fatalf("expected per-source path result, got %q ok=%v", got, ok)
	}
	if got, ok := e.SourceID(doc, "other"); !ok || got != "5" {
		t.Fatalf("expected default path result, got %q ok=%v", got, ok)
	}
}

func TestFromMetadataScalars(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want string
		ok   bool
	}{
		{"json number", map[string]any{"id": json.Number("42")}, "42", true},
		{"huge integer", map[string]any{"id": json.Number("123456789012345678901234")}, "123456789012345678901234", true},
		{"integral float", map[string]any{"id": float64(7)}, "7", true},
		{"fractional rejected", map[string]any{"id": 1.5}, "", false},
		{"blank string skipped", map[string]any{"id": "  ", "image_id": "img"}, "img", true},
		{"bool rejected", map[string]any{"id": true}, "", false},
		{"missing", map[string]any{"title": "x"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := identity.FromMetadata(tt.doc, identity.DefaultIDPaths)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("FromMetadata = %q,%v want %q,%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestKeyspace(t *testing.T) {
	if identity.SchemeContentHash.Keyspace() != identity.SchemeNameFallback.Keyspace() {
		t.Fatal("hash and fallback identities should share a keyspace")
	}
	if identity.SchemeSourceID.Keyspace() == identity.SchemeContentHash.Keyspace() {
		t.Fatal("source ids must not share the hash keyspace")
	}
	if !strings.Contains(identity.SchemeSourceID.Keyspace(), "source") {
		t.Fatalf("unexpected keyspace %q", identity.SchemeSourceID.Keyspace())
	}
}
