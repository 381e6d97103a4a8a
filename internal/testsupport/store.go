package testsupport

import (
	"context"
	"testing"
	"time"

	"archivist/internal/archive"
	"archivist/internal/config"
	"archivist/internal/logging"
)

// MustOpenStore opens the config's default archive for tests and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *archive.Store {
	t.Helper()
	return MustOpenStoreAt(t, cfg.ArchivePath(cfg.Archive.Name), archive.Options{
		BusyTimeout: time.Duration(cfg.Archive.BusyTimeoutMS) * time.Millisecond,
	})
}

// MustOpenStoreAt opens an archive at path with opts and registers cleanup.
func MustOpenStoreAt(t testing.TB, path string, opts archive.Options) *archive.Store {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	store, err := archive.Open(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
