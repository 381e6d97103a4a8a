package testsupport

import (
	"path/filepath"
	"testing"

	"archivist/internal/config"
)

// ConfigOption adjusts a generated test config.
type ConfigOption func(*config.Config)

// NewConfig returns repository defaults rooted in a fresh temp directory:
// archives under <tmp>/archive, logs under <tmp>/logs, and no free-space
// floor so tests run on nearly full disks.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Archive.MinFreeMiB = 0

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithPartitionRule sets ingest.partition_rule.
func WithPartitionRule(rule string) ConfigOption {
	return func(cfg *config.Config) { cfg.Ingest.PartitionRule = rule }
}

// WithPreferSourceID makes the extractor try source-native IDs first.
func WithPreferSourceID() ConfigOption {
	return func(cfg *config.Config) { cfg.Identity.PreferSourceID = true }
}

// BaseDir returns the temp directory a config from NewConfig lives under.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ArchiveDir)
}
