package config

import (
	"fmt"
	"os"
	"strings"

	"archivist/internal/textutil"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeArchive()
	c.normalizeIdentity()
	c.normalizeIngest()
	c.normalizeReconcile()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv(archiveDirEnv); ok && strings.TrimSpace(value) != "" {
		c.Paths.ArchiveDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.ArchiveDir) == "" {
		c.Paths.ArchiveDir = defaultArchiveDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.ArchiveDir, err = ExpandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeArchive() {
	c.Archive.Name = strings.TrimSpace(c.Archive.Name)
	if c.Archive.Name == "" {
		c.Archive.Name = defaultArchiveName
	}
	if c.Archive.BusyTimeoutMS == 0 {
		c.Archive.BusyTimeoutMS = defaultBusyTimeoutMS
	}
}

func (c *Config) normalizeIdentity() {
	if c.Identity.HashChunkKiB == 0 {
		c.Identity.HashChunkKiB = defaultHashChunkKiB
	}
	c.Identity.IDPaths = trimPaths(c.Identity.IDPaths)
	if len(c.Identity.IDPaths) == 0 {
		c.Identity.IDPaths = append([]string(nil), defaultIDPaths...)
	}
	if len(c.Identity.SourceIDPaths) > 0 {
		normalized := make(map[string][]string, len(c.Identity.SourceIDPaths))
		for source, paths := range c.Identity.SourceIDPaths {
			if trimmed := trimPaths(paths); len(trimmed) > 0 {
				normalized[textutil.SanitizeToken(source)] = trimmed
			}
		}
		c.Identity.SourceIDPaths = normalized
	}
}

func (c *Config) normalizeIngest() {
	c.Ingest.PartitionRule = strings.ToLower(strings.TrimSpace(c.Ingest.PartitionRule))
	if c.Ingest.PartitionRule == "" {
		c.Ingest.PartitionRule = defaultPartitionRule
	}
	if c.Ingest.WatchDebounceMS == 0 {
		c.Ingest.WatchDebounceMS = defaultWatchDebounceMS
	}
}

func (c *Config) normalizeReconcile() {
	c.Reconcile.MatchMode = strings.ToLower(strings.TrimSpace(c.Reconcile.MatchMode))
	if c.Reconcile.MatchMode == "" {
		c.Reconcile.MatchMode = defaultMatchMode
	}
	if c.Reconcile.Workers == 0 {
		c.Reconcile.Workers = defaultReconcileWorkers
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func trimPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
