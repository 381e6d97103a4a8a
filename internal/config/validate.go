package config

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Paths.ArchiveDir == "" {
		return errors.New("paths.archive_dir must be set")
	}
	if c.Archive.BusyTimeoutMS < minBusyTimeoutMS {
		return fmt.Errorf("archive.busy_timeout_ms must be at least %d", minBusyTimeoutMS)
	}
	if c.Archive.MinFreeMiB < 0 {
		return errors.New("archive.min_free_mib must be zero or positive")
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if c.Identity.HashChunkKiB < 1 || c.Identity.HashChunkKiB > maxHashChunkKiB {
		return fmt.Errorf("identity.hash_chunk_kib must be between 1 and %d", maxHashChunkKiB)
	}
	for _, expr := range c.Identity.IDPaths {
		if _, err := jp.ParseString(expr); err != nil {
			return fmt.Errorf("identity.id_paths: invalid jsonpath %q: %w", expr, err)
		}
	}
	for source, paths := range c.Identity.SourceIDPaths {
		for _, expr := range paths {
			if _, err := jp.ParseString(expr); err != nil {
				return fmt.Errorf("identity.source_id_paths.%s: invalid jsonpath %q: %w", source, expr, err)
			}
		}
	}
	return nil
}

func (c *Config) validateIngest() error {
	switch c.Ingest.PartitionRule {
	case PartitionRuleFolder, PartitionRuleSource:
	default:
		return fmt.Errorf("ingest.partition_rule: unsupported value %q (use %q or %q)",
			c.Ingest.PartitionRule, PartitionRuleFolder, PartitionRuleSource)
	}
	if c.Ingest.WatchDebounceMS < 0 {
		return errors.New("ingest.watch_debounce_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	switch c.Reconcile.MatchMode {
	case MatchModeContent, MatchModeFilename:
	default:
		return fmt.Errorf("reconcile.match_mode: unsupported value %q (use %q or %q)",
			c.Reconcile.MatchMode, MatchModeContent, MatchModeFilename)
	}
	if c.Reconcile.Workers < 1 || c.Reconcile.Workers > maxReconcileWorkers {
		return fmt.Errorf("reconcile.workers must be between 1 and %d", maxReconcileWorkers)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}
