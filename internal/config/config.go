package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"archivist/internal/textutil"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ArchiveDir string `toml:"archive_dir"`
	LogDir     string `toml:"log_dir"`
}

// Archive contains configuration for the archive database files.
type Archive struct {
	// Name selects the default archive file (<archive_dir>/<name>.db).
	Name          string `toml:"name"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	// MinFreeMiB is the free space preflight threshold for the archive directory.
	MinFreeMiB int `toml:"min_free_mib"`
}

// Identity contains configuration for deriving item identities.
type Identity struct {
	HashChunkKiB   int  `toml:"hash_chunk_kib"`
	PreferSourceID bool `toml:"prefer_source_id"`
	// IDPaths are JSONPath expressions tried in order to find a source-native ID.
	IDPaths []string `toml:"id_paths"`
	// SourceIDPaths overrides IDPaths for a specific source (keys are lowercased tokens).
	SourceIDPaths map[string][]string `toml:"source_id_paths"`
}

// Ingest contains configuration for sidecar ingestion.
type Ingest struct {
	PartitionRule   string `toml:"partition_rule"`
	RemoveSidecars  bool   `toml:"remove_sidecars"`
	WatchDebounceMS int    `toml:"watch_debounce_ms"`
}

// Reconcile contains configuration for duplicate sweeps.
type Reconcile struct {
	MatchMode         string `toml:"match_mode"`
	FilenamePrefilter bool   `toml:"filename_prefilter"`
	Workers           int    `toml:"workers"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes daily log files older than this; zero keeps them all.
	RetentionDays int `toml:"retention_days"`
}

// Config is the full archivist configuration. Sections map one-to-one to
// TOML tables; see sample_config.toml for every key.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Archive   Archive   `toml:"archive"`
	Identity  Identity  `toml:"identity"`
	Ingest    Ingest    `toml:"ingest"`
	Reconcile Reconcile `toml:"reconcile"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath is the per-user config file, tilde expanded.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// Load reads the config at path, or the first existing default location when
// path is empty, layered over Default. It returns the chosen file and whether
// it existed; a missing file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	source, found, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if found {
		if err := decodeFile(source, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, source, found, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// locate picks the config file. An explicit path is used even when missing;
// otherwise the user config wins over ./archivist.toml.
func locate(explicit string) (string, bool, error) {
	if explicit != "" {
		p, err := ExpandPath(explicit)
		if err != nil {
			return "", false, err
		}
		found, err := isFile(p)
		return p, found, err
	}

	user, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	local, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{user, local} {
		if found, _ := isFile(candidate); found {
			return candidate, true, nil
		}
	}
	return user, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("config path %s is a directory", path)
	}
	return true, nil
}

// EnsureDirectories creates the archive and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArchiveDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ArchivePath returns the database file for the named logical archive. An
// empty name selects Archive.Name.
func (c *Config) ArchivePath(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.Archive.Name
	}
	return filepath.Join(c.Paths.ArchiveDir, textutil.SanitizeToken(name)+".db")
}

// IDPathsFor returns the JSONPath expressions used to find a source-native
// ID for the given source, falling back to the global list.
func (c *Config) IDPathsFor(source string) []string {
	if paths, ok := c.Identity.SourceIDPaths[textutil.SanitizeToken(source)]; ok && len(paths) > 0 {
		return paths
	}
	return c.Identity.IDPaths
}

// HashChunkSize returns the file hashing read size in bytes.
func (c *Config) HashChunkSize() int {
	return c.Identity.HashChunkKiB * 1024
}

// ExpandPath resolves a leading ~ against the home directory and returns an
// absolute, cleaned path. The empty string is returned unchanged.
func ExpandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") || strings.HasPrefix(value, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home directory: %w", err)
		}
		value = filepath.Join(home, value[1:])
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("absolute path for %q: %w", value, err)
	}
	return abs, nil
}

// CreateSample writes the commented sample config to path, creating parent
// directories.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
