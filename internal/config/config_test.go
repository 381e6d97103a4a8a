package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"archivist/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("ARCHIVIST_ARCHIVE_DIR", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantArchive := filepath.Join(tempHome, ".local", "share", "archivist")
	if cfg.Paths.ArchiveDir != wantArchive {
		t.Fatalf("unexpected archive dir: got %q want %q", cfg.Paths.ArchiveDir, wantArchive)
	}
	if cfg.Paths.LogDir != filepath.Join(wantArchive, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Reconcile.MatchMode != config.MatchModeContent {
		t.Fatalf("expected content matching by default, got %q", cfg.Reconcile.MatchMode)
	}
	if cfg.Ingest.PartitionRule != config.PartitionRuleFolder {
		t.Fatalf("expected folder partition rule by default, got %q", cfg.Ingest.PartitionRule)
	}
	if cfg.Identity.PreferSourceID {
		t.Fatal("expected content hash identity by default")
	}
	if len(cfg.Identity.IDPaths) == 0 || cfg.Identity.IDPaths[0] != "$.id" {
		t.Fatalf("unexpected default id paths: %v", cfg.Identity.IDPaths)
	}
	if got := cfg.ArchivePath(""); got != filepath.Join(wantArchive, "archive.db") {
		t.Fatalf("unexpected archive path: %q", got)
	}
	if got := cfg.HashChunkSize(); got != 64*1024 {
		t.Fatalf("unexpected hash chunk size: %d", got)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "archivist.toml")

	type payload struct {
		Paths struct {
			ArchiveDir string `toml:"archive_dir"`
		} `toml:"paths"`
		Archive struct {
			Name string `toml:"name"`
		} `toml:"archive"`
		Ingest struct {
			PartitionRule string `toml:"partition_rule"`
		} `toml:"ingest"`
		Reconcile struct {
			MatchMode string `toml:"match_mode"`
			Workers   int    `toml:"workers"`
		} `toml:"reconcile"`
	}
	custom := payload{}
	custom.Paths.ArchiveDir = filepath.Join(tempDir, "db")
	custom.Archive.Name = "Gallery Main"
	custom.Ingest.PartitionRule = " Source "
	custom.Reconcile.MatchMode = "FILENAME"
	custom.Reconcile.Workers = 2
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}
	t.Setenv("ARCHIVIST_ARCHIVE_DIR", "")

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Ingest.PartitionRule != config.PartitionRuleSource {
		t.Fatalf("expected normalized partition rule, got %q", cfg.Ingest.PartitionRule)
	}
	if cfg.Reconcile.MatchMode != config.MatchModeFilename {
		t.Fatalf("expected normalized match mode, got %q", cfg.Reconcile.MatchMode)
	}
	if cfg.Reconcile.Workers != 2 {
		t.Fatalf("expected 2 workers, got %d", cfg.Reconcile.Workers)
	}
	if got := cfg.ArchivePath(""); got != filepath.Join(tempDir, "db", "gallery_main.db") {
		t.Fatalf("unexpected archive path: %q", got)
	}
}

func TestEnvArchiveDirOverridesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "archivist.toml")
	contents := "[paths]\narchive_dir = \"" + filepath.Join(tempDir, "from-file") + "\"\n"
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	envDir := filepath.Join(tempDir, "from-env")
	t.Setenv("ARCHIVIST_ARCHIVE_DIR", envDir)

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.ArchiveDir != envDir {
		t.Fatalf("expected env archive dir %q, got %q", envDir, cfg.Paths.ArchiveDir)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(configPath, []byte("[paths\narchive_dir = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "match_mode") {
		t.Fatalf("sample config missing reconcile section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.ArchiveDir, "archivist") {
		t.Fatalf("expected archive dir to contain archivist, got %q", cfg.Paths.ArchiveDir)
	}
	if got := cfg.Identity.SourceIDPaths["pixiv"]; len(got) == 0 {
		t.Fatalf("expected pixiv id paths in sample, got %v", cfg.Identity.SourceIDPaths)
	}
}

func TestIDPathsForFallsBackToGlobal(t *testing.T) {
	cfg := config.Default()
	if got := cfg.IDPathsFor("Pixiv"); len(got) != 2 || got[1] != "$.illust_id" {
		t.Fatalf("unexpected pixiv paths: %v", got)
	}
	if got := cfg.IDPathsFor("twitter"); len(got) != len(cfg.Identity.IDPaths) {
		t.Fatalf("expected global paths for unknown source, got %v", got)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	cfg.Reconcile.MatchMode = "fuzzy"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown match mode")
	}

	cfg = config.Default()
	cfg.Ingest.PartitionRule = "date"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown partition rule")
	}

	cfg = config.Default()
	cfg.Reconcile.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero workers")
	}

	cfg = config.Default()
	cfg.Identity.IDPaths = []string{"$[1"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid jsonpath")
	}

	cfg = config.Default()
	cfg.Archive.BusyTimeoutMS = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short busy timeout")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ArchiveDir = filepath.Join(base, "a", "b")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.ArchiveDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestLoadFindsProjectConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ARCHIVIST_ARCHIVE_DIR", "")
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile("archivist.toml", []byte("[archive]\nname = \"local\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || filepath.Base(resolved) != "archivist.toml" {
		t.Fatalf("expected project config, got %q exists=%v", resolved, exists)
	}
	if cfg.Archive.Name != "local" {
		t.Fatalf("expected archive name from project config, got %q", cfg.Archive.Name)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := config.ExpandPath("~/archives/../data")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if want := filepath.Join(home, "data"); got != want {
		t.Fatalf("ExpandPath = %q, want %q", got, want)
	}
	if got, _ := config.ExpandPath(""); got != "" {
		t.Fatalf("expected empty path unchanged, got %q", got)
	}
}
