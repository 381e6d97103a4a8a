package config

const (
	defaultConfigPath         = "~/.config/archivist/config.toml"
	projectConfigName         = "archivist.toml"
	defaultArchiveDir         = "~/.local/share/archivist"
	defaultLogDir             = "~/.local/share/archivist/logs"
	defaultArchiveName        = "archive"
	defaultBusyTimeoutMS      = 5000
	defaultMinFreeMiB         = 64
	defaultHashChunkKiB       = 64
	defaultPartitionRule      = PartitionRuleFolder
	defaultWatchDebounceMS    = 750
	defaultMatchMode          = MatchModeContent
	defaultReconcileWorkers   = 4
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 30
	archiveDirEnv             = "ARCHIVIST_ARCHIVE_DIR"
	maxReconcileWorkers       = 64
	maxHashChunkKiB           = 16 * 1024
	minBusyTimeoutMS          = 100
	defaultRemoveSidecarsFlag = true
)

// Partition rules accepted by ingest.partition_rule.
const (
	PartitionRuleFolder = "folder"
	PartitionRuleSource = "source"
)

// Match modes accepted by reconcile.match_mode.
const (
	MatchModeContent  = "content"
	MatchModeFilename = "filename"
)

// defaultIDPaths mirrors the ID keys common gallery downloaders write into
// their sidecars.
var defaultIDPaths = []string{"$.id", "$.post_id", "$.illust_id", "$.image_id"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ArchiveDir: defaultArchiveDir,
			LogDir:     defaultLogDir,
		},
		Archive: Archive{
			Name:          defaultArchiveName,
			BusyTimeoutMS: defaultBusyTimeoutMS,
			MinFreeMiB:    defaultMinFreeMiB,
		},
		Identity: Identity{
			HashChunkKiB: defaultHashChunkKiB,
			IDPaths:      append([]string(nil), defaultIDPaths...),
			SourceIDPaths: map[string][]string{
				"pixiv":    {"$.id", "$.illust_id"},
				"danbooru": {"$.id"},
			},
		},
		Ingest: Ingest{
			PartitionRule:   defaultPartitionRule,
			RemoveSidecars:  defaultRemoveSidecarsFlag,
			WatchDebounceMS: defaultWatchDebounceMS,
		},
		Reconcile: Reconcile{
			MatchMode: defaultMatchMode,
			Workers:   defaultReconcileWorkers,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
