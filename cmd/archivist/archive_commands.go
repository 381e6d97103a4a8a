package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/archive"
	"archivist/internal/preflight"
)

func newPartitionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "partitions",
		Short: "List partitions with record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, true, func(store *archive.Store, _ *slog.Logger) error {
				stats, err := store.Stats(commandCtx(cmd))
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					type partitionJSON struct {
						Name          string `json:"name"`
						Scheme        string `json:"scheme"`
						Records       int    `json:"records"`
						LowConfidence int    `json:"low_confidence"`
						Columns       int    `json:"columns"`
						SchemaVersion int    `json:"schema_version"`
					}
					payload := make([]partitionJSON, 0, len(stats))
					for _, st := range stats {
						payload = append(payload, partitionJSON(st))
					}
					return writeJSON(cmd, payload)
				}
				if len(stats) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Archive is empty")
					return nil
				}
				rows := make([][]string, 0, len(stats))
				for _, st := range stats {
					rows = append(rows, []string{
						st.Name,
						displayScheme(st.Scheme),
						strconv.Itoa(st.Records),
						strconv.Itoa(st.LowConfidence),
						strconv.Itoa(st.Columns),
						strconv.Itoa(st.SchemaVersion),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Partition", "Scheme", "Records", "Low conf.", "Columns", "Schema"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func displayScheme(scheme string) string {
	if scheme == "" {
		return "-"
	}
	return scheme
}

func newColumnsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "columns <partition>",
		Short: "Show the attribute columns of a partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, true, func(store *archive.Store, _ *slog.Logger) error {
				cols, err := store.Columns(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					type columnJSON struct {
						Key     string `json:"key"`
						Name    string `json:"name"`
						Type    string `json:"type"`
						Version int    `json:"version"`
						AddedAt string `json:"added_at"`
					}
					payload := make([]columnJSON, 0, len(cols))
					for _, c := range cols {
						payload = append(payload, columnJSON{Key: c.Key, Name: c.Name, Type: c.Type.String(), Version: c.Version, AddedAt: c.AddedAt})
					}
					return writeJSON(cmd, payload)
				}
				rows := make([][]string, 0, len(cols))
				for _, c := range cols {
					rows = append(rows, []string{c.Key, c.Name, c.Type.String(), strconv.Itoa(c.Version), c.AddedAt})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Key", "Column", "Type", "Version", "Added"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <partition> <identity>",
		Short: "Show one archived record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, true, func(store *archive.Store, _ *slog.Logger) error {
				rec, err := store.Get(commandCtx(cmd), args[0], args[1])
				if err != nil {
					return err
				}
				keys := rec.Attributes.Keys()

				if ctx.JSONMode() {
					attrs := make(map[string]any, len(rec.Attributes))
					for _, k := range keys {
						v := rec.Attributes[k]
						if !v.Canonical() {
							attrs[k] = json.Number(v.Literal)
							continue
						}
						attrs[k], _ = v.As(v.Kind)
					}
					return writeJSON(cmd, map[string]any{
						"partition":    rec.Partition,
						"identity":     rec.Identity,
						"filename":     rec.Filename,
						"content_hash": rec.ContentHash,
						"source_id":    rec.SourceID,
						"confidence":   rec.Confidence,
						"ingested_at":  rec.IngestedAt,
						"attributes":   attrs,
					})
				}

				rows := [][]string{
					{"partition", rec.Partition},
					{"identity", rec.Identity},
					{"filename", rec.Filename},
					{"content_hash", rec.ContentHash},
					{"source_id", rec.SourceID},
					{"confidence", string(rec.Confidence)},
					{"ingested_at", rec.IngestedAt},
				}
				for _, k := range keys {
					rows = append(rows, []string{k, rec.Attributes[k].String()})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete <partition> <identity>",
		Short: "Delete one archived record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfirmation(confirm, "delete "+args[1]); err != nil {
				return err
			}
			return ctx.withStore(cmd, false, func(store *archive.Store, _ *slog.Logger) error {
				deleted, err := store.DeleteRecord(commandCtx(cmd), args[0], args[1], true)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"partition": args[0], "identity": args[1], "deleted": deleted})
				}
				if !deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "%s not found in %s\n", args[1], args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from %s\n", args[1], args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Required to delete")
	return cmd
}

func newDropCommand(ctx *commandContext) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "drop <partition>",
		Short: "Drop a partition and all of its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfirmation(confirm, "drop "+args[0]); err != nil {
				return err
			}
			return ctx.withStore(cmd, false, func(store *archive.Store, _ *slog.Logger) error {
				if err := store.DropPartition(commandCtx(cmd), args[0], true); err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"partition": args[0], "dropped": true})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dropped partition %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Required to drop")
	return cmd
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every partition in the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireConfirmation(confirm, "clear archive"); err != nil {
				return err
			}
			return ctx.withStore(cmd, false, func(store *archive.Store, _ *slog.Logger) error {
				dropped, err := store.Clear(commandCtx(cmd), true)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"dropped": nonNil(dropped)})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d partition(s)\n", len(dropped))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "Required to clear")
	return cmd
}

type healthJSON struct {
	Path           string             `json:"path"`
	Exists         bool               `json:"exists"`
	Readable       bool               `json:"readable"`
	LayoutVersion  int                `json:"layout_version"`
	Partitions     int                `json:"partitions"`
	TotalRecords   int                `json:"total_records"`
	Drift          []string           `json:"drift"`
	MissingTables  []string           `json:"missing_tables"`
	IntegrityCheck bool               `json:"integrity_ok"`
	Error          string             `json:"error,omitempty"`
	Preflight      []preflight.Result `json:"preflight"`
	Healthy        bool               `json:"healthy"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the archive database and its directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checks := preflight.RunAll(cfg)
			health := archive.DatabaseHealth{DBPath: cfg.ArchivePath(ctx.archiveName())}

			var checkErr error
			if _, statErr := os.Stat(health.DBPath); statErr == nil {
				checkErr = ctx.withStore(cmd, true, func(store *archive.Store, _ *slog.Logger) error {
					var err error
					health, err = store.CheckHealth(commandCtx(cmd))
					return err
				})
				if checkErr != nil && health.Error == "" {
					health.Error = checkErr.Error()
				}
			} else if !errors.Is(statErr, os.ErrNotExist) {
				health.Error = statErr.Error()
			}

			healthy := health.Error == "" && len(health.Drift) == 0 && len(health.MissingTables) == 0 &&
				(!health.DatabaseExists || health.IntegrityCheck)
			for _, r := range checks {
				healthy = healthy && r.Passed
			}

			if ctx.JSONMode() {
				if err := writeJSON(cmd, healthJSON{
					Path:           health.DBPath,
					Exists:         health.DatabaseExists,
					Readable:       health.DatabaseReadable,
					LayoutVersion:  health.LayoutVersion,
					Partitions:     health.Partitions,
					TotalRecords:   health.TotalRecords,
					Drift:          nonNil(health.Drift),
					MissingTables:  nonNil(health.MissingTables),
					IntegrityCheck: health.IntegrityCheck,
					Error:          health.Error,
					Preflight:      checks,
					Healthy:        healthy,
				}); err != nil {
					return err
				}
			} else {
				printHealth(cmd, health, checks)
			}
			if !healthy {
				return errors.New("archive is unhealthy")
			}
			return nil
		},
	}
}

func printHealth(cmd *cobra.Command, health archive.DatabaseHealth, checks []preflight.Result) {
	rows := [][]string{
		{"Database", health.DBPath},
		{"Exists", yesNo(health.DatabaseExists)},
	}
	if health.DatabaseExists {
		rows = append(rows,
			[]string{"Readable", yesNo(health.DatabaseReadable)},
			[]string{"Layout version", strconv.Itoa(health.LayoutVersion)},
			[]string{"Partitions", strconv.Itoa(health.Partitions)},
			[]string{"Records", strconv.Itoa(health.TotalRecords)},
			[]string{"Integrity", yesNo(health.IntegrityCheck)},
		)
	}
	if len(health.MissingTables) > 0 {
		rows = append(rows, []string{"Missing tables", strings.Join(health.MissingTables, ", ")})
	}
	if len(health.Drift) > 0 {
		rows = append(rows, []string{"Column drift", strings.Join(health.Drift, ", ")})
	}
	if health.Error != "" {
		rows = append(rows, []string{"Error", health.Error})
	}
	for _, r := range checks {
		status := "ok"
		if !r.Passed {
			status = "FAILED"
		}
		detail := status
		if r.Detail != "" {
			detail += " (" + r.Detail + ")"
		}
		rows = append(rows, []string{r.Name, detail})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Result"}, rows, nil))
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
