package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"archivist/internal/archive"
	"archivist/internal/config"
	"archivist/internal/reconcile"
)

type sweepMatchJSON struct {
	Path      string `json:"path"`
	Partition string `json:"partition"`
	Identity  string `json:"identity"`
	Reason    string `json:"reason"`
	Removed   bool   `json:"removed"`
}

type sweepReportJSON struct {
	RunID      string              `json:"run_id"`
	Root       string              `json:"root"`
	Mode       string              `json:"mode"`
	DryRun     bool                `json:"dry_run"`
	Scanned    int                 `json:"scanned"`
	Hashed     int                 `json:"hashed"`
	Removed    int                 `json:"removed"`
	Matches    []sweepMatchJSON    `json:"matches"`
	Failures   []ingestFailureJSON `json:"failures"`
	DurationMS int64               `json:"duration_ms"`
}

type sweepFlags struct {
	confirm   bool
	mode      string
	prefilter bool
	workers   int
}

func (f *sweepFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.confirm, "confirm", false, "Delete matched files (default is a dry run)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Match mode: content or filename (defaults to reconcile.match_mode)")
	cmd.Flags().BoolVar(&f.prefilter, "prefilter", false, "Only hash files whose name is already archived (defaults to reconcile.filename_prefilter)")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Concurrent hash workers (defaults to reconcile.workers)")
}

// options merges explicit flags over the configured reconcile settings.
func (f *sweepFlags) options(cmd *cobra.Command, cfg *config.Config) (reconcile.Options, error) {
	modeValue := cfg.Reconcile.MatchMode
	if cmd.Flags().Changed("mode") {
		modeValue = f.mode
	}
	mode, err := reconcile.ParseMatchMode(modeValue)
	if err != nil {
		return reconcile.Options{}, err
	}
	opts := reconcile.Options{
		Mode:              mode,
		Confirmed:         f.confirm,
		Workers:           cfg.Reconcile.Workers,
		FilenamePrefilter: cfg.Reconcile.FilenamePrefilter,
		ChunkSize:         cfg.HashChunkSize(),
	}
	if cmd.Flags().Changed("prefilter") {
		opts.FilenamePrefilter = f.prefilter
	}
	if cmd.Flags().Changed("workers") {
		opts.Workers = f.workers
	}
	return opts, nil
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var flags sweepFlags

	cmd := &cobra.Command{
		Use:   "sweep <dir>",
		Short: "Find (and with --confirm delete) files that are already archived",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := flags.options(cmd, cfg)
			if err != nil {
				return err
			}

			return ctx.withStore(cmd, true, func(store *archive.Store, logger *slog.Logger) error {
				report, finish := progressReporter(cmd.ErrOrStderr(), "sweep")
				opts.Progress = report
				result, runErr := reconcile.New(store, logger).Sweep(commandCtx(cmd), args[0], opts)
				finish()

				var partial *reconcile.PartialFailureError
				if runErr != nil && !errors.As(runErr, &partial) {
					return runErr
				}
				if err := printSweepReport(cmd, ctx, result); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func printSweepReport(cmd *cobra.Command, ctx *commandContext, report reconcile.Report) error {
	if ctx.JSONMode() {
		payload := sweepReportJSON{
			RunID:      report.RunID,
			Root:       report.Root,
			Mode:       string(report.Mode),
			DryRun:     report.DryRun,
			Scanned:    report.Scanned,
			Hashed:     report.Hashed,
			Removed:    report.Removed,
			Matches:    make([]sweepMatchJSON, 0, len(report.Matches)),
			Failures:   make([]ingestFailureJSON, 0, len(report.Failures)),
			DurationMS: report.Duration.Milliseconds(),
		}
		for _, m := range report.Matches {
			payload.Matches = append(payload.Matches, sweepMatchJSON(m))
		}
		for _, f := range report.Failures {
			payload.Failures = append(payload.Failures, ingestFailureJSON{Path: f.Path, Error: errorString(f.Err)})
		}
		return writeJSON(cmd, payload)
	}

	out := cmd.OutOrStdout()
	if len(report.Matches) == 0 {
		fmt.Fprintf(out, "No archived files found under %s (%d scanned)\n", report.Root, report.Scanned)
	} else {
		rows := make([][]string, 0, len(report.Matches))
		for _, m := range report.Matches {
			rows = append(rows, []string{m.Path, m.Partition, m.Reason, yesNo(m.Removed)})
		}
		fmt.Fprintln(out, renderTable([]string{"Path", "Partition", "Match", "Removed"}, rows, nil))
	}
	action := "would remove"
	count := len(report.Matches)
	if !report.DryRun {
		action = "removed"
		count = report.Removed
	}
	fmt.Fprintf(out, "Scanned %s files, %s %s\n", strconv.Itoa(report.Scanned), action, strconv.Itoa(count))
	if report.DryRun && len(report.Matches) > 0 {
		fmt.Fprintln(out, "Dry run: re-run with --confirm to delete")
	}
	for _, f := range report.Failures {
		fmt.Fprintf(out, "failed: %s: %v\n", f.Path, f.Err)
	}
	return nil
}
