package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"archivist/internal/archive"
	"archivist/internal/ingest"
	"archivist/internal/logging"
	"archivist/internal/reconcile"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var rule string
	var partition string
	var removeSidecars bool
	var skipInitial bool
	var sweepDir string
	var sweepInterval time.Duration
	var sweep sweepFlags

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Ingest sidecars as they are downloaded",
		Long: "Ingest existing sidecars under <dir>, then keep watching it for new ones.\n" +
			"With --sweep-interval, a sweep of --sweep-dir (default <dir>) runs periodically.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := args[0]
			if !cmd.Flags().Changed("remove-sidecars") {
				removeSidecars = cfg.Ingest.RemoveSidecars
			}
			if sweepDir == "" {
				sweepDir = root
			}
			sweepOpts, err := sweep.options(cmd, cfg)
			if err != nil {
				return err
			}
			folderOpts := ingest.FolderOptions{
				PartitionRule:  rule,
				Override:       partition,
				RemoveSidecars: removeSidecars,
			}

			return ctx.withStore(cmd, false, func(store *archive.Store, logger *slog.Logger) error {
				runCtx := commandCtx(cmd)
				ing := ingest.New(cfg, store, logger)

				if !skipInitial {
					summary, err := ing.IngestFolder(runCtx, root, folderOpts)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Initial ingest: %d processed, %d inserted, %d failed\n",
						summary.Processed, summary.Inserted, len(summary.Failed))
				}

				w, err := ing.NewWatcher(root, folderOpts)
				if err != nil {
					return err
				}
				if sweepInterval > 0 {
					go runPeriodicSweep(runCtx, reconcile.New(store, logger), logger, sweepDir, sweepInterval, sweepOpts)
				}

				err = w.Run(runCtx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&rule, "rule", "", "Partition rule: folder, source, or a JSONPath expression")
	cmd.Flags().StringVarP(&partition, "partition", "p", "", "Place every item in this partition")
	cmd.Flags().BoolVar(&removeSidecars, "remove-sidecars", false, "Delete sidecars once their item is archived (defaults to ingest.remove_sidecars)")
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "Do not ingest sidecars already present")
	cmd.Flags().StringVar(&sweepDir, "sweep-dir", "", "Directory swept periodically (defaults to the watched directory)")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", 0, "Run a sweep at this interval (0 disables)")
	sweep.register(cmd)
	return cmd
}

func runPeriodicSweep(ctx context.Context, r *reconcile.Reconciler, logger *slog.Logger, dir string, interval time.Duration, opts reconcile.Options) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.Sweep(ctx, dir, opts)
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(logger, "periodic sweep failed", "sweep_failed",
					logging.Path(dir),
					logging.Error(err),
					logging.String(logging.FieldImpact, "archived duplicates stay on disk until the next sweep"),
				)
				continue
			}
			logger.Debug("periodic sweep finished",
				logging.Path(dir),
				logging.Int("matches", len(report.Matches)),
				logging.Int("removed", report.Removed),
			)
		}
	}
}
