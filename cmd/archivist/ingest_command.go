package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"archivist/internal/archive"
	"archivist/internal/ingest"
)

type ingestFailureJSON struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type ingestSummaryJSON struct {
	RunID           string              `json:"run_id"`
	Processed       int                 `json:"processed"`
	Inserted        int                 `json:"inserted"`
	Duplicates      int                 `json:"duplicates"`
	LowConfidence   int                 `json:"low_confidence"`
	SidecarsRemoved int                 `json:"sidecars_removed"`
	Skipped         []ingest.Skip       `json:"skipped"`
	Failed          []ingestFailureJSON `json:"failed"`
	DurationMS      int64               `json:"duration_ms"`
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var rule string
	var partition string
	var removeSidecars bool

	cmd := &cobra.Command{
		Use:   "ingest <dir|sidecar.json>",
		Short: "Archive downloaded items from their metadata sidecars",
		Long: "Ingest every *.json sidecar under a directory, or a single sidecar file.\n" +
			"Items whose identity is already archived are counted as duplicates.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := args[0]
			info, err := os.Stat(target)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", target, err)
			}
			if !cmd.Flags().Changed("remove-sidecars") {
				removeSidecars = cfg.Ingest.RemoveSidecars
			}

			return ctx.withStore(cmd, false, func(store *archive.Store, logger *slog.Logger) error {
				ing := ingest.New(cfg, store, logger)
				if !info.IsDir() {
					return ingestSingle(cmd, ctx, ing, target, partition)
				}

				report, finish := progressReporter(cmd.ErrOrStderr(), "ingest")
				summary, runErr := ing.IngestFolder(commandCtx(cmd), target, ingest.FolderOptions{
					PartitionRule:  rule,
					Override:       partition,
					RemoveSidecars: removeSidecars,
					Progress:       report,
				})
				finish()
				if err := printIngestSummary(cmd, ctx, summary); err != nil {
					return err
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&rule, "rule", "", "Partition rule: folder, source, or a JSONPath expression")
	cmd.Flags().StringVarP(&partition, "partition", "p", "", "Place every item in this partition")
	cmd.Flags().BoolVar(&removeSidecars, "remove-sidecars", false, "Delete sidecars once their item is archived (defaults to ingest.remove_sidecars)")
	return cmd
}

func ingestSingle(cmd *cobra.Command, ctx *commandContext, ing *ingest.Ingester, sidecar, partition string) error {
	out, err := ing.IngestItem(commandCtx(cmd), ingest.Descriptor{SidecarPath: sidecar, Partition: partition})
	if err != nil {
		return err
	}
	if ctx.JSONMode() {
		return writeJSON(cmd, map[string]any{
			"identity":       out.Identity.Value,
			"scheme":         out.Identity.Scheme,
			"partition":      out.Partition,
			"inserted":       out.Inserted,
			"low_confidence": out.LowConfidence,
		})
	}
	status := "archived"
	if !out.Inserted {
		status = "already archived"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s in %s\n", out.Identity.Value, status, out.Partition)
	if out.LowConfidence {
		fmt.Fprintln(cmd.OutOrStdout(), "warning: identity derived from the file name (low confidence)")
	}
	return nil
}

func printIngestSummary(cmd *cobra.Command, ctx *commandContext, summary ingest.Summary) error {
	if ctx.JSONMode() {
		payload := ingestSummaryJSON{
			RunID:           summary.RunID,
			Processed:       summary.Processed,
			Inserted:        summary.Inserted,
			Duplicates:      summary.Duplicates,
			LowConfidence:   summary.LowConfidence,
			SidecarsRemoved: summary.SidecarsRemoved,
			Skipped:         summary.Skipped,
			Failed:          make([]ingestFailureJSON, 0, len(summary.Failed)),
			DurationMS:      summary.Duration.Milliseconds(),
		}
		if payload.Skipped == nil {
			payload.Skipped = []ingest.Skip{}
		}
		for _, f := range summary.Failed {
			payload.Failed = append(payload.Failed, ingestFailureJSON{Path: f.Path, Error: errorString(f.Err)})
		}
		return writeJSON(cmd, payload)
	}

	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Processed", strconv.Itoa(summary.Processed)},
		{"Inserted", strconv.Itoa(summary.Inserted)},
		{"Duplicates", strconv.Itoa(summary.Duplicates)},
		{"Low confidence", strconv.Itoa(summary.LowConfidence)},
		{"Skipped", strconv.Itoa(len(summary.Skipped))},
		{"Failed", strconv.Itoa(len(summary.Failed))},
		{"Sidecars removed", strconv.Itoa(summary.SidecarsRemoved)},
	}
	fmt.Fprintln(out, renderTable([]string{"Ingest", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	for _, f := range summary.Failed {
		fmt.Fprintf(out, "failed: %s: %v\n", f.Path, f.Err)
	}
	return nil
}
