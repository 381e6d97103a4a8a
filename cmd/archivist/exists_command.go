package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"archivist/internal/archive"
	"archivist/internal/ingest"
)

type existsResult struct {
	Query      string   `json:"query"`
	Key        string   `json:"key"`
	Archived   bool     `json:"archived"`
	Partitions []string `json:"partitions"`
}

func newExistsCommand(ctx *commandContext) *cobra.Command {
	var partition string
	var byFilename bool

	cmd := &cobra.Command{
		Use:   "exists <id|url|hash>...",
		Short: "Check whether items are already archived",
		Long: "Check identities, content hashes, or gallery URLs against the archive.\n" +
			"URLs are reduced to their last path segment. With --filename the\n" +
			"arguments are matched against archived file names instead.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := make([]existsResult, 0, len(args))
			if _, err := os.Stat(cfg.ArchivePath(ctx.archiveName())); errors.Is(err, os.ErrNotExist) {
				for _, arg := range args {
					results = append(results, existsResult{Query: arg, Key: ingest.KeyFromURL(arg), Partitions: []string{}})
				}
				return printExists(cmd, ctx, results)
			}

			err = ctx.withStore(cmd, true, func(store *archive.Store, _ *slog.Logger) error {
				scope := archive.ScopeAll
				if strings.TrimSpace(partition) != "" {
					scope = archive.ScopePartition(partition)
				}
				for _, arg := range args {
					res := existsResult{Query: arg, Key: ingest.KeyFromURL(arg)}
					var found []string
					var err error
					if byFilename {
						found, err = store.ExistsFilename(commandCtx(cmd), res.Key)
					} else {
						found, err = store.Locate(commandCtx(cmd), res.Key, scope)
					}
					if err != nil {
						return err
					}
					if found == nil {
						found = []string{}
					}
					res.Partitions = found
					res.Archived = len(found) > 0
					results = append(results, res)
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printExists(cmd, ctx, results)
		},
	}

	cmd.Flags().StringVarP(&partition, "partition", "p", "", "Only check this partition")
	cmd.Flags().BoolVar(&byFilename, "filename", false, "Match archived file names instead of identities")
	return cmd
}

func printExists(cmd *cobra.Command, ctx *commandContext, results []existsResult) error {
	if ctx.JSONMode() {
		return writeJSON(cmd, results)
	}
	out := cmd.OutOrStdout()
	for _, r := range results {
		if r.Archived {
			fmt.Fprintf(out, "%s: archived in %s\n", r.Key, strings.Join(r.Partitions, ", "))
		} else {
			fmt.Fprintf(out, "%s: not archived\n", r.Key)
		}
	}
	return nil
}
