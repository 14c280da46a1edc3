package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/ingest"
	"github.com/dusk-indust/parseltongue/internal/mcptools"
)

func newIngestCommand(a *app) *cobra.Command {
	var (
		langs    []string
		excludes []string
		appendTo bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Parse a repository and load it into the graph",
		Long: `Parse every supported source file under path (default: the project root)
and replace the graph with the resulting entities and edges. With --append the
facts are added to the existing graph instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			repo := a.root
			if len(args) == 1 {
				repo = args[0]
			}
			_, out, err := svc.IngestRepo(cmd.Context(), nil, mcptools.IngestRepoInput{
				RepoPath:    repo,
				Languages:   langs,
				ExcludeDirs: excludes,
				Append:      appendTo,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Ingested %d files in %s\n", out.Report.Files, out.Report.Duration.Round(time.Millisecond))
			fmt.Fprintf(w, "  entities: %d\n", out.Report.Entities)
			fmt.Fprintf(w, "  edges:    %d (%d to external targets)\n", out.Report.Edges, out.Report.Dangling)
			if out.Report.Skipped > 0 {
				fmt.Fprintf(w, "  skipped:  %d unresolved references\n", out.Report.Skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&langs, "lang", "l", nil, "languages to include (default: all supported)")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "extra directory names to skip")
	cmd.Flags().BoolVar(&appendTo, "append", false, "add to the existing graph instead of replacing it")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the ingestion report as JSON")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the graph whenever source files change",
		Long: `Ingest the project once, then watch it and rebuild the graph from source
after each burst of changes. Rebuilding discards pending changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, err := a.open(ctx)
			if err != nil {
				return err
			}
			rebuild := func(ctx context.Context, paths []string) error {
				a.logger.WithField("changed", paths).Debug("rebuilding graph")
				_, err := svc.Controller().Rebuild(ctx, svc.RepoSource(a.root, nil, nil))
				return err
			}
			if err := rebuild(ctx, nil); err != nil {
				return err
			}

			w := ingest.NewWatcher(a.root, rebuild,
				ingest.WithDebounce(debounce),
				ingest.WithIgnoreDirs(a.cfg.ExcludeDirs...),
				ingest.WithWatchLogger(a.logger),
			)
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl-C to stop)\n", a.root)
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", ingest.DefaultDebounce, "quiet period before a rebuild")
	return cmd
}
