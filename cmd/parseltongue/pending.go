package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/export"
	"github.com/dusk-indust/parseltongue/internal/mcptools"
	"github.com/dusk-indust/parseltongue/internal/temporal"
)

func newPendingCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Export pending changes as JSON for the tool that writes files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			changes, err := svc.Controller().PendingChanges(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := export.PendingDocument(changes)
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), output, append(doc, '\n'))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newApplyCommand(a *app) *cobra.Command {
	var (
		policy string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "apply <batch.json>",
		Short: "Validate and apply a batch of proposed changes",
		Long: `Read a batch document ("-" for stdin) and apply it atomically. The batch
is either applied completely or not at all; a rejected batch prints the
failing rule verdicts and exits with an error.

Batch format:
  {"policy": "fail-fast",
   "changes": [{"action": "edit", "key": "...", "code": "...",
                "edges": [{"target": "...", "type": "Calls"}]}]}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			doc, err := temporal.DecodeBatch(r)
			if err != nil {
				return err
			}
			if policy != "" {
				doc.Policy = policy
			}

			_, out, err := svc.ApplyBatch(cmd.Context(), nil, mcptools.ApplyBatchInput{
				Policy:  doc.Policy,
				Changes: doc.Changes,
				DryRun:  dryRun,
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !out.Accepted {
				return fmt.Errorf("batch %s rejected", out.BatchID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "conflict policy: fail-fast, use-latest, use-earliest or attempt-merge (overrides the batch)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate every rule without writing")
	return cmd
}

func newFoldCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "fold",
		Short: "Collapse pending changes into the current state",
		Long: `Treat every pending change as written: edits become current code, creates
become current entities and deletes are removed. Use this after the source
tree has been updated and a full re-ingest is not wanted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("fold rewrites the graph; pass --yes to confirm")
			}
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			report, err := svc.Controller().Fold(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Folded %d changes (%d edited, %d created, %d deleted)\n",
				report.Total(), len(report.Edited), len(report.Created), len(report.Deleted))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the fold")
	return cmd
}

func newResetCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard every entity and edge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset discards the whole graph without backup; pass --yes to confirm")
			}
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if _, _, err := svc.Reset(cmd.Context(), nil, mcptools.ResetInput{Confirm: true}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Graph reset.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
