package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/export"
	"github.com/dusk-indust/parseltongue/internal/query"
)

func newDiagramCommand(a *app) *cobra.Command {
	var (
		blast  string
		hops   int
		cycles bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Render the graph as a Mermaid diagram",
		Long: `Render file clusters (default), the blast radius of one entity (--blast) or
every dependency cycle (--cycles) as a Mermaid graph.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if blast != "" && cycles {
				return fmt.Errorf("--blast and --cycles are mutually exclusive")
			}
			ctx := cmd.Context()
			svc, err := a.open(ctx)
			if err != nil {
				return err
			}
			engine := svc.Engine()
			snap, err := engine.Snapshot(ctx)
			if err != nil {
				return err
			}

			var mermaid string
			switch {
			case blast != "":
				key, err := entity.ParseKey(blast)
				if err != nil {
					return err
				}
				r, err := engine.BlastRadius(ctx, key, hops)
				if err != nil {
					return err
				}
				mermaid = export.RadiusMermaid(r, snap)
			case cycles:
				found, err := query.FindCycles(ctx, snap, nil)
				if err != nil {
					return err
				}
				mermaid = export.CyclesMermaid(found, snap)
			default:
				mermaid = export.ClustersMermaid(query.ComputeClusters(snap, query.Options{}), snap)
			}
			return writeOutput(cmd.OutOrStdout(), output, []byte(mermaid))
		},
	}
	cmd.Flags().StringVar(&blast, "blast", "", "render the blast radius of this key")
	cmd.Flags().IntVar(&hops, "hops", 0, "maximum reverse hops for --blast (default from parseltongue.yml)")
	cmd.Flags().BoolVar(&cycles, "cycles", false, "render dependency cycles")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
