package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/mcptools"
)

// traversalFlags are shared by the graph query commands.
type traversalFlags struct {
	EdgeTypes    []string
	IncludeTests bool
	JSON         bool
}

func (f *traversalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.EdgeTypes, "edge-types", nil, "edge types to follow: Calls, Uses, Implements, Extends, Contains (default: all)")
	cmd.Flags().BoolVar(&f.IncludeTests, "include-tests", false, "include TEST entities")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print machine-readable output")
}

func newDepsCommand(a *app) *cobra.Command {
	var (
		tf      traversalFlags
		reverse bool
	)
	cmd := &cobra.Command{
		Use:   "deps <key>",
		Short: "List the direct dependencies of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			in := mcptools.DependenciesInput{Key: args[0], EdgeTypes: tf.EdgeTypes, IncludeTests: tf.IncludeTests}
			var out mcptools.DependenciesOutput
			if reverse {
				_, out, err = svc.ReverseDependencies(cmd.Context(), nil, in)
			} else {
				_, out, err = svc.ForwardDependencies(cmd.Context(), nil, in)
			}
			if err != nil {
				return err
			}
			if tf.JSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			for _, k := range out.Keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().BoolVarP(&reverse, "reverse", "r", false, "list dependents instead of dependencies")
	return cmd
}

func newBlastCommand(a *app) *cobra.Command {
	var (
		tf         traversalFlags
		hops       int
		transitive bool
	)
	cmd := &cobra.Command{
		Use:   "blast <key>",
		Short: "Show every entity affected by changing an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			_, out, err := svc.BlastRadius(cmd.Context(), nil, mcptools.BlastRadiusInput{
				Key:          args[0],
				MaxHops:      hops,
				Transitive:   transitive,
				EdgeTypes:    tf.EdgeTypes,
				IncludeTests: tf.IncludeTests,
			})
			if err != nil {
				return err
			}
			if tf.JSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Blast radius of %s: %d entities\n", out.Origin, len(out.Impacts))
			for _, im := range out.Impacts {
				fmt.Fprintf(w, "  %d  %s\n", im.Distance, im.Key)
			}
			if out.Truncated {
				fmt.Fprintln(w, "  (truncated: node or time limit reached)")
			}
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().IntVar(&hops, "hops", 0, "maximum reverse hops (default from parseltongue.yml)")
	cmd.Flags().BoolVar(&transitive, "transitive", false, "follow every hop, bounded by node and time limits")
	return cmd
}

func newCyclesCommand(a *app) *cobra.Command {
	var (
		tf    traversalFlags
		seeds []string
	)
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Report dependency cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			_, out, err := svc.DetectCycles(cmd.Context(), nil, mcptools.DetectCyclesInput{
				Seeds:        seeds,
				EdgeTypes:    tf.EdgeTypes,
				IncludeTests: tf.IncludeTests,
			})
			if err != nil {
				return err
			}
			if tf.JSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			if out.Count == 0 {
				fmt.Fprintln(w, "No cycles found.")
				return nil
			}
			for i, c := range out.Cycles {
				label := fmt.Sprintf("Cycle %d", i+1)
				if c.SelfLoop {
					label += " (self-loop)"
				}
				fmt.Fprintf(w, "%s:\n", label)
				for _, k := range c.Keys {
					fmt.Fprintf(w, "  %s\n", k)
				}
			}
			return nil
		},
	}
	tf.register(cmd)
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "only report cycles reachable from these keys")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the stored graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.open(cmd.Context()); err != nil {
				return err
			}
			st, err := a.handle.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Backend:  %s\n", st.Backend)
			fmt.Fprintf(w, "Entities: %d (%d pending)\n", st.EntityCount, st.PendingCount)
			fmt.Fprintf(w, "Edges:    %d\n", st.EdgeCount)
			printCounts(w, "By kind", st.EntitiesByKind)
			printCounts(w, "By edge type", st.EdgesByType)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print machine-readable output")
	return cmd
}

func printCounts[K ~string](w io.Writer, title string, counts map[K]int) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, string(k))
	}
	sort.Strings(names)
	fmt.Fprintf(w, "%s:\n", title)
	width := 0
	for _, n := range names {
		width = max(width, len(n))
	}
	for _, n := range names {
		fmt.Fprintf(w, "  %s%s %d\n", n, strings.Repeat(" ", width-len(n)), counts[K(n)])
	}
}
