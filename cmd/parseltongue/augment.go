package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/mcptools"
)

const (
	augmentMatches = 10
	augmentShown   = 8
)

func newAugmentCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "augment <pattern>",
		Short: "Print graph context for entities whose name matches pattern",
		Long: `Print a short Markdown summary of the entities matching pattern, the
dependencies and dependents of the best match, and the file cluster it
belongs to. Intended for editor and agent hooks: prints nothing and exits 0
when there is no graph or no match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				a.logger.WithError(err).Debug("augment: no graph")
				return nil
			}
			return runAugment(cmd.Context(), cmd.OutOrStdout(), svc, args[0])
		},
	}
}

// runAugment writes the context for pattern. Query failures print nothing.
func runAugment(ctx context.Context, w io.Writer, svc *mcptools.Service, pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	_, matches, err := svc.ListEntities(ctx, nil, mcptools.ListEntitiesInput{
		NameContains: pattern,
		Limit:        augmentMatches,
	})
	if err != nil || len(matches.Entities) == 0 {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Graph Context for %q\n\n", pattern)

	sb.WriteString("**Entities found:**\n")
	for _, e := range matches.Entities {
		fmt.Fprintf(&sb, "- `%s %s` in `%s`", e.Kind, e.Name, e.FilePath)
		if e.Lines != nil {
			fmt.Fprintf(&sb, " lines %d-%d", e.Lines.Start, e.Lines.End)
		}
		if e.Temporal.Action != "" {
			fmt.Fprintf(&sb, " (pending %s)", e.Temporal.Action)
		}
		sb.WriteString("\n")
	}
	if matches.Total > len(matches.Entities) {
		fmt.Fprintf(&sb, "- ... (%d more)\n", matches.Total-len(matches.Entities))
	}

	primary := matches.Entities[0]
	in := mcptools.DependenciesInput{Key: primary.Key}
	if _, fwd, err := svc.ForwardDependencies(ctx, nil, in); err == nil && len(fwd.Keys) > 0 {
		fmt.Fprintf(&sb, "\n**Dependencies of `%s`:**\n", primary.Name)
		writeKeyList(&sb, fwd.Keys)
	}
	if _, rev, err := svc.ReverseDependencies(ctx, nil, in); err == nil && len(rev.Keys) > 0 {
		fmt.Fprintf(&sb, "\n**Dependents (%d use `%s`):**\n", len(rev.Keys), primary.Name)
		writeKeyList(&sb, rev.Keys)
	}

	if clusters, err := svc.Engine().Clusters(ctx); err == nil {
		for _, c := range clusters {
			for _, f := range c.Files {
				if f == primary.FilePath {
					fmt.Fprintf(&sb, "\n**Cluster:** %s (cohesion: %.2f) with %d files\n",
						c.Name, c.Cohesion, len(c.Files))
					break
				}
			}
		}
	}

	_, err = io.WriteString(w, sb.String())
	return err
}

func writeKeyList(sb *strings.Builder, keys []string) {
	for i, k := range keys {
		if i == augmentShown {
			fmt.Fprintf(sb, "- ... (%d more)\n", len(keys)-augmentShown)
			break
		}
		fmt.Fprintf(sb, "- `%s`\n", k)
	}
}
