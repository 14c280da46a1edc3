package main

import (
	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/mcptools"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		addr  string
		stdio bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph tools over MCP",
		Long: `Run an MCP server exposing ingestion, dependency queries and the pending
change workflow to agents. Serves streamable HTTP on --addr, or stdin/stdout
with --stdio.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if stdio {
				return mcptools.RunStdio(cmd.Context(), svc)
			}
			return mcptools.RunServer(cmd.Context(), svc, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7331", "HTTP listen address")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "serve on stdin/stdout instead of HTTP")
	return cmd
}
