package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/config"
)

// mcpConfig represents the structure of a .mcp.json file.
type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// parseltongueMCPEntry is the MCP server configuration for the binary.
var parseltongueMCPEntry = json.RawMessage(`{
  "type": "stdio",
  "command": "parseltongue",
  "args": ["serve", "--stdio"]
}`)

func newInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write parseltongue.yml and register the MCP server in .mcp.json",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout(), a.root, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files and entries")
	return cmd
}

// runInit writes the default configuration and MCP entry into the project.
func runInit(w io.Writer, root string, force bool) error {
	cfgPath := filepath.Join(root, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil && !force {
		fmt.Fprintf(w, "  skipped %s (exists, use --force to overwrite)\n", dotRelative(root, cfgPath))
	} else {
		if err := config.Save(root, config.Default()); err != nil {
			return fmt.Errorf("writing %s: %w", cfgPath, err)
		}
		fmt.Fprintf(w, "  created %s\n", dotRelative(root, cfgPath))
	}

	if err := mergeMCPConfig(w, filepath.Join(root, ".mcp.json"), force); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nSetup complete. Run 'parseltongue ingest' to build the graph.")
	return nil
}

// mergeMCPConfig creates or merges the parseltongue entry into .mcp.json.
func mergeMCPConfig(w io.Writer, mcpPath string, force bool) error {
	var cfg mcpConfig

	data, err := os.ReadFile(mcpPath)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", mcpPath, err)
		}
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]json.RawMessage)
	}

	if _, exists := cfg.MCPServers["parseltongue"]; exists && !force {
		fmt.Fprintf(w, "  skipped .mcp.json parseltongue entry (exists, use --force to overwrite)\n")
		return nil
	}

	cfg.MCPServers["parseltongue"] = parseltongueMCPEntry

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling .mcp.json: %w", err)
	}

	if err := os.WriteFile(mcpPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", mcpPath, err)
	}

	action := "created"
	if data != nil {
		action = "updated"
	}
	fmt.Fprintf(w, "  %s .mcp.json with parseltongue MCP server\n", action)
	return nil
}
