package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/logging"
	"github.com/dusk-indust/parseltongue/internal/mcptools"
	"github.com/dusk-indust/parseltongue/internal/parse"
)

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs one invocation and always releases the graph, including
// when the command fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stderr: stderr}
	cmd := newRootCommand(a, version)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	ProjectRoot string
	Backend     string
	StorePath   string
	Verbose     bool
}

// app is the per-invocation wiring: configuration, logger and the opened
// graph. Commands that need the graph call open.
type app struct {
	flags  globalFlags
	stderr io.Writer
	root   string
	cfg    *config.ProjectConfig
	logger *logrus.Logger

	handle *graph.Handle
	parser *parse.TreeSitterParser
	svc    *mcptools.Service
}

func newRootCommand(a *app, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parseltongue",
		Short: "Code dependency graph with a temporal change workflow",
		Long: `Parseltongue parses a repository into a graph of code entities and their
dependencies, answers dependency queries over it, and records proposed
creates, edits and deletes as pending changes that are validated as a batch
before anything touches the source tree.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.configure()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.ProjectRoot, "project-root", ".", "path to the target project")
	pf.StringVar(&a.flags.Backend, "backend", "", "graph backend: memory, badger, sqlite or kuzu (default from parseltongue.yml)")
	pf.StringVar(&a.flags.StorePath, "store-path", "", "graph location, relative to the project root (default from parseltongue.yml)")
	pf.BoolVarP(&a.flags.Verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newInitCommand(a),
		newIngestCommand(a),
		newWatchCommand(a),
		newDepsCommand(a),
		newBlastCommand(a),
		newCyclesCommand(a),
		newAugmentCommand(a),
		newStatsCommand(a),
		newPendingCommand(a),
		newApplyCommand(a),
		newFoldCommand(a),
		newResetCommand(a),
		newDiagramCommand(a),
		newServeCommand(a),
	)
	return rootCmd
}

// configure loads parseltongue.yml from the project root and applies flag
// overrides.
func (a *app) configure() error {
	root, err := filepath.Abs(a.flags.ProjectRoot)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.flags.Backend != "" {
		cfg.Store.Backend = a.flags.Backend
	}
	if a.flags.StorePath != "" {
		cfg.Store.Path = a.flags.StorePath
	}
	if a.flags.Verbose {
		cfg.Log.Level = "debug"
	}
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(root, cfg.Store.Path)
	}

	a.root = root
	a.cfg = cfg
	a.logger = logging.NewWithOutput(cfg.Log, a.stderr)
	return nil
}

// open opens the configured graph and wires the service over it.
func (a *app) open(ctx context.Context) (*mcptools.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	if a.cfg.Store.Path != "" && a.cfg.Store.Backend != config.BackendMemory {
		dir := a.cfg.Store.Path
		if a.cfg.Store.Backend == config.BackendSQLite || a.cfg.Store.Backend == config.BackendKuzu {
			dir = filepath.Dir(dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	store, err := graph.Open(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	a.handle = graph.NewHandle(store)
	a.parser = parse.NewTreeSitterParser()

	svc, err := mcptools.NewService(a.handle, a.parser, a.cfg, a.logger)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.svc = svc
	a.logger.WithFields(logrus.Fields{
		"backend": a.cfg.Store.Backend,
		"path":    a.cfg.Store.Path,
	}).Debug("graph opened")
	return svc, nil
}

func (a *app) close() error {
	var err error
	if a.parser != nil {
		_ = a.parser.Close()
		a.parser = nil
	}
	if a.handle != nil {
		err = a.handle.Close()
		a.handle = nil
	}
	a.svc = nil
	return err
}
