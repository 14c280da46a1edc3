package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends understood by graph.Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendKuzu   = "kuzu"
)

// ProjectConfig holds project-level settings loaded from parseltongue.yml.
type ProjectConfig struct {
	Store       StoreConfig    `yaml:"store,omitempty"`
	Languages   []string       `yaml:"languages,omitempty"`
	ExcludeDirs []string       `yaml:"excludeDirs,omitempty"`
	Workers     int            `yaml:"workers,omitempty"`
	Query       QueryConfig    `yaml:"query,omitempty"`
	Temporal    TemporalConfig `yaml:"temporal,omitempty"`
	Log         LogConfig      `yaml:"log,omitempty"`
}

// StoreConfig selects and locates the graph backend.
type StoreConfig struct {
	Backend    string `yaml:"backend,omitempty"`
	Path       string `yaml:"path,omitempty"` // empty means in-memory where the backend supports it
	SyncWrites bool   `yaml:"syncWrites,omitempty"`
}

// QueryConfig bounds traversal queries.
type QueryConfig struct {
	DefaultHops     int           `yaml:"defaultHops,omitempty"`
	ClosureMaxNodes int           `yaml:"closureMaxNodes,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

// TemporalConfig sets defaults for batch application.
type TemporalConfig struct {
	ConflictPolicy string `yaml:"conflictPolicy,omitempty"`
	StrictCycles   bool   `yaml:"strictCycles,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
}

// Default returns the configuration used when no file is present.
func Default() *ProjectConfig {
	return &ProjectConfig{
		Store:       StoreConfig{Backend: BackendBadger, Path: filepath.Join(".parseltongue", "graph")},
		ExcludeDirs: []string{"vendor", "node_modules", "target", "dist", "build", "__pycache__"},
		Query: QueryConfig{
			DefaultHops:     3,
			ClosureMaxNodes: 10000,
			Timeout:         30 * time.Second,
		},
		Temporal: TemporalConfig{ConflictPolicy: "fail-fast"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// FileName is the configuration file Save writes.
const FileName = "parseltongue.yml"

// Load attempts to read parseltongue.yml or parseltongue.yaml from the given
// directory. Returns Default (not an error) if no config file exists. Values
// in the file override defaults field by field.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range []string{FileName, "parseltongue.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		cfg := Default()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Default(), nil
}

// Save writes cfg to dir/parseltongue.yml.
func Save(dir string, cfg *ProjectConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, FileName), data, 0o644)
}
