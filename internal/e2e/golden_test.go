//go:build e2e && cgo

package e2e

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/commit"
	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/export"
	"github.com/dusk-indust/parseltongue/internal/ingest"
	"github.com/dusk-indust/parseltongue/internal/parse"
	"github.com/dusk-indust/parseltongue/internal/query"
	"github.com/dusk-indust/parseltongue/internal/temporal"
)

var update = flag.Bool("update", false, "update golden files")

// goldenDir returns the path to the testdata/golden directory.
func goldenDir() string {
	return filepath.Join("..", "..", "testdata", "golden")
}

// renderFixture ingests the Go fixture, proposes one edit and renders the
// artifacts compared against golden files.
func renderFixture(t *testing.T) map[string][]byte {
	t.Helper()
	ctx := context.Background()
	h := openHandle(t, config.BackendMemory)

	p := parse.NewTreeSitterParser()
	t.Cleanup(func() { _ = p.Close() })
	src := ingest.NewRepoSource(filepath.Join("..", "..", "testdata", "fixtures", "go_project"), p, ingest.WithWorkers(1))
	ctrl := commit.NewController(h)
	_, err := ctrl.Rebuild(ctx, src)
	require.NoError(t, err)

	newUser := entity.MustGenerateKey(entity.LangGo, entity.KindFunction, "newUser", "model.go", 16, 18)
	_, err = temporal.NewMachine(h).ApplyBatch(ctx, []temporal.Change{
		temporal.Edit(newUser, "func newUser(name, email string) *User {\n\treturn &User{Name: name, Email: email, ID: -1}\n}"),
	}, temporal.FailFast)
	require.NoError(t, err)

	engine := query.NewEngine(h.Store)
	snap, err := engine.Snapshot(ctx)
	require.NoError(t, err)
	radius, err := engine.BlastRadius(ctx, newUser, 3)
	require.NoError(t, err)

	changes, err := ctrl.PendingChanges(ctx)
	require.NoError(t, err)
	cs, err := json.MarshalIndent(export.BuildChangeSet(changes, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)), "", "  ")
	require.NoError(t, err)

	return map[string][]byte{
		"clusters.mmd": []byte(export.ClustersMermaid(query.ComputeClusters(snap, query.Options{}), snap)),
		"blast.mmd":    []byte(export.RadiusMermaid(radius, snap)),
		"pending.json": append(cs, '\n'),
	}
}

// TestGolden compares rendered artifacts against testdata/golden. Missing
// golden files are written on first run.
func TestGolden(t *testing.T) {
	for name, got := range renderFixture(t) {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(goldenDir(), name)
			want, err := os.ReadFile(path)
			if *update || os.IsNotExist(err) {
				require.NoError(t, os.MkdirAll(goldenDir(), 0o755))
				require.NoError(t, os.WriteFile(path, got, 0o644))
				t.Logf("wrote %s", path)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}
}

// TestGolden_Deterministic renders twice and expects identical output.
func TestGolden_Deterministic(t *testing.T) {
	first := renderFixture(t)
	second := renderFixture(t)
	for name := range first {
		assert.Equal(t, string(first[name]), string(second[name]), name)
	}
}
