//go:build cgo

package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/entity"
)

// newTestStore creates a fresh in-memory KuzuStore with an initialized schema.
// It registers a cleanup function to close the store when the test finishes.
func newTestStore(t *testing.T) *KuzuStore {
	t.Helper()
	s, err := NewKuzuStore()
	require.NoError(t, err, "NewKuzuStore should not fail")
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.InitSchema(context.Background()), "InitSchema should not fail")
	return s
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestKuzuStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Store { return newTestStore(t) })
}

func TestSQLiteStore_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Store {
		t.Helper()
		s, err := NewSQLiteStore(":memory:", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		require.NoError(t, s.InitSchema(context.Background()))
		return s
	})
}

func TestKuzuStore_CodeWithQuotesAndNewlines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := unchanged(testKey("quoted", 4))
	e.CurrentCode = entity.Code("func quoted() {\n\tprintln(\"it's $x\")\n}\n")
	require.NoError(t, s.PutEntity(ctx, e))

	got, err := s.GetEntity(ctx, e.Key)
	require.NoError(t, err)
	assert.Equal(t, *e.CurrentCode, *got.CurrentCode)
}

func TestKuzuFileStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph", "kuzu")
	a := testKey("a", 1)

	s, err := NewKuzuFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.InitSchema(ctx))
	require.NoError(t, s.PutEntity(ctx, unchanged(a)))
	require.NoError(t, s.Close())

	reopened, err := NewKuzuFileStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.InitSchema(ctx))

	got, err := reopened.GetEntity(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a, got.Key)
}

func TestOpen_CgoBackendsRegistered(t *testing.T) {
	assert.Contains(t, Backends(), config.BackendSQLite)
	assert.Contains(t, Backends(), config.BackendKuzu)

	s, err := Open(context.Background(), config.StoreConfig{Backend: config.BackendSQLite, Path: filepath.Join(t.TempDir(), "g.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.IsType(t, &SQLiteStore{}, s)
}
