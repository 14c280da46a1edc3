package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
)

func fnFact(name, file string, start, end int) EntityFact {
	return EntityFact{
		Language:    entity.LangRust,
		Kind:        entity.KindFunction,
		Name:        name,
		FilePath:    file,
		Lines:       entity.LineRange{Start: start, End: end},
		CurrentCode: "fn " + name + "() {}",
	}
}

func newIngester(t *testing.T, opts ...IngesterOption) (*Ingester, graph.Store) {
	t.Helper()
	s := graph.NewMemStore()
	t.Cleanup(func() { _ = s.Close() })
	return NewIngester(graph.NewHandle(s), opts...), s
}

func TestIngest_StoresEntitiesUnchanged(t *testing.T) {
	in, s := newIngester(t)
	ctx := context.Background()

	rep, err := in.Ingest(ctx, []EntityFact{
		fnFact("foo", "src/lib.rs", 1, 3),
		fnFact("bar", "src/lib.rs", 5, 7),
	}, []EdgeFact{{
		Source: Ref{FilePath: "src/lib.rs", Name: "foo"},
		Target: Ref{FilePath: "src/lib.rs", Name: "bar"},
		Type:   entity.EdgeCalls,
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Entities)
	assert.Equal(t, 1, rep.Files)
	assert.Equal(t, 1, rep.Edges)
	assert.Zero(t, rep.Dangling)

	foo := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "foo", "src/lib.rs", 1, 3)
	bar := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "bar", "src/lib.rs", 5, 7)
	got, err := s.GetEntity(ctx, foo)
	require.NoError(t, err)
	assert.Equal(t, entity.Unchanged(), got.Temporal)
	assert.Equal(t, entity.ClassCode, got.Class)
	require.NotNil(t, got.CurrentCode)
	assert.Equal(t, "fn foo() {}", *got.CurrentCode)
	assert.Nil(t, got.FutureCode)

	edges, err := s.EdgesFrom(ctx, foo)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, bar, edges[0].Target)
	assert.Equal(t, entity.EdgeCalls, edges[0].Type)
}

func TestIngest_InvalidFactWritesNothing(t *testing.T) {
	in, s := newIngester(t)
	ctx := context.Background()

	bad := fnFact("bad", "src/lib.rs", 0, 2)
	_, err := in.Ingest(ctx, []EntityFact{fnFact("ok", "src/lib.rs", 1, 1), bad}, nil)
	require.ErrorIs(t, err, entity.ErrInvalidKey)

	all, err := s.ListEntities(ctx, graph.OmitCode)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIngest_Resolution(t *testing.T) {
	ctx := context.Background()
	facts := []EntityFact{
		fnFact("helper", "src/a.rs", 1, 2),
		fnFact("helper", "src/b.rs", 1, 2),
		fnFact("Widget::render", "src/b.rs", 4, 8),
		fnFact("unique", "src/c.rs", 10, 12),
		fnFact("caller", "src/a.rs", 4, 6),
	}
	caller := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "caller", "src/a.rs", 4, 6)

	tests := []struct {
		name   string
		target Ref
		want   entity.Key
	}{
		{
			name:   "same file wins over other files",
			target: Ref{FilePath: "src/a.rs", Name: "helper"},
			want:   entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "helper", "src/a.rs", 1, 2),
		},
		{
			name:   "qualified name reduces to last segment",
			target: Ref{FilePath: "src/a.rs", Name: "crate::c::unique"},
			want:   entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "unique", "src/c.rs", 10, 12),
		},
		{
			name:   "method by short name",
			target: Ref{FilePath: "src/a.rs", Name: "w.render"},
			want:   entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "Widget::render", "src/b.rs", 4, 8),
		},
		{
			name:   "exact name in another file",
			target: Ref{FilePath: "src/b.rs", Name: "Widget::render"},
			want:   entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "Widget::render", "src/b.rs", 4, 8),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, s := newIngester(t)
			_, err := in.Ingest(ctx, facts, []EdgeFact{{
				Source: Ref{FilePath: "src/a.rs", Name: "caller"},
				Target: tt.target,
				Type:   entity.EdgeCalls,
			}})
			require.NoError(t, err)
			edges, err := s.EdgesFrom(ctx, caller)
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, tt.want, edges[0].Target)
		})
	}
}

func TestIngest_AmbiguousAndUnknownTargetsDangle(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	in, s := newIngester(t, WithLogger(logger))
	ctx := context.Background()

	caller := fnFact("caller", "src/main.rs", 1, 3)
	rep, err := in.Ingest(ctx, []EntityFact{
		caller,
		fnFact("helper", "src/a.rs", 1, 2),
		fnFact("helper", "src/b.rs", 1, 2),
	}, []EdgeFact{
		{Source: Ref{FilePath: "src/main.rs", Name: "caller"}, Target: Ref{FilePath: "src/main.rs", Name: "helper"}, Type: entity.EdgeCalls},
		{Source: Ref{FilePath: "src/main.rs", Name: "caller"}, Target: Ref{FilePath: "src/main.rs", Name: "println"}, Type: entity.EdgeCalls},
		{Source: Ref{FilePath: "src/main.rs", Name: "caller"}, Target: Ref{FilePath: "src/main.rs", Name: "println"}, Type: entity.EdgeCalls},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Dangling)
	assert.Equal(t, 2, rep.Edges, "duplicate edges collapse")

	key, err := caller.Key()
	require.NoError(t, err)
	edges, err := s.EdgesFrom(ctx, key)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.True(t, e.Target.IsNew())
		assert.Equal(t, entity.ExternalPath, e.Target.Path())
		assert.Equal(t, entity.KindUnknown, e.Target.Kind())
	}

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, 2, entry.Data["count"])
		}
	}
	assert.True(t, warned)
}

func TestIngest_UnresolvedSourceSkipped(t *testing.T) {
	in, s := newIngester(t)
	ctx := context.Background()

	rep, err := in.Ingest(ctx, []EntityFact{fnFact("a", "src/a.rs", 1, 1)}, []EdgeFact{
		{Source: Ref{FilePath: "src/x.rs", Name: "ghost"}, Target: Ref{FilePath: "src/a.rs", Name: "a"}, Type: entity.EdgeCalls},
		{Source: Ref{FilePath: "src/a.rs", Name: "a"}, Target: Ref{FilePath: "src/a.rs", Name: "a"}, Type: "Bogus"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	edges, err := s.ListEdges(ctx)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestIngest_LineDisambiguatesSource(t *testing.T) {
	in, s := newIngester(t)
	ctx := context.Background()

	_, err := in.Ingest(ctx, []EntityFact{
		fnFact("new", "src/a.rs", 1, 2),
		fnFact("new", "src/a.rs", 10, 12),
		fnFact("target", "src/a.rs", 20, 21),
	}, []EdgeFact{{
		Source: Ref{FilePath: "src/a.rs", Name: "new", Line: 10},
		Target: Ref{FilePath: "src/a.rs", Name: "target"},
		Type:   entity.EdgeCalls,
	}})
	require.NoError(t, err)

	second := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "new", "src/a.rs", 10, 12)
	edges, err := s.EdgesFrom(ctx, second)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestReplace_ResetsFirst(t *testing.T) {
	in, s := newIngester(t, WithChunkSize(1))
	ctx := context.Background()

	_, err := in.Ingest(ctx, []EntityFact{fnFact("old", "src/old.rs", 1, 1)}, nil)
	require.NoError(t, err)

	_, err = in.Replace(ctx, []EntityFact{
		fnFact("a", "src/new.rs", 1, 1),
		fnFact("b", "src/new.rs", 2, 2),
		fnFact("c", "src/new.rs", 3, 3),
	}, nil)
	require.NoError(t, err)

	all, err := s.ListEntities(ctx, graph.OmitCode)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, e := range all {
		assert.Equal(t, "src/new.rs", e.FilePath)
	}
}

// flakyStore fails every CommitBatch after the first ok ones.
type flakyStore struct {
	*graph.MemStore
	ok int
}

func (f *flakyStore) CommitBatch(ctx context.Context, b graph.Batch) error {
	if f.ok == 0 {
		return errors.New("disk full")
	}
	f.ok--
	return f.MemStore.CommitBatch(ctx, b)
}

func TestReplace_FailureAfterResetIsPartial(t *testing.T) {
	ctx := context.Background()
	s := &flakyStore{MemStore: graph.NewMemStore(), ok: 2}
	t.Cleanup(func() { _ = s.Close() })
	in := NewIngester(graph.NewHandle(s), WithChunkSize(1))

	facts := []EntityFact{
		fnFact("a", "src/new.rs", 1, 1),
		fnFact("b", "src/new.rs", 2, 2),
		fnFact("c", "src/new.rs", 3, 3),
	}
	_, err := in.Replace(ctx, facts, nil)
	require.ErrorIs(t, err, ErrPartialRebuild)
	assert.ErrorContains(t, err, "disk full")

	all, err := s.ListEntities(ctx, graph.OmitCode)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Ingest never resets, so its failures are plain store errors.
	_, err = in.Ingest(ctx, facts[:1], nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialRebuild)
}

func TestShortName(t *testing.T) {
	tests := map[string]string{
		"foo":                  "foo",
		"Type.Method":          "Method",
		"s.repo.Save":          "Save",
		"crate::mod::f":        "f",
		"Widget::render":       "render",
		"self.client.get_user": "get_user",
	}
	for in, want := range tests {
		assert.Equal(t, want, shortName(in), in)
	}
}
