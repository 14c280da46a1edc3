package e2e

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/commit"
	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/ingest"
	"github.com/dusk-indust/parseltongue/internal/logging"
	"github.com/dusk-indust/parseltongue/internal/query"
	"github.com/dusk-indust/parseltongue/internal/temporal"
)

// pureGoBackends are the backends that run without cgo.
var pureGoBackends = []string{config.BackendMemory, config.BackendBadger}

func openHandle(t *testing.T, backend string) *graph.Handle {
	t.Helper()
	s, err := graph.Open(context.Background(), config.StoreConfig{Backend: backend}, logging.Discard())
	require.NoError(t, err)
	h := graph.NewHandle(s)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func rustFn(name string, start, end int) ingest.EntityFact {
	return ingest.EntityFact{
		Language:    entity.LangRust,
		Kind:        entity.KindFunction,
		Name:        name,
		FilePath:    "src/lib.rs",
		Lines:       entity.LineRange{Start: start, End: end},
		CurrentCode: "fn " + name + "() {}",
	}
}

// TestPipeline_DeleteBlastApplyReset ingests foo -> bar, checks the blast
// radius of bar, proposes its deletion and resets the graph.
func TestPipeline_DeleteBlastApplyReset(t *testing.T) {
	for _, backend := range pureGoBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			h := openHandle(t, backend)

			rep, err := ingest.NewIngester(h).Ingest(ctx,
				[]ingest.EntityFact{rustFn("foo", 1, 3), rustFn("bar", 5, 7)},
				[]ingest.EdgeFact{{
					Source: ingest.Ref{FilePath: "src/lib.rs", Name: "foo", Line: 2},
					Target: ingest.Ref{FilePath: "src/lib.rs", Name: "bar", Line: 2},
					Type:   entity.EdgeCalls,
				}})
			require.NoError(t, err)
			require.Equal(t, 2, rep.Entities)
			require.Equal(t, 1, rep.Edges)

			foo := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "foo", "src/lib.rs", 1, 3)
			bar := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "bar", "src/lib.rs", 5, 7)

			engine := query.NewEngine(h.Store)
			radius, err := engine.BlastRadius(ctx, bar, 1)
			require.NoError(t, err)
			assert.Equal(t, []query.Impact{{Key: foo, Distance: 1}}, radius.Impacts)

			machine := temporal.NewMachine(h, temporal.WithEngine(engine))
			res, err := machine.ApplyBatch(ctx, []temporal.Change{temporal.Delete(bar)}, temporal.FailFast)
			require.NoError(t, err)
			assert.Equal(t, []entity.Key{bar}, res.Applied)

			got, err := h.Store.GetEntity(ctx, bar)
			require.NoError(t, err)
			assert.Equal(t, entity.DeletePending(), got.Temporal)
			assert.True(t, got.Temporal.Current())
			assert.False(t, got.Temporal.Future())
			assert.Nil(t, got.FutureCode)

			ctrl := commit.NewController(h)
			pending, err := ctrl.PendingChanges(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, entity.ActionDelete, pending[0].Action)

			require.NoError(t, ctrl.Reset(ctx))
			st, err := h.Store.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, st.EntityCount)
			assert.Zero(t, st.EdgeCount)
		})
	}
}

// TestPipeline_CreateEditFold walks a create and an edit through validation
// and folds them into the current state.
func TestPipeline_CreateEditFold(t *testing.T) {
	for _, backend := range pureGoBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			h := openHandle(t, backend)

			_, err := ingest.NewIngester(h).Ingest(ctx,
				[]ingest.EntityFact{rustFn("foo", 1, 3), rustFn("bar", 5, 7)},
				[]ingest.EdgeFact{{
					Source: ingest.Ref{FilePath: "src/lib.rs", Name: "foo"},
					Target: ingest.Ref{FilePath: "src/lib.rs", Name: "bar"},
					Type:   entity.EdgeCalls,
				}})
			require.NoError(t, err)
			foo := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "foo", "src/lib.rs", 1, 3)
			bar := entity.MustGenerateKey(entity.LangRust, entity.KindFunction, "bar", "src/lib.rs", 5, 7)

			machine := temporal.NewMachine(h)
			spec := temporal.CreateSpec{Language: entity.LangRust, Kind: entity.KindFunction, Name: "baz", FilePath: "src/lib.rs"}
			baz, err := spec.Key()
			require.NoError(t, err)

			// bar -> foo would close foo -> bar.
			_, err = machine.ApplyBatch(ctx, []temporal.Change{
				temporal.Edit(bar, "fn bar() { foo() }").WithEdges(entity.DependencyEdge{Source: bar, Target: foo, Type: entity.EdgeCalls}),
			}, temporal.FailFast)
			require.ErrorIs(t, err, entity.ErrValidation)

			_, err = machine.ApplyBatch(ctx, []temporal.Change{
				temporal.Create(spec, "fn baz() {}"),
				temporal.Edit(bar, "fn bar() { baz() }").WithEdges(entity.DependencyEdge{Source: bar, Target: baz, Type: entity.EdgeCalls}),
			}, temporal.FailFast)
			require.NoError(t, err)

			radius, err := query.NewEngine(h.Store).BlastRadius(ctx, baz, 5)
			require.NoError(t, err)
			assert.Equal(t, []query.Impact{{Key: bar, Distance: 1}, {Key: foo, Distance: 2}}, radius.Impacts)

			report, err := commit.NewController(h).Fold(ctx)
			require.NoError(t, err)
			assert.Equal(t, []entity.Key{bar}, report.Edited)
			assert.Equal(t, []entity.Key{baz}, report.Created)

			got, err := h.Store.GetEntity(ctx, bar)
			require.NoError(t, err)
			assert.Equal(t, entity.Unchanged(), got.Temporal)
			require.NotNil(t, got.CurrentCode)
			assert.Equal(t, "fn bar() { baz() }", *got.CurrentCode)

			st, err := h.Store.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, st.PendingCount)
			assert.Equal(t, 3, st.EntityCount)
		})
	}
}
