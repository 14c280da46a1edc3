package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

func TestDetectCycles_Acyclic(t *testing.T) {
	a, b, c := fn("a"), fn("b"), fn("c")
	eng, _ := newEngine(t, []entity.Key{a, b, c}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, c, entity.EdgeCalls),
		edge(a, c, entity.EdgeCalls),
	})

	cycles, err := eng.DetectCycles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, cycles)

	has, err := eng.HasCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDetectCycles_ComponentsAndSelfLoop(t *testing.T) {
	a, b, c, d, e := fn("a"), fn("b"), fn("c"), fn("d"), fn("e")
	eng, _ := newEngine(t, []entity.Key{a, b, c, d, e}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, c, entity.EdgeCalls),
		edge(c, a, entity.EdgeCalls),
		edge(c, d, entity.EdgeCalls),
		edge(e, e, entity.EdgeCalls),
	})

	cycles, err := eng.DetectCycles(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, Cycle{Keys: []entity.Key{a, b, c}}, cycles[0])
	assert.Equal(t, Cycle{Keys: []entity.Key{e}, SelfLoop: true}, cycles[1])
	assert.True(t, cycles[0].Contains(b))
	assert.False(t, cycles[0].Contains(d))
}

func TestDetectCycles_Seeded(t *testing.T) {
	a, b, c, d := fn("a"), fn("b"), fn("c"), fn("d")
	eng, _ := newEngine(t, []entity.Key{a, b, c, d}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, a, entity.EdgeCalls),
		edge(c, d, entity.EdgeCalls),
	})

	cycles, err := eng.DetectCycles(context.Background(), []entity.Key{c})
	require.NoError(t, err)
	assert.Empty(t, cycles, "the a/b cycle is not reachable from c")

	has, err := eng.HasCycle(context.Background(), []entity.Key{b})
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDetectCycles_EdgeTypeFilter(t *testing.T) {
	a, b := fn("a"), fn("b")
	eng, _ := newEngine(t, []entity.Key{a, b}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, a, entity.EdgeUses),
	})

	cycles, err := eng.DetectCycles(context.Background(), nil, WithEdgeTypes(entity.EdgeCalls))
	require.NoError(t, err)
	assert.Empty(t, cycles)

	cycles, err = eng.DetectCycles(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, cycles, 1)
}

func TestFindCycles_DeepChainDoesNotRecurse(t *testing.T) {
	const n = 50000
	keys := make([]entity.Key, n)
	entities := make([]entity.CodeEntity, n)
	for i := range keys {
		keys[i] = fnIn("f", "pkg/deep.go", i*3+1)
		entities[i] = stored(keys[i], entity.ClassCode)
	}
	var edges []entity.DependencyEdge
	for i := 1; i < n; i++ {
		edges = append(edges, edge(keys[i-1], keys[i], entity.EdgeCalls))
	}
	edges = append(edges, edge(keys[n-1], keys[0], entity.EdgeCalls))

	cycles, err := FindCycles(context.Background(), NewSnapshot(entities, edges), []entity.Key{keys[0]})
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0].Keys, n)
}

func TestFindCycles_OverlayEdges(t *testing.T) {
	a, b := fn("a"), fn("b")
	snap := NewSnapshot(
		[]entity.CodeEntity{stored(a, entity.ClassCode), stored(b, entity.ClassCode)},
		[]entity.DependencyEdge{edge(a, b, entity.EdgeCalls)},
	)

	cycles, err := FindCycles(context.Background(), snap, []entity.Key{a})
	require.NoError(t, err)
	assert.Empty(t, cycles)

	overlay := snap.With(nil, nil, []entity.DependencyEdge{edge(b, a, entity.EdgeCalls)})
	cycles, err = FindCycles(context.Background(), overlay, []entity.Key{a})
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, []entity.Key{a, b}, cycles[0].Keys)

	dropped := overlay.With(nil, []entity.Key{b}, nil)
	cycles, err = FindCycles(context.Background(), dropped, []entity.Key{a})
	require.NoError(t, err)
	assert.Empty(t, cycles, "dropping an entity removes its edges")
	assert.Equal(t, 1, dropped.EntityCount())
}
