package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
)

// --- helpers ---

func fn(name string) entity.Key {
	return entity.MustGenerateKey(entity.LangGo, entity.KindFunction, name, "pkg/"+name+".go", 1, 3)
}

func fnIn(name, file string, line int) entity.Key {
	return entity.MustGenerateKey(entity.LangGo, entity.KindFunction, name, file, line, line+2)
}

func stored(k entity.Key, class entity.EntityClass) entity.CodeEntity {
	lines, _ := k.Lines()
	return entity.CodeEntity{
		Key:         k,
		Language:    entity.LangGo,
		Kind:        k.Kind(),
		Name:        k.Name(),
		FilePath:    k.Path(),
		Lines:       &lines,
		CurrentCode: entity.Code("func " + k.Name() + "() {}"),
		Class:       class,
		Temporal:    entity.Unchanged(),
	}
}

func edge(src, dst entity.Key, t entity.EdgeType) entity.DependencyEdge {
	return entity.DependencyEdge{Source: src, Target: dst, Type: t}
}

// newEngine stores every key as a CODE entity plus the given edges.
func newEngine(t *testing.T, keys []entity.Key, edges []entity.DependencyEdge, opts ...EngineOption) (*Engine, graph.Store) {
	t.Helper()
	ctx := context.Background()
	s := graph.NewMemStore()
	require.NoError(t, s.InitSchema(ctx))
	t.Cleanup(func() { _ = s.Close() })

	b := graph.Batch{Edges: edges}
	for _, k := range keys {
		b.Upserts = append(b.Upserts, stored(k, entity.ClassCode))
	}
	require.NoError(t, s.CommitBatch(ctx, b))
	return NewEngine(s, opts...), s
}

// --- dependencies ---

func TestForwardAndReverseDependencies(t *testing.T) {
	ctx := context.Background()
	a, b, c := fn("a"), fn("b"), fn("c")
	eng, _ := newEngine(t, []entity.Key{a, b, c}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(a, c, entity.EdgeCalls),
		edge(a, c, entity.EdgeUses),
		edge(b, c, entity.EdgeCalls),
	})

	fwd, err := eng.ForwardDependencies(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []entity.Key{b, c}, fwd, "targets are unique and sorted")

	rev, err := eng.ReverseDependencies(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []entity.Key{a, b}, rev)

	usesOnly, err := eng.ForwardDependencies(ctx, a, WithEdgeTypes(entity.EdgeUses))
	require.NoError(t, err)
	assert.Equal(t, []entity.Key{c}, usesOnly)

	none, err := eng.ReverseDependencies(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDependencies_UnknownKey(t *testing.T) {
	eng, _ := newEngine(t, []entity.Key{fn("a")}, nil)

	_, err := eng.ForwardDependencies(context.Background(), fn("ghost"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var nf *entity.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, fn("ghost"), nf.Key)
}

func TestDependencies_DanglingTargetIsKnown(t *testing.T) {
	ctx := context.Background()
	a := fn("a")
	ext, err := entity.GenerateKeyForNew(entity.ExternalPath, "fmt.Println", entity.KindUnknown)
	require.NoError(t, err)
	eng, _ := newEngine(t, []entity.Key{a}, []entity.DependencyEdge{edge(a, ext, entity.EdgeCalls)})

	rev, err := eng.ReverseDependencies(ctx, ext)
	require.NoError(t, err)
	assert.Equal(t, []entity.Key{a}, rev)

	dangling, err := eng.DanglingEdges(ctx)
	require.NoError(t, err)
	require.Len(t, dangling, 1)
	assert.Equal(t, ext, dangling[0].Edge.Target)
	assert.ErrorIs(t, dangling[0], entity.ErrDanglingEdgeTarget)
}

func TestDependencies_ExcludeTests(t *testing.T) {
	ctx := context.Background()
	a := fn("a")
	testFn := fnIn("TestA", "pkg/a_test.go", 10)
	eng, s := newEngine(t, []entity.Key{a}, nil)
	require.NoError(t, s.CommitBatch(ctx, graph.Batch{
		Upserts: []entity.CodeEntity{stored(testFn, entity.ClassTest)},
		Edges:   []entity.DependencyEdge{edge(testFn, a, entity.EdgeCalls)},
	}))

	rev, err := eng.ReverseDependencies(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, rev, "TEST entities are hidden by default")

	rev, err = eng.ReverseDependencies(ctx, a, IncludeTests())
	require.NoError(t, err)
	assert.Equal(t, []entity.Key{testFn}, rev)
}

// --- blast radius ---

func TestBlastRadius_MinimalDistance(t *testing.T) {
	// A→B→C and A→D→C: from C, B and D are one hop away and A is two.
	ctx := context.Background()
	a, b, c, d := fn("a"), fn("b"), fn("c"), fn("d")
	eng, _ := newEngine(t, []entity.Key{a, b, c, d}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, c, entity.EdgeCalls),
		edge(a, d, entity.EdgeCalls),
		edge(d, c, entity.EdgeCalls),
	})

	r, err := eng.BlastRadius(ctx, c, 3)
	require.NoError(t, err)
	assert.Equal(t, c, r.Origin)
	assert.Equal(t, []Impact{
		{Key: b, Distance: 1},
		{Key: d, Distance: 1},
		{Key: a, Distance: 2},
	}, r.Impacts)
	assert.False(t, r.Truncated)
}

func TestBlastRadius_ShortcutWins(t *testing.T) {
	// A→B→C plus A→C: A is reported once, at distance one.
	ctx := context.Background()
	a, b, c := fn("a"), fn("b"), fn("c")
	eng, _ := newEngine(t, []entity.Key{a, b, c}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, c, entity.EdgeCalls),
		edge(a, c, entity.EdgeCalls),
	})

	r, err := eng.BlastRadius(ctx, c, 5)
	require.NoError(t, err)
	assert.Equal(t, []Impact{{Key: a, Distance: 1}, {Key: b, Distance: 1}}, r.Impacts)
}

func TestBlastRadius_HopLimit(t *testing.T) {
	ctx := context.Background()
	a, b, c, d := fn("a"), fn("b"), fn("c"), fn("d")
	eng, _ := newEngine(t, []entity.Key{a, b, c, d}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, c, entity.EdgeCalls),
		edge(c, d, entity.EdgeCalls),
	})

	r, err := eng.BlastRadius(ctx, d, 2)
	require.NoError(t, err)
	assert.Equal(t, []entity.Key{c, b}, r.Keys())
}

func TestBlastRadius_DefaultHopsFromConfig(t *testing.T) {
	ctx := context.Background()
	a, b, c := fn("a"), fn("b"), fn("c")
	cfg := config.Default().Query
	cfg.DefaultHops = 1
	eng, _ := newEngine(t, []entity.Key{a, b, c}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, c, entity.EdgeCalls),
	}, WithConfig(cfg))

	r, err := eng.BlastRadius(ctx, c, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, r.MaxHops)
	assert.Equal(t, []entity.Key{b}, r.Keys())
}

func TestBlastRadius_TerminatesOnCycle(t *testing.T) {
	ctx := context.Background()
	a, b, c := fn("a"), fn("b"), fn("c")
	eng, _ := newEngine(t, []entity.Key{a, b, c}, []entity.DependencyEdge{
		edge(a, b, entity.EdgeCalls),
		edge(b, c, entity.EdgeCalls),
		edge(c, a, entity.EdgeCalls),
	})

	r, err := eng.BlastRadius(ctx, a, 10)
	require.NoError(t, err)
	assert.Equal(t, []Impact{{Key: c, Distance: 1}, {Key: b, Distance: 2}}, r.Impacts,
		"the origin is never reported")
}

func TestBlastRadius_UnknownKey(t *testing.T) {
	eng, _ := newEngine(t, nil, nil)
	_, err := eng.BlastRadius(context.Background(), fn("ghost"), 2)
	assert.ErrorIs(t, err, entity.ErrEntityNotFound)
}

// --- transitive closure ---

func chain(n int) ([]entity.Key, []entity.DependencyEdge) {
	keys := make([]entity.Key, n)
	for i := range keys {
		keys[i] = fnIn("f", "pkg/chain.go", i*10+1)
	}
	var edges []entity.DependencyEdge
	for i := 1; i < n; i++ {
		edges = append(edges, edge(keys[i], keys[i-1], entity.EdgeCalls))
	}
	return keys, edges
}

func TestTransitiveClosure_Unbounded(t *testing.T) {
	keys, edges := chain(20)
	eng, _ := newEngine(t, keys, edges)

	r, err := eng.TransitiveClosure(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Len(t, r.Impacts, 19)
	assert.Equal(t, 19, r.Impacts[18].Distance)
	assert.False(t, r.Truncated)
}

func TestTransitiveClosure_MaxNodesTruncates(t *testing.T) {
	keys, edges := chain(20)
	eng, _ := newEngine(t, keys, edges)

	r, err := eng.TransitiveClosure(context.Background(), keys[0], WithMaxNodes(5))
	require.NoError(t, err)
	assert.Len(t, r.Impacts, 5)
	assert.True(t, r.Truncated)
}

func TestTransitiveClosure_CancelledContextFails(t *testing.T) {
	keys, edges := chain(3)
	eng, _ := newEngine(t, keys, edges)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.TransitiveClosure(ctx, keys[0], WithTimeout(time.Minute))
	require.Error(t, err)
}

// --- select ---

func TestSelect_PredicatesAndProjection(t *testing.T) {
	ctx := context.Background()
	a, b := fn("a"), fn("b")
	eng, s := newEngine(t, []entity.Key{a, b}, nil)

	edited := stored(a, entity.ClassCode)
	edited.Temporal = entity.EditPending()
	edited.FutureCode = entity.Code("func a() { b() }")
	edited.Signature.Visibility = entity.VisibilityPublic
	require.NoError(t, s.PutEntity(ctx, edited))

	pending, err := eng.Select(ctx, PendingOnly(), graph.OmitCurrentCode)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a, pending[0].Key)
	assert.Nil(t, pending[0].CurrentCode)
	require.NotNil(t, pending[0].FutureCode)

	all, err := eng.Select(ctx, nil, graph.OmitCode)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	notPending, err := eng.Select(ctx, And(OfKind(entity.KindFunction), Not(PendingOnly())), 0)
	require.NoError(t, err)
	require.Len(t, notPending, 1)
	assert.Equal(t, b, notPending[0].Key)

	either, err := eng.Select(ctx, Or(InFile("pkg/b.go"), WithVisibility(entity.VisibilityPublic)), 0)
	require.NoError(t, err)
	assert.Len(t, either, 2)

	tests, err := eng.Select(ctx, OfClass(entity.ClassTest), 0)
	require.NoError(t, err)
	assert.Empty(t, tests)
}
