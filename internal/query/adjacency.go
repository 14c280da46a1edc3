package query

import (
	"context"
	"errors"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
)

// adjacency is what a traversal walks: a Snapshot, the live store, or the
// store with a planned batch laid over it. Only the nodes a traversal
// reaches are ever read.
type adjacency interface {
	lookup(ctx context.Context, k entity.Key) (entity.CodeEntity, bool, error)
	out(ctx context.Context, k entity.Key) ([]entity.DependencyEdge, error)
	in(ctx context.Context, k entity.Key) ([]entity.DependencyEdge, error)
}

// known reports whether k is an entity or an endpoint of any edge.
func known(ctx context.Context, g adjacency, k entity.Key) (bool, error) {
	if _, ok, err := g.lookup(ctx, k); err != nil || ok {
		return ok, err
	}
	out, err := g.out(ctx, k)
	if err != nil || len(out) > 0 {
		return len(out) > 0, err
	}
	in, err := g.in(ctx, k)
	return len(in) > 0, err
}

// follows reports whether a traversal under o may cross e to reach next.
func follows(ctx context.Context, g adjacency, e entity.DependencyEdge, next entity.Key, o Options) (bool, error) {
	if len(o.EdgeTypes) > 0 && !o.EdgeTypes[e.Type] {
		return false, nil
	}
	if o.IncludeTests {
		return true, nil
	}
	test, err := isTest(ctx, g, next)
	return !test, err
}

// isTest reports whether k is a TEST entity. Unknown keys are not tests.
func isTest(ctx context.Context, g adjacency, k entity.Key) (bool, error) {
	n, ok, err := g.lookup(ctx, k)
	return ok && n.Class == entity.ClassTest, err
}

type snapshotGraph struct{ s *Snapshot }

func (g snapshotGraph) lookup(_ context.Context, k entity.Key) (entity.CodeEntity, bool, error) {
	e, ok := g.s.Entity(k)
	return e, ok, nil
}

func (g snapshotGraph) out(_ context.Context, k entity.Key) ([]entity.DependencyEdge, error) {
	return g.s.Out(k), nil
}

func (g snapshotGraph) in(_ context.Context, k entity.Key) ([]entity.DependencyEdge, error) {
	return g.s.In(k), nil
}

// storeGraph reads adjacency from the store's edge indexes. Entity reads
// are memoized for the lifetime of one query.
type storeGraph struct {
	store    graph.Store
	entities map[entity.Key]*entity.CodeEntity // nil value: absent
}

func newStoreGraph(s graph.Store) *storeGraph {
	return &storeGraph{store: s, entities: make(map[entity.Key]*entity.CodeEntity)}
}

func (g *storeGraph) lookup(ctx context.Context, k entity.Key) (entity.CodeEntity, bool, error) {
	if e, ok := g.entities[k]; ok {
		if e == nil {
			return entity.CodeEntity{}, false, nil
		}
		return *e, true, nil
	}
	e, err := g.store.GetEntity(ctx, k)
	if errors.Is(err, entity.ErrEntityNotFound) {
		g.entities[k] = nil
		return entity.CodeEntity{}, false, nil
	}
	if err != nil {
		return entity.CodeEntity{}, false, err
	}
	graph.OmitCode.Apply(e)
	g.entities[k] = e
	return *e, true, nil
}

func (g *storeGraph) out(ctx context.Context, k entity.Key) ([]entity.DependencyEdge, error) {
	return g.store.EdgesFrom(ctx, k)
}

func (g *storeGraph) in(ctx context.Context, k entity.Key) ([]entity.DependencyEdge, error) {
	return g.store.EdgesTo(ctx, k)
}

// plannedGraph is base as it will be once a batch lands: planned entities
// replace stored ones, proposed edges are added, and entities with no
// future state disappear together with their edges.
type plannedGraph struct {
	base     adjacency
	planned  map[entity.Key]entity.CodeEntity
	extraOut map[entity.Key][]entity.DependencyEdge
	extraIn  map[entity.Key][]entity.DependencyEdge
}

func newPlannedGraph(base adjacency, upserts []entity.CodeEntity, extra []entity.DependencyEdge) *plannedGraph {
	g := &plannedGraph{
		base:     base,
		planned:  make(map[entity.Key]entity.CodeEntity, len(upserts)),
		extraOut: make(map[entity.Key][]entity.DependencyEdge),
		extraIn:  make(map[entity.Key][]entity.DependencyEdge),
	}
	for _, e := range upserts {
		g.planned[e.Key] = e
	}
	for _, e := range extra {
		g.extraOut[e.Source] = append(g.extraOut[e.Source], e)
		g.extraIn[e.Target] = append(g.extraIn[e.Target], e)
	}
	return g
}

func (g *plannedGraph) lookup(ctx context.Context, k entity.Key) (entity.CodeEntity, bool, error) {
	e, ok := g.planned[k]
	if !ok {
		var err error
		if e, ok, err = g.base.lookup(ctx, k); err != nil {
			return entity.CodeEntity{}, false, err
		}
	}
	if !ok || !e.Temporal.Future() {
		return entity.CodeEntity{}, false, nil
	}
	return e, true, nil
}

// hidden reports whether k is an entity with no future state.
func (g *plannedGraph) hidden(ctx context.Context, k entity.Key) (bool, error) {
	e, ok := g.planned[k]
	if !ok {
		var err error
		if e, ok, err = g.base.lookup(ctx, k); err != nil {
			return false, err
		}
	}
	return ok && !e.Temporal.Future(), nil
}

func (g *plannedGraph) out(ctx context.Context, k entity.Key) ([]entity.DependencyEdge, error) {
	return g.edges(ctx, k, g.base.out, g.extraOut[k], func(e entity.DependencyEdge) entity.Key { return e.Target })
}

func (g *plannedGraph) in(ctx context.Context, k entity.Key) ([]entity.DependencyEdge, error) {
	return g.edges(ctx, k, g.base.in, g.extraIn[k], func(e entity.DependencyEdge) entity.Key { return e.Source })
}

func (g *plannedGraph) edges(
	ctx context.Context,
	k entity.Key,
	stored func(context.Context, entity.Key) ([]entity.DependencyEdge, error),
	extra []entity.DependencyEdge,
	other func(entity.DependencyEdge) entity.Key,
) ([]entity.DependencyEdge, error) {
	if h, err := g.hidden(ctx, k); err != nil || h {
		return nil, err
	}
	base, err := stored(ctx, k)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(base)+len(extra))
	var out []entity.DependencyEdge
	for _, e := range append(append([]entity.DependencyEdge(nil), base...), extra...) {
		id := e.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		h, err := g.hidden(ctx, other(e))
		if err != nil {
			return nil, err
		}
		if !h {
			out = append(out, e)
		}
	}
	return out, nil
}
