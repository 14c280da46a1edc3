// Package query answers read-only questions about the entity graph:
// dependencies, blast radius, transitive closure, cycles and clusters.
// Traversals read only the nodes they reach through the store's edge
// indexes; whole-graph questions run on a Snapshot. Nothing here mutates
// the store.
package query

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/config"
	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
	"github.com/dusk-indust/parseltongue/internal/logging"
)

// Engine runs queries against a store.
type Engine struct {
	store  graph.Store
	logger logrus.FieldLogger
	cfg    config.QueryConfig
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) { e.logger = logging.OrDiscard(l) }
}

// WithConfig sets default hop counts and closure bounds.
func WithConfig(cfg config.QueryConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// NewEngine returns an engine reading from s.
func NewEngine(s graph.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  s,
		logger: logging.Discard(),
		cfg:    config.Default().Query,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot reads the current graph.
func (e *Engine) Snapshot(ctx context.Context) (*Snapshot, error) {
	return Load(ctx, e.store)
}

// Impact is one node reached by a blast-radius traversal.
type Impact struct {
	Key      entity.Key `json:"key"`
	Distance int        `json:"distance"`
}

// Radius is the result of BlastRadius and TransitiveClosure. Impacts are
// sorted by distance, then key.
type Radius struct {
	Origin    entity.Key `json:"origin"`
	MaxHops   int        `json:"maxHops,omitempty"`
	Impacts   []Impact   `json:"impacts"`
	Truncated bool       `json:"truncated,omitempty"`
}

// Keys returns the impacted keys in result order.
func (r *Radius) Keys() []entity.Key {
	out := make([]entity.Key, len(r.Impacts))
	for i, im := range r.Impacts {
		out[i] = im.Key
	}
	return out
}

// ForwardDependencies returns the targets of edges leaving key.
func (e *Engine) ForwardDependencies(ctx context.Context, key entity.Key, opts ...Option) ([]entity.Key, error) {
	return e.neighbors(ctx, "ForwardDependencies", key, true, opts)
}

// ReverseDependencies returns the sources of edges entering key.
func (e *Engine) ReverseDependencies(ctx context.Context, key entity.Key, opts ...Option) ([]entity.Key, error) {
	return e.neighbors(ctx, "ReverseDependencies", key, false, opts)
}

func (e *Engine) neighbors(ctx context.Context, queryType string, key entity.Key, forward bool, opts []Option) ([]entity.Key, error) {
	ctx, span := startQuerySpan(ctx, queryType, key.String())
	defer span.End()
	start := time.Now()

	g := newStoreGraph(e.store)
	ok, err := known(ctx, g, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &entity.NotFoundError{Key: key}
	}
	o := applyOptions(Options{}, opts)

	var edges []entity.DependencyEdge
	if forward {
		edges, err = g.out(ctx, key)
	} else {
		edges, err = g.in(ctx, key)
	}
	if err != nil {
		return nil, err
	}

	var keys []entity.Key
	seen := make(map[entity.Key]bool)
	for _, edge := range edges {
		next := edge.Source
		if forward {
			next = edge.Target
		}
		if seen[next] {
			continue
		}
		ok, err := follows(ctx, g, edge, next, o)
		if err != nil {
			return nil, err
		}
		if ok {
			seen[next] = true
			keys = append(keys, next)
		}
	}
	sortKeys(keys)

	setQuerySpanResult(span, len(keys), false)
	recordQueryMetrics(ctx, queryType, time.Since(start), len(keys), false)
	return keys, nil
}

// BlastRadius returns every entity that transitively depends on key within
// maxHops reverse edges, each with its minimal hop distance. maxHops <= 0
// uses the configured default.
func (e *Engine) BlastRadius(ctx context.Context, key entity.Key, maxHops int, opts ...Option) (*Radius, error) {
	if maxHops <= 0 {
		maxHops = e.cfg.DefaultHops
	}
	return e.radius(ctx, "BlastRadius", key, maxHops, applyOptions(Options{}, opts))
}

// TransitiveClosure is an unbounded BlastRadius. It stops early at the
// configured node and time limits, marking the result Truncated.
func (e *Engine) TransitiveClosure(ctx context.Context, key entity.Key, opts ...Option) (*Radius, error) {
	base := Options{MaxNodes: e.cfg.ClosureMaxNodes, Timeout: e.cfg.Timeout}
	return e.radius(ctx, "TransitiveClosure", key, 0, applyOptions(base, opts))
}

func (e *Engine) radius(ctx context.Context, queryType string, key entity.Key, maxHops int, o Options) (*Radius, error) {
	ctx, span := startQuerySpan(ctx, queryType, key.String())
	defer span.End()
	start := time.Now()

	r, err := reverseReach(ctx, newStoreGraph(e.store), key, maxHops, o)
	if err != nil {
		return nil, err
	}

	setQuerySpanResult(span, len(r.Impacts), r.Truncated)
	recordQueryMetrics(ctx, queryType, time.Since(start), len(r.Impacts), r.Truncated)
	e.logger.WithFields(logrus.Fields{
		"query":     queryType,
		"key":       key.String(),
		"impacted":  len(r.Impacts),
		"truncated": r.Truncated,
	}).Debug("radius computed")
	return r, nil
}

// reverseReach runs a breadth-first search over reverse edges of g from
// key. maxHops <= 0 is unbounded. The visited set guarantees termination on
// cyclic graphs; each node is reported once at its minimal distance.
func reverseReach(ctx context.Context, g adjacency, key entity.Key, maxHops int, o Options) (*Radius, error) {
	ok, err := known(ctx, g, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &entity.NotFoundError{Key: key}
	}

	bctx := ctx
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	r := &Radius{Origin: key, MaxHops: maxHops}
	visited := map[entity.Key]bool{key: true}
	frontier := []entity.Key{key}
	steps := 0

	for dist := 1; len(frontier) > 0 && (maxHops <= 0 || dist <= maxHops); dist++ {
		var next []entity.Key
		for _, k := range frontier {
			in, err := g.in(bctx, k)
			if err != nil {
				return timedOut(ctx, bctx, r, err)
			}
			for _, edge := range in {
				src := edge.Source
				if visited[src] {
					continue
				}
				ok, err := follows(bctx, g, edge, src, o)
				if err != nil {
					return timedOut(ctx, bctx, r, err)
				}
				if !ok {
					continue
				}
				if o.MaxNodes > 0 && len(r.Impacts) >= o.MaxNodes {
					r.Truncated = true
					sortImpacts(r.Impacts)
					return r, nil
				}
				visited[src] = true
				r.Impacts = append(r.Impacts, Impact{Key: src, Distance: dist})
				next = append(next, src)

				steps++
				if steps%contextCheckInterval == 0 {
					if err := bctx.Err(); err != nil {
						return timedOut(ctx, bctx, r, err)
					}
				}
			}
		}
		frontier = next
	}
	sortImpacts(r.Impacts)
	return r, nil
}

// timedOut turns a failure caused by the traversal's own timeout into a
// truncated result. Caller cancellation stays an error.
func timedOut(ctx, bctx context.Context, r *Radius, err error) (*Radius, error) {
	if ctx.Err() == nil && bctx.Err() != nil {
		r.Truncated = true
		sortImpacts(r.Impacts)
		return r, nil
	}
	return nil, err
}

// DanglingEdges returns every edge whose target is not a stored entity.
func (e *Engine) DanglingEdges(ctx context.Context) ([]*entity.DanglingEdgeError, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var out []*entity.DanglingEdgeError
	for _, edge := range snap.Edges() {
		if _, ok := snap.Entity(edge.Target); !ok {
			out = append(out, &entity.DanglingEdgeError{Edge: edge})
		}
	}
	return out, nil
}

// IsNotFound reports whether err is an unknown-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, entity.ErrEntityNotFound)
}

func sortImpacts(im []Impact) {
	sort.Slice(im, func(i, j int) bool {
		if im[i].Distance != im[j].Distance {
			return im[i].Distance < im[j].Distance
		}
		return im[i].Key.Less(im[j].Key)
	})
}
