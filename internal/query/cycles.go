package query

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Cycle is one strongly connected component with more than one member, or a
// single entity with an edge to itself.
type Cycle struct {
	Keys     []entity.Key `json:"keys"`
	SelfLoop bool         `json:"selfLoop,omitempty"`
}

// Contains reports whether k is a member of the cycle.
func (c Cycle) Contains(k entity.Key) bool {
	for _, m := range c.Keys {
		if m == k {
			return true
		}
	}
	return false
}

// DetectCycles runs Tarjan's SCC over the whole graph, or over the subgraph
// forward-reachable from seeds when any are given. Seeded detection reads
// only the reachable nodes.
func (e *Engine) DetectCycles(ctx context.Context, seeds []entity.Key, opts ...Option) ([]Cycle, error) {
	ctx, span := startQuerySpan(ctx, "DetectCycles", "")
	defer span.End()
	start := time.Now()

	var (
		cycles []Cycle
		err    error
	)
	if len(seeds) == 0 {
		var snap *Snapshot
		if snap, err = e.Snapshot(ctx); err != nil {
			return nil, err
		}
		cycles, err = FindCycles(ctx, snap, nil, opts...)
	} else {
		cycles, err = findCycles(ctx, newStoreGraph(e.store), seeds, applyOptions(Options{}, opts))
	}
	if err != nil {
		return nil, err
	}

	setQuerySpanResult(span, len(cycles), false)
	recordQueryMetrics(ctx, "DetectCycles", time.Since(start), len(cycles), false)
	e.logger.WithFields(logrus.Fields{
		"seeds":  len(seeds),
		"cycles": len(cycles),
	}).Debug("cycle detection finished")
	return cycles, nil
}

// HasCycle reports whether any cycle is reachable from seeds, or exists at
// all when seeds is empty.
func (e *Engine) HasCycle(ctx context.Context, seeds []entity.Key, opts ...Option) (bool, error) {
	cycles, err := e.DetectCycles(ctx, seeds, opts...)
	if err != nil {
		return false, err
	}
	return len(cycles) > 0, nil
}

// PlannedCycles runs seeded cycle detection over the store as it will be
// once upserts and extra edges land. Entities with no future state are
// left out together with their edges. No seeds means no cycles.
func (e *Engine) PlannedCycles(ctx context.Context, upserts []entity.CodeEntity, extra []entity.DependencyEdge, seeds []entity.Key, opts ...Option) ([]Cycle, error) {
	g := newPlannedGraph(newStoreGraph(e.store), upserts, extra)
	return findCycles(ctx, g, seeds, applyOptions(Options{}, opts))
}

// tarjanFrame is one entry of the explicit call stack replacing recursion.
type tarjanFrame struct {
	node      entity.Key
	edges     []entity.DependencyEdge
	edgeIndex int
	phase     int // 0=init, 1=process edges, 2=post-child, 3=finalize
	child     entity.Key
}

// FindCycles runs an iterative Tarjan SCC over snap. Seeds unknown to the
// snapshot are ignored. Cycles are returned with sorted members, ordered by
// their first member.
func FindCycles(ctx context.Context, snap *Snapshot, seeds []entity.Key, opts ...Option) ([]Cycle, error) {
	roots := seeds
	if len(roots) == 0 {
		roots = snap.Keys()
	}
	return findCycles(ctx, snapshotGraph{snap}, roots, applyOptions(Options{}, opts))
}

func findCycles(ctx context.Context, g adjacency, roots []entity.Key, o Options) ([]Cycle, error) {
	var (
		index   = 0
		indexOf = make(map[entity.Key]int)
		lowLink = make(map[entity.Key]int)
		onStack = make(map[entity.Key]bool)
		stack   []entity.Key
		cycles  []Cycle
		steps   int
	)

	visit := func(root entity.Key) error {
		callStack := []tarjanFrame{{node: root}}
		for len(callStack) > 0 {
			f := &callStack[len(callStack)-1]
			switch f.phase {
			case 0:
				indexOf[f.node] = index
				lowLink[f.node] = index
				index++
				stack = append(stack, f.node)
				onStack[f.node] = true
				out, err := g.out(ctx, f.node)
				if err != nil {
					return err
				}
				f.edges = out
				f.phase = 1

				steps++
				if steps%contextCheckInterval == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

			case 1:
				pushed := false
				for f.edgeIndex < len(f.edges) {
					edge := f.edges[f.edgeIndex]
					f.edgeIndex++
					ok, err := follows(ctx, g, edge, edge.Target, o)
					if err != nil {
						return err
					}
					if !ok {
						continue
					}
					w := edge.Target
					if _, seen := indexOf[w]; !seen {
						f.phase = 2
						f.child = w
						callStack = append(callStack, tarjanFrame{node: w})
						pushed = true
						break
					}
					if onStack[w] && indexOf[w] < lowLink[f.node] {
						lowLink[f.node] = indexOf[w]
					}
				}
				if !pushed {
					f.phase = 3
				}

			case 2:
				if lowLink[f.child] < lowLink[f.node] {
					lowLink[f.node] = lowLink[f.child]
				}
				f.phase = 1

			case 3:
				if lowLink[f.node] == indexOf[f.node] {
					var members []entity.Key
					for {
						w := stack[len(stack)-1]
						stack = stack[:len(stack)-1]
						onStack[w] = false
						members = append(members, w)
						if w == f.node {
							break
						}
					}
					c, ok, err := componentCycle(ctx, g, members, f.edges, o)
					if err != nil {
						return err
					}
					if ok {
						cycles = append(cycles, c)
					}
				}
				callStack = callStack[:len(callStack)-1]
			}
		}
		return nil
	}

	for _, k := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, seen := indexOf[k]; seen {
			continue
		}
		ok, err := known(ctx, g, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !o.IncludeTests {
			test, err := isTest(ctx, g, k)
			if err != nil {
				return nil, err
			}
			if test {
				continue
			}
		}
		if err := visit(k); err != nil {
			return nil, err
		}
	}

	sortCycles(cycles)
	return cycles, nil
}

// componentCycle turns an SCC into a Cycle when it is one: more than one
// member, or a single member with a followed self edge. out holds the
// edges of a single member.
func componentCycle(ctx context.Context, g adjacency, members []entity.Key, out []entity.DependencyEdge, o Options) (Cycle, bool, error) {
	if len(members) > 1 {
		sortKeys(members)
		return Cycle{Keys: members}, true, nil
	}
	k := members[0]
	for _, edge := range out {
		if edge.Target != k {
			continue
		}
		ok, err := follows(ctx, g, edge, k, o)
		if err != nil || ok {
			return Cycle{Keys: members, SelfLoop: ok}, ok, err
		}
	}
	return Cycle{}, false, nil
}

func sortCycles(cs []Cycle) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Keys[0].Less(cs[j].Keys[0]) })
}
