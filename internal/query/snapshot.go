package query

import (
	"context"
	"sort"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
)

// Snapshot is an immutable adjacency index over one consistent read of a
// store. Entities are held without code.
type Snapshot struct {
	entities map[entity.Key]entity.CodeEntity
	edges    []entity.DependencyEdge
	out      map[entity.Key][]entity.DependencyEdge
	in       map[entity.Key][]entity.DependencyEdge
	keys     []entity.Key
}

// Load builds a snapshot from s.
func Load(ctx context.Context, s graph.Store) (*Snapshot, error) {
	entities, err := s.ListEntities(ctx, graph.OmitCode)
	if err != nil {
		return nil, err
	}
	edges, err := s.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(entities, edges), nil
}

// NewSnapshot indexes entities and edges. Duplicate edges collapse.
func NewSnapshot(entities []entity.CodeEntity, edges []entity.DependencyEdge) *Snapshot {
	snap := &Snapshot{
		entities: make(map[entity.Key]entity.CodeEntity, len(entities)),
		out:      make(map[entity.Key][]entity.DependencyEdge),
		in:       make(map[entity.Key][]entity.DependencyEdge),
	}
	for _, e := range entities {
		graph.OmitCode.Apply(&e)
		snap.entities[e.Key] = e
	}

	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		id := e.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		snap.edges = append(snap.edges, e)
		snap.out[e.Source] = append(snap.out[e.Source], e)
		snap.in[e.Target] = append(snap.in[e.Target], e)
	}
	for _, list := range snap.out {
		sortByTarget(list)
	}
	for _, list := range snap.in {
		sortBySource(list)
	}

	keys := make(map[entity.Key]bool, len(snap.entities))
	for k := range snap.entities {
		keys[k] = true
	}
	for _, e := range snap.edges {
		keys[e.Source] = true
		keys[e.Target] = true
	}
	snap.keys = make([]entity.Key, 0, len(keys))
	for k := range keys {
		snap.keys = append(snap.keys, k)
	}
	sortKeys(snap.keys)
	return snap
}

// With returns a new snapshot with upserts applied, the entities in drop
// removed together with their edges, and extra edges added.
func (s *Snapshot) With(upserts []entity.CodeEntity, drop []entity.Key, extra []entity.DependencyEdge) *Snapshot {
	dropped := make(map[entity.Key]bool, len(drop))
	for _, k := range drop {
		dropped[k] = true
	}

	entities := make([]entity.CodeEntity, 0, len(s.entities)+len(upserts))
	replaced := make(map[entity.Key]bool, len(upserts))
	for _, e := range upserts {
		replaced[e.Key] = true
	}
	for k, e := range s.entities {
		if !dropped[k] && !replaced[k] {
			entities = append(entities, e)
		}
	}
	for _, e := range upserts {
		if !dropped[e.Key] {
			entities = append(entities, e)
		}
	}

	edges := make([]entity.DependencyEdge, 0, len(s.edges)+len(extra))
	for _, e := range append(append([]entity.DependencyEdge(nil), s.edges...), extra...) {
		if !dropped[e.Source] && !dropped[e.Target] {
			edges = append(edges, e)
		}
	}
	return NewSnapshot(entities, edges)
}

// Entity returns the entity stored under k, without code.
func (s *Snapshot) Entity(k entity.Key) (entity.CodeEntity, bool) {
	e, ok := s.entities[k]
	return e, ok
}

// Known reports whether k is an entity or an endpoint of any edge.
func (s *Snapshot) Known(k entity.Key) bool {
	if _, ok := s.entities[k]; ok {
		return true
	}
	return len(s.out[k]) > 0 || len(s.in[k]) > 0
}

// Keys returns every entity key and edge endpoint, sorted.
func (s *Snapshot) Keys() []entity.Key { return s.keys }

// Edges returns every edge.
func (s *Snapshot) Edges() []entity.DependencyEdge { return s.edges }

// EntityCount returns the number of entities.
func (s *Snapshot) EntityCount() int { return len(s.entities) }

// Out returns the edges leaving k, sorted by target.
func (s *Snapshot) Out(k entity.Key) []entity.DependencyEdge { return s.out[k] }

// In returns the edges entering k, sorted by source.
func (s *Snapshot) In(k entity.Key) []entity.DependencyEdge { return s.in[k] }

// isTest reports whether k is a TEST entity. Unknown keys are not tests.
func (s *Snapshot) isTest(k entity.Key) bool {
	e, ok := s.entities[k]
	return ok && e.Class == entity.ClassTest
}

func sortKeys(keys []entity.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

func sortByTarget(es []entity.DependencyEdge) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Target != es[j].Target {
			return es[i].Target.Less(es[j].Target)
		}
		return es[i].Type < es[j].Type
	})
}

func sortBySource(es []entity.DependencyEdge) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Source != es[j].Source {
			return es[i].Source.Less(es[j].Source)
		}
		return es[i].Type < es[j].Type
	})
}
