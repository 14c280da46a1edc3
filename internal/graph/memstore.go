package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

const backendMemory = "memory"

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
// Records are cloned on the way in and out so callers never share memory
// with the store.
type MemStore struct {
	mu       sync.RWMutex
	entities map[entity.Key]entity.CodeEntity
	edges    map[string]entity.DependencyEdge // key: DependencyEdge.ID
	out      map[entity.Key]map[string]struct{}
	in       map[entity.Key]map[string]struct{}
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	m := &MemStore{}
	m.clear()
	return m
}

func (m *MemStore) clear() {
	m.entities = make(map[entity.Key]entity.CodeEntity)
	m.edges = make(map[string]entity.DependencyEdge)
	m.out = make(map[entity.Key]map[string]struct{})
	m.in = make(map[entity.Key]map[string]struct{})
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// PutEntity stores a validated copy of e.
func (m *MemStore) PutEntity(ctx context.Context, e entity.CodeEntity) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendMemory, "put entity", err)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.Key] = e.Clone()
	return nil
}

// GetEntity returns a copy of the stored entity.
func (m *MemStore) GetEntity(ctx context.Context, key entity.Key) (*entity.CodeEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.WrapStore(backendMemory, "get entity", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[key]
	if !ok {
		return nil, &entity.NotFoundError{Key: key}
	}
	c := e.Clone()
	return &c, nil
}

// DeleteEntity removes the entity and its edges in both directions.
func (m *MemStore) DeleteEntity(ctx context.Context, key entity.Key) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendMemory, "delete entity", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

func (m *MemStore) deleteLocked(key entity.Key) {
	delete(m.entities, key)
	for id := range m.out[key] {
		m.removeEdgeLocked(id)
	}
	for id := range m.in[key] {
		m.removeEdgeLocked(id)
	}
}

func (m *MemStore) removeEdgeLocked(id string) {
	e, ok := m.edges[id]
	if !ok {
		return
	}
	delete(m.edges, id)
	delete(m.out[e.Source], id)
	if len(m.out[e.Source]) == 0 {
		delete(m.out, e.Source)
	}
	delete(m.in[e.Target], id)
	if len(m.in[e.Target]) == 0 {
		delete(m.in, e.Target)
	}
}

// ListEntities returns all entities ordered by key.
func (m *MemStore) ListEntities(ctx context.Context, proj Projection) ([]entity.CodeEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.WrapStore(backendMemory, "list entities", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.CodeEntity, 0, len(m.entities))
	for _, e := range m.entities {
		c := e.Clone()
		proj.Apply(&c)
		out = append(out, c)
	}
	sortEntities(out)
	return out, nil
}

// AddEdges inserts edges, ignoring ones already present.
func (m *MemStore) AddEdges(ctx context.Context, edges []entity.DependencyEdge) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendMemory, "add edges", err)
	}
	if err := validateEdges(edges); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addEdgesLocked(edges)
	return nil
}

func (m *MemStore) addEdgesLocked(edges []entity.DependencyEdge) {
	for _, e := range edges {
		id := e.ID()
		if _, ok := m.edges[id]; ok {
			continue
		}
		m.edges[id] = e
		if m.out[e.Source] == nil {
			m.out[e.Source] = make(map[string]struct{})
		}
		m.out[e.Source][id] = struct{}{}
		if m.in[e.Target] == nil {
			m.in[e.Target] = make(map[string]struct{})
		}
		m.in[e.Target][id] = struct{}{}
	}
}

// ListEdges returns every edge ordered by ID.
func (m *MemStore) ListEdges(ctx context.Context) ([]entity.DependencyEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.WrapStore(backendMemory, "list edges", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entity.DependencyEdge, 0, len(m.edges))
	for _, e := range m.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out, nil
}

// EdgesFrom returns edges whose source is key.
func (m *MemStore) EdgesFrom(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return m.adjacent(ctx, m.out, key)
}

// EdgesTo returns edges whose target is key.
func (m *MemStore) EdgesTo(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error) {
	return m.adjacent(ctx, m.in, key)
}

func (m *MemStore) adjacent(ctx context.Context, index map[entity.Key]map[string]struct{}, key entity.Key) ([]entity.DependencyEdge, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.WrapStore(backendMemory, "adjacent edges", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := index[key]
	out := make([]entity.DependencyEdge, 0, len(ids))
	for id := range ids {
		out = append(out, m.edges[id])
	}
	sortEdges(out)
	return out, nil
}

// CommitBatch validates the whole batch before touching any map, then
// applies it under a single write lock.
func (m *MemStore) CommitBatch(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendMemory, "commit batch", err)
	}
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range b.Deletes {
		m.deleteLocked(k)
	}
	for i := range b.Upserts {
		m.entities[b.Upserts[i].Key] = b.Upserts[i].Clone()
	}
	m.addEdgesLocked(b.Edges)
	return nil
}

// Reset drops all entities and edges.
func (m *MemStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return entity.WrapStore(backendMemory, "reset", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
	return nil
}

// Stats returns counts of entities, edges and pending changes.
func (m *MemStore) Stats(ctx context.Context) (*Stats, error) {
	entities, err := m.ListEntities(ctx, OmitCode)
	if err != nil {
		return nil, err
	}
	edges, err := m.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	return computeStats(backendMemory, entities, edges), nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}

// sortEntities orders entities by key string.
func sortEntities(es []entity.CodeEntity) {
	sort.Slice(es, func(i, j int) bool { return es[i].Key.Less(es[j].Key) })
}

// sortEdges orders edges by ID.
func sortEdges(es []entity.DependencyEdge) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID() < es[j].ID() })
}
