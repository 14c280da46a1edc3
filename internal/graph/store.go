package graph

import (
	"context"
	"io"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Store is the persistence contract for the entity graph.
// Implementations: MemStore (testing), BadgerStore (default), SQLiteStore
// and KuzuStore (cgo).
// Every backend failure is returned as *entity.StoreError.
type Store interface {
	io.Closer

	// Schema setup: called once before any data is inserted. Idempotent.
	InitSchema(ctx context.Context) error

	// PutEntity validates e and replaces any record with the same key.
	PutEntity(ctx context.Context, e entity.CodeEntity) error

	// GetEntity returns *entity.NotFoundError when the key is absent.
	GetEntity(ctx context.Context, key entity.Key) (*entity.CodeEntity, error)

	// DeleteEntity removes the entity and every edge touching it. Deleting
	// an absent key is not an error.
	DeleteEntity(ctx context.Context, key entity.Key) error

	ListEntities(ctx context.Context, proj Projection) ([]entity.CodeEntity, error)

	// AddEdges inserts edges; duplicates of stored edges are ignored.
	// Targets need not exist.
	AddEdges(ctx context.Context, edges []entity.DependencyEdge) error

	ListEdges(ctx context.Context) ([]entity.DependencyEdge, error)
	EdgesFrom(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error)
	EdgesTo(ctx context.Context, key entity.Key) ([]entity.DependencyEdge, error)

	// CommitBatch writes upserts, deletes and edges in one atomic step.
	// Either every write lands or none does.
	CommitBatch(ctx context.Context, batch Batch) error

	// Reset destroys every entity and edge. There is no backup.
	Reset(ctx context.Context) error

	Stats(ctx context.Context) (*Stats, error)
}

// Projection selects fields a listing may leave empty. The zero value
// returns complete entities.
type Projection uint8

const (
	OmitCurrentCode Projection = 1 << iota
	OmitFutureCode

	OmitCode = OmitCurrentCode | OmitFutureCode
)

// Apply clears the projected-away fields of e in place.
func (p Projection) Apply(e *entity.CodeEntity) {
	if p&OmitCurrentCode != 0 {
		e.CurrentCode = nil
	}
	if p&OmitFutureCode != 0 {
		e.FutureCode = nil
	}
}

// Batch is one atomic unit of writes.
type Batch struct {
	Upserts []entity.CodeEntity
	Deletes []entity.Key
	Edges   []entity.DependencyEdge
}

// Empty reports whether b carries no writes.
func (b Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0 && len(b.Edges) == 0
}

// Validate checks every upsert and edge before anything is written.
func (b Batch) Validate() error {
	for i := range b.Upserts {
		if err := b.Upserts[i].Validate(); err != nil {
			return err
		}
	}
	for _, k := range b.Deletes {
		if k.IsZero() {
			return &entity.KeyError{Field: "delete key", Reason: "is zero"}
		}
	}
	return validateEdges(b.Edges)
}

func validateEdges(edges []entity.DependencyEdge) error {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes the stored graph.
type Stats struct {
	Backend        string                  `json:"backend"`
	EntityCount    int                     `json:"entityCount"`
	EdgeCount      int                     `json:"edgeCount"`
	PendingCount   int                     `json:"pendingCount"`
	EdgesByType    map[entity.EdgeType]int `json:"edgesByType,omitempty"`
	EntitiesByKind map[entity.Kind]int     `json:"entitiesByKind,omitempty"`
}

// computeStats derives Stats from full listings. Backends without native
// aggregation use it.
func computeStats(backend string, entities []entity.CodeEntity, edges []entity.DependencyEdge) *Stats {
	st := &Stats{
		Backend:        backend,
		EntityCount:    len(entities),
		EdgeCount:      len(edges),
		EdgesByType:    make(map[entity.EdgeType]int),
		EntitiesByKind: make(map[entity.Kind]int),
	}
	for i := range entities {
		st.EntitiesByKind[entities[i].Kind]++
		if entities[i].Temporal.Pending() {
			st.PendingCount++
		}
	}
	for _, e := range edges {
		st.EdgesByType[e.Type]++
	}
	return st
}
