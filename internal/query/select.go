package query

import (
	"context"
	"sort"
	"time"

	"github.com/dusk-indust/parseltongue/internal/entity"
	"github.com/dusk-indust/parseltongue/internal/graph"
)

// Predicate selects entities.
type Predicate func(e *entity.CodeEntity) bool

// Select returns every stored entity matching p, sorted by key, with fields
// removed according to proj. A nil predicate matches everything.
func (e *Engine) Select(ctx context.Context, p Predicate, proj graph.Projection) ([]entity.CodeEntity, error) {
	ctx, span := startQuerySpan(ctx, "Select", "")
	defer span.End()
	start := time.Now()

	// Predicates may inspect code, so load it and project afterwards.
	all, err := e.store.ListEntities(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []entity.CodeEntity
	for i := range all {
		ent := all[i]
		if p != nil && !p(&ent) {
			continue
		}
		proj.Apply(&ent)
		out = append(out, ent)
	}
	sortEntities(out)

	setQuerySpanResult(span, len(out), false)
	recordQueryMetrics(ctx, "Select", time.Since(start), len(out), false)
	return out, nil
}

// PendingOnly matches entities with a pending future action.
func PendingOnly() Predicate {
	return func(e *entity.CodeEntity) bool { return e.Temporal.Pending() }
}

// OfKind matches any of the given kinds.
func OfKind(kinds ...entity.Kind) Predicate {
	return func(e *entity.CodeEntity) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	}
}

// OfClass matches entities of class c.
func OfClass(c entity.EntityClass) Predicate {
	return func(e *entity.CodeEntity) bool { return e.Class == c }
}

// InFile matches entities declared in path.
func InFile(path string) Predicate {
	return func(e *entity.CodeEntity) bool { return e.FilePath == path }
}

// WithVisibility matches entities whose signature has visibility v.
func WithVisibility(v string) Predicate {
	return func(e *entity.CodeEntity) bool { return e.Signature.Visibility == v }
}

// And matches when every predicate matches.
func And(ps ...Predicate) Predicate {
	return func(e *entity.CodeEntity) bool {
		for _, p := range ps {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// Or matches when any predicate matches.
func Or(ps ...Predicate) Predicate {
	return func(e *entity.CodeEntity) bool {
		for _, p := range ps {
			if p(e) {
				return true
			}
		}
		return false
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(e *entity.CodeEntity) bool { return !p(e) }
}

func sortEntities(es []entity.CodeEntity) {
	sort.Slice(es, func(i, j int) bool { return es[i].Key.Less(es[j].Key) })
}
