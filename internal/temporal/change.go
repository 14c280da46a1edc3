// Package temporal records proposed future states of entities. Changes are
// planned as a batch, checked by an ordered list of rules and written with
// a single atomic store commit, or not at all.
package temporal

import (
	"fmt"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// CreateSpec describes an entity that does not exist yet. Its key is
// derived from FilePath, Name and Kind with the content-hash scheme.
type CreateSpec struct {
	Language  entity.Language           `json:"language,omitempty"`
	Kind      entity.Kind               `json:"kind"`
	Name      string                    `json:"name"`
	FilePath  string                    `json:"filePath"`
	Signature entity.InterfaceSignature `json:"signature,omitempty"`
	Class     entity.EntityClass        `json:"class,omitempty"`
}

// Key returns the content-hash key the created entity will carry.
func (s CreateSpec) Key() (entity.Key, error) {
	return entity.GenerateKeyForNew(s.FilePath, s.Name, s.Kind)
}

// Change is one proposed action on one entity. Edges are proposed
// dependency edges persisted together with the batch.
type Change struct {
	Action     entity.Action           `json:"action"`
	Key        entity.Key              `json:"key,omitempty"`
	Spec       *CreateSpec             `json:"spec,omitempty"`
	FutureCode *string                 `json:"futureCode,omitempty"`
	Edges      []entity.DependencyEdge `json:"edges,omitempty"`
}

// Create proposes a new entity.
func Create(spec CreateSpec, code string) Change {
	return Change{Action: entity.ActionCreate, Spec: &spec, FutureCode: entity.Code(code)}
}

// Edit proposes new code for an existing entity.
func Edit(key entity.Key, code string) Change {
	return Change{Action: entity.ActionEdit, Key: key, FutureCode: entity.Code(code)}
}

// Delete proposes removing an existing entity.
func Delete(key entity.Key) Change {
	return Change{Action: entity.ActionDelete, Key: key}
}

// WithEdges returns c with additional proposed edges.
func (c Change) WithEdges(edges ...entity.DependencyEdge) Change {
	c.Edges = append(append([]entity.DependencyEdge(nil), c.Edges...), edges...)
	return c
}

// Target resolves the key the change applies to. A create without an
// explicit key uses the key derived from its spec.
func (c Change) Target() (entity.Key, error) {
	if !c.Key.IsZero() {
		return c.Key, nil
	}
	if c.Action == entity.ActionCreate && c.Spec != nil {
		return c.Spec.Key()
	}
	return entity.Key{}, &entity.KeyError{Field: "change key", Reason: fmt.Sprintf("missing for %s", actionName(c.Action))}
}

func (c Change) String() string {
	k, err := c.Target()
	if err != nil {
		return actionName(c.Action) + " <invalid>"
	}
	return actionName(c.Action) + " " + k.String()
}

func actionName(a entity.Action) string {
	if a == entity.ActionNone {
		return "none"
	}
	return string(a)
}
