package entity

import "fmt"

// DependencyEdge is a directed, typed relationship from Source to Target.
// The pair (Source, Target, Type) is unique within a store.
type DependencyEdge struct {
	Source Key      `json:"source"`
	Target Key      `json:"target"`
	Type   EdgeType `json:"type"`
}

// Validate rejects zero endpoints and unknown edge types.
func (e DependencyEdge) Validate() error {
	if e.Source.IsZero() {
		return &KeyError{Field: "edge source", Reason: "is zero"}
	}
	if e.Target.IsZero() {
		return &KeyError{Field: "edge target", Reason: "is zero"}
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown edge type %q", string(e.Type))
	}
	return nil
}

// ID is the stable identity used for idempotent inserts. Encoded keys
// contain exactly four separators each, so the joined form is unambiguous.
func (e DependencyEdge) ID() string {
	return e.Source.String() + keySep + string(e.Type) + keySep + e.Target.String()
}

func (e DependencyEdge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", e.Source, e.Type, e.Target)
}

// Touches reports whether k is either endpoint.
func (e DependencyEdge) Touches(k Key) bool { return e.Source == k || e.Target == k }
