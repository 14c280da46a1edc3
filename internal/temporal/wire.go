package temporal

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// BatchDoc is the JSON form of a batch, as read from files and tool calls.
// Keys and edge types are plain strings.
type BatchDoc struct {
	Policy  string      `json:"policy,omitempty" jsonschema:"conflict policy: fail-fast (default), use-latest, use-earliest or attempt-merge"`
	Changes []ChangeDoc `json:"changes" jsonschema:"the proposed changes, in proposal order"`
}

// ChangeDoc is the JSON form of one change. Edits and deletes name an
// existing Key; creates describe the entity with Kind, Name and FilePath.
type ChangeDoc struct {
	Action    string                     `json:"action" jsonschema:"create, edit or delete"`
	Key       string                     `json:"key,omitempty" jsonschema:"entity key, required for edit and delete"`
	Language  string                     `json:"language,omitempty" jsonschema:"language of a created entity"`
	Kind      string                     `json:"kind,omitempty" jsonschema:"kind of a created entity, e.g. function"`
	Name      string                     `json:"name,omitempty" jsonschema:"name of a created entity"`
	FilePath  string                     `json:"filePath,omitempty" jsonschema:"file of a created entity"`
	Signature *entity.InterfaceSignature `json:"signature,omitempty" jsonschema:"interface signature of a created entity"`
	Code      *string                    `json:"code,omitempty" jsonschema:"future source code, required for create and edit"`
	Edges     []EdgeDoc                  `json:"edges,omitempty" jsonschema:"dependency edges proposed with this change"`
}

// EdgeDoc is the JSON form of a proposed edge. An empty Source means the
// entity the change targets, which is how a create names its own key.
type EdgeDoc struct {
	Source string `json:"source,omitempty" jsonschema:"source key; empty means the changed entity"`
	Target string `json:"target" jsonschema:"target key"`
	Type   string `json:"type" jsonschema:"Calls, Uses, Implements, Extends or Contains"`
}

// DecodeBatch reads a BatchDoc. Unknown fields are rejected.
func DecodeBatch(r io.Reader) (*BatchDoc, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc BatchDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &doc, nil
}

// Resolve converts the document into a policy and changes.
func (d *BatchDoc) Resolve() (Policy, []Change, error) {
	policy, err := ParsePolicy(d.Policy)
	if err != nil {
		return "", nil, err
	}
	changes := make([]Change, 0, len(d.Changes))
	for i, cd := range d.Changes {
		c, err := cd.Change()
		if err != nil {
			return "", nil, fmt.Errorf("change %d: %w", i, err)
		}
		changes = append(changes, c)
	}
	return policy, changes, nil
}

// Change converts one change document.
func (d ChangeDoc) Change() (Change, error) {
	action, err := entity.ParseAction(strings.ToLower(strings.TrimSpace(d.Action)))
	if err != nil {
		return Change{}, err
	}
	c := Change{Action: action}
	if d.Code != nil {
		c.FutureCode = entity.Code(*d.Code)
	}
	switch action {
	case entity.ActionCreate:
		spec := CreateSpec{
			Language: entity.Language(d.Language),
			Kind:     entity.Kind(d.Kind),
			Name:     d.Name,
			FilePath: d.FilePath,
		}
		if d.Signature != nil {
			spec.Signature = *d.Signature
		}
		c.Spec = &spec
		if d.Key != "" {
			if c.Key, err = entity.ParseKey(d.Key); err != nil {
				return Change{}, err
			}
		}
	case entity.ActionEdit, entity.ActionDelete:
		if c.Key, err = entity.ParseKey(d.Key); err != nil {
			return Change{}, err
		}
	default:
		return Change{}, &entity.KeyError{Field: "action", Value: d.Action, Reason: "must be create, edit or delete"}
	}

	self, err := c.Target()
	if err != nil {
		return Change{}, err
	}
	for _, ed := range d.Edges {
		e, err := ed.edge(self)
		if err != nil {
			return Change{}, err
		}
		c.Edges = append(c.Edges, e)
	}
	return c, nil
}

func (d EdgeDoc) edge(self entity.Key) (entity.DependencyEdge, error) {
	src := self
	if d.Source != "" {
		k, err := entity.ParseKey(d.Source)
		if err != nil {
			return entity.DependencyEdge{}, err
		}
		src = k
	}
	dst, err := entity.ParseKey(d.Target)
	if err != nil {
		return entity.DependencyEdge{}, err
	}
	typ, ok := entity.ParseEdgeType(d.Type)
	if !ok {
		return entity.DependencyEdge{}, &entity.KeyError{Field: "edge type", Value: d.Type, Reason: "is not a known edge type"}
	}
	return entity.DependencyEdge{Source: src, Target: dst, Type: typ}, nil
}
