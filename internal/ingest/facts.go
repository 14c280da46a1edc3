// Package ingest turns parsed source facts into keyed entities and resolved
// dependency edges, and writes them to a graph store.
package ingest

import (
	"strings"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// EntityFact is one definition reported by a parser, before it has a key.
type EntityFact struct {
	Language    entity.Language           `json:"language"`
	Kind        entity.Kind               `json:"kind"`
	Name        string                    `json:"name"`
	FilePath    string                    `json:"filePath"`
	Lines       entity.LineRange          `json:"lines"`
	Signature   entity.InterfaceSignature `json:"signature"`
	CurrentCode string                    `json:"currentCode"`
	Class       entity.EntityClass        `json:"class,omitempty"`
}

// Key stamps the fact with its located key.
func (f EntityFact) Key() (entity.Key, error) {
	return entity.GenerateKey(f.Language, f.Kind, f.Name, f.FilePath, f.Lines)
}

// Ref names an entity by where it was seen. Line, when non-zero, is the
// start line of the named definition and disambiguates overloads.
type Ref struct {
	FilePath string `json:"filePath"`
	Name     string `json:"name"`
	Line     int    `json:"line,omitempty"`
}

// EdgeFact is a relationship between two refs, resolved to keys at ingest.
type EdgeFact struct {
	Source Ref             `json:"source"`
	Target Ref             `json:"target"`
	Type   entity.EdgeType `json:"type"`
}

// shortName reduces a qualified name (pkg.Type.Method, crate::mod::f) to
// its last segment.
func shortName(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
