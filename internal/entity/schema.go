package entity

import "strings"

// --- Enums ---

// Language identifies the source language of an entity.
type Language string

const (
	LangGo         Language = "go"
	LangRust       Language = "rust"
	LangPython     Language = "python"
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
)

// Kind classifies a code entity.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindTrait     Kind = "trait"
	KindInterface Kind = "interface"
	KindImpl      Kind = "impl"
	KindModule    Kind = "module"
	KindMacro     Kind = "macro"
	KindClass     Kind = "class"
	KindType      Kind = "type"
	KindVariable  Kind = "variable"
	KindConstant  Kind = "constant"
	KindUnknown   Kind = "unknown"
)

// ExternalPath is the pseudo file path of placeholder keys minted for edge
// targets that resolve to nothing in the repository.
const ExternalPath = "<external>"

// EntityClass separates production code from test code. Analysis excludes
// TEST entities unless asked otherwise.
type EntityClass string

const (
	ClassCode EntityClass = "CODE"
	ClassTest EntityClass = "TEST"
)

// EdgeType classifies a directed relationship between two entities.
type EdgeType string

const (
	EdgeCalls      EdgeType = "Calls"
	EdgeUses       EdgeType = "Uses"
	EdgeImplements EdgeType = "Implements"
	EdgeExtends    EdgeType = "Extends"
	EdgeContains   EdgeType = "Contains"
)

// EdgeTypes lists every valid edge type.
var EdgeTypes = []EdgeType{EdgeCalls, EdgeUses, EdgeImplements, EdgeExtends, EdgeContains}

// Valid reports whether t is one of EdgeTypes.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeCalls, EdgeUses, EdgeImplements, EdgeExtends, EdgeContains:
		return true
	}
	return false
}

// ParseEdgeType accepts edge type names case-insensitively.
func ParseEdgeType(s string) (EdgeType, bool) {
	for _, t := range EdgeTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// --- Models ---

// Parameter is one formal parameter of an interface signature.
type Parameter struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// InterfaceSignature describes an entity's external contract independently
// of its body text.
type InterfaceSignature struct {
	Visibility    string      `json:"visibility,omitempty"`
	Parameters    []Parameter `json:"parameters,omitempty"`
	ReturnType    string      `json:"returnType,omitempty"`
	Generics      []string    `json:"generics,omitempty"`
	ModulePath    string      `json:"modulePath,omitempty"`
	Documentation string      `json:"documentation,omitempty"`
}

// Visibility values produced by the parsers.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)
