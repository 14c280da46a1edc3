// Package parse turns source files into symbols and name-level references
// using tree-sitter grammars. It knows nothing about keys or stores; the
// ingest package resolves names into graph edges.
package parse

import (
	"context"
	"path"
	"strings"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// Symbol is one named definition extracted from a file. Methods carry their
// owner in the name (Type.Method, or Type::method for Rust).
type Symbol struct {
	Name      string                     `json:"name"`
	Kind      entity.Kind                `json:"kind"`
	Lines     entity.LineRange           `json:"lines"`
	Code      string                     `json:"code"`
	Signature *entity.InterfaceSignature `json:"signature,omitempty"`
	Class     entity.EntityClass         `json:"class"`
}

// Reference is an unresolved relationship by name. From names the symbol
// the reference originates in; an empty From means module scope. FromLine
// is the start line of From when it is defined in the same file, 0 when the
// parser only knows its name (a Go receiver type declared elsewhere).
type Reference struct {
	From     string          `json:"from,omitempty"`
	FromLine int             `json:"fromLine,omitempty"`
	To       string          `json:"to"`
	Type     entity.EdgeType `json:"type"`
}

// Result holds everything extracted from a single file. Imports are raw
// import specifiers as written in the source. TestFile is set when the file
// itself is test code by its language's naming convention.
type Result struct {
	Path       string          `json:"path"`
	Language   entity.Language `json:"language"`
	LOC        int             `json:"loc"`
	TestFile   bool            `json:"testFile,omitempty"`
	Symbols    []Symbol        `json:"symbols"`
	References []Reference     `json:"references"`
	Imports    []string        `json:"imports,omitempty"`
}

// Parser extracts structural information from source files.
type Parser interface {
	// Parse extracts symbols and references from a single source file.
	// source is the file content. lang determines which grammar to use.
	Parse(ctx context.Context, path string, source []byte, lang entity.Language) (*Result, error)

	// SupportedLanguages returns the languages this parser can handle.
	SupportedLanguages() []entity.Language

	// Close releases parser resources.
	Close() error
}

var extLanguages = map[string]entity.Language{
	".go":  entity.LangGo,
	".py":  entity.LangPython,
	".rs":  entity.LangRust,
	".ts":  entity.LangTypeScript,
	".tsx": entity.LangTypeScript,
}

// LanguageForPath maps a file extension to a language. Declaration files
// (.d.ts) are skipped.
func LanguageForPath(p string) (entity.Language, bool) {
	if strings.HasSuffix(p, ".d.ts") {
		return "", false
	}
	lang, ok := extLanguages[strings.ToLower(path.Ext(p))]
	return lang, ok
}
