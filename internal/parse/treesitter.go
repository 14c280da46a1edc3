package parse

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// extractor visits nodes of one grammar. enter is called before a node's
// children are walked; returning ok pushes f for the duration of the
// subtree.
type extractor interface {
	enter(x *extraction, node *tree_sitter.Node) (f frame, ok bool)
	testFile(filePath string) bool
}

// TreeSitterParser implements the Parser interface using tree-sitter grammars.
// A new tree-sitter parser is created per Parse call, so one TreeSitterParser
// can serve concurrent Parse calls.
type TreeSitterParser struct {
	languages  map[entity.Language]*tree_sitter.Language
	tsx        *tree_sitter.Language
	extractors map[entity.Language]extractor
}

// NewTreeSitterParser creates a TreeSitterParser with Go, TypeScript, Python,
// and Rust grammars registered.
func NewTreeSitterParser() *TreeSitterParser {
	langs := map[entity.Language]*tree_sitter.Language{
		entity.LangGo:         tree_sitter.NewLanguage(tree_sitter_go.Language()),
		entity.LangTypeScript: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
		entity.LangPython:     tree_sitter.NewLanguage(tree_sitter_python.Language()),
		entity.LangRust:       tree_sitter.NewLanguage(tree_sitter_rust.Language()),
	}

	extractors := map[entity.Language]extractor{
		entity.LangGo:         goExtractor{},
		entity.LangTypeScript: tsExtractor{},
		entity.LangPython:     pyExtractor{},
		entity.LangRust:       rsExtractor{},
	}

	return &TreeSitterParser{
		languages:  langs,
		tsx:        tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
		extractors: extractors,
	}
}

// Parse extracts symbols and references from a single source file.
func (p *TreeSitterParser) Parse(ctx context.Context, filePath string, source []byte, lang entity.Language) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tsLang, ok := p.languages[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
	if lang == entity.LangTypeScript && strings.HasSuffix(filePath, ".tsx") {
		tsLang = p.tsx
	}

	ext, ok := p.extractors[lang]
	if !ok {
		return nil, fmt.Errorf("no extractor for language: %s", lang)
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tsLang); err != nil {
		return nil, fmt.Errorf("set language %s: %w", lang, err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned nil tree for %s", filePath)
	}
	defer tree.Close()

	x := &extraction{
		source: source,
		path:   filePath,
		test:   ext.testFile(filePath),
	}
	cursor := tree.RootNode().Walk()
	defer cursor.Close()
	x.walk(cursor, ext)

	return &Result{
		Path:       filePath,
		Language:   lang,
		LOC:        countLOC(source),
		TestFile:   x.test,
		Symbols:    x.symbols,
		References: x.refs,
		Imports:    dedupe(x.imports, nil),
	}, nil
}

// SupportedLanguages returns the languages this parser can handle.
func (p *TreeSitterParser) SupportedLanguages() []entity.Language {
	langs := make([]entity.Language, 0, len(p.languages))
	for l := range p.languages {
		langs = append(langs, l)
	}
	return langs
}

// Close is a no-op because parsers are created per Parse call.
func (p *TreeSitterParser) Close() error {
	return nil
}

// countLOC counts the number of lines in source by counting newline bytes
// and adding one for the final line if the source is non-empty.
func countLOC(source []byte) int {
	if len(source) == 0 {
		return 0
	}
	n := bytes.Count(source, []byte{'\n'})
	if source[len(source)-1] != '\n' {
		n++
	}
	return n
}

// --- Extraction state ---

// frame is one level of lexical nesting the walker keeps while inside a
// subtree. symbol indexes extraction.symbols, or is -1 for frames that only
// name a container (a Rust impl block) or mark test scope.
type frame struct {
	symbol    int
	container string
	line      int
	test      bool
}

type extraction struct {
	source  []byte
	path    string
	test    bool
	symbols []Symbol
	refs    []Reference
	imports []string
	stack   []frame
}

func (x *extraction) walk(cursor *tree_sitter.TreeCursor, ext extractor) {
	node := cursor.Node()
	f, pushed := ext.enter(x, node)
	if pushed {
		x.stack = append(x.stack, f)
	}

	if cursor.GotoFirstChild() {
		x.walk(cursor, ext)
		for cursor.GotoNextSibling() {
			x.walk(cursor, ext)
		}
		cursor.GotoParent()
	}

	if pushed {
		x.stack = x.stack[:len(x.stack)-1]
	}
}

// add records a symbol spanning node and returns a frame for its subtree.
func (x *extraction) add(node *tree_sitter.Node, name string, kind entity.Kind, sig *entity.InterfaceSignature, test bool) frame {
	class := entity.ClassCode
	if test || x.inTest() {
		class = entity.ClassTest
	}
	if sig != nil && sig.ModulePath == "" {
		sig.ModulePath = path.Dir(x.path)
	}
	start := startLine(node)
	x.symbols = append(x.symbols, Symbol{
		Name:      name,
		Kind:      kind,
		Lines:     entity.LineRange{Start: start, End: endLine(node)},
		Code:      node.Utf8Text(x.source),
		Signature: sig,
		Class:     class,
	})
	return frame{symbol: len(x.symbols) - 1, container: name, line: start, test: class == entity.ClassTest}
}

// enclosing returns the innermost symbol frame, if any.
func (x *extraction) enclosing() (Symbol, bool) {
	for i := len(x.stack) - 1; i >= 0; i-- {
		if idx := x.stack[i].symbol; idx >= 0 {
			return x.symbols[idx], true
		}
	}
	return Symbol{}, false
}

// container returns the name and line of the type directly enclosing the
// current node, for method naming.
func (x *extraction) container() (string, int, bool) {
	if len(x.stack) == 0 {
		return "", 0, false
	}
	top := x.stack[len(x.stack)-1]
	if top.container == "" {
		return "", 0, false
	}
	if top.symbol >= 0 {
		switch x.symbols[top.symbol].Kind {
		case entity.KindFunction, entity.KindMethod:
			return "", 0, false
		}
	}
	return top.container, top.line, true
}

// inFunction reports whether the walker is inside a function or method body.
// Definitions nested there are not symbols of their own.
func (x *extraction) inFunction() bool {
	s, ok := x.enclosing()
	return ok && (s.Kind == entity.KindFunction || s.Kind == entity.KindMethod)
}

func (x *extraction) inTest() bool {
	if x.test {
		return true
	}
	for _, f := range x.stack {
		if f.test {
			return true
		}
	}
	return false
}

// ref records a reference from the enclosing symbol, or from module scope.
func (x *extraction) ref(to string, typ entity.EdgeType) {
	from, ok := x.enclosing()
	if !ok {
		x.refFrom("", 0, to, typ)
		return
	}
	x.refFrom(from.Name, from.Lines.Start, to, typ)
}

func (x *extraction) refFrom(from string, line int, to string, typ entity.EdgeType) {
	to = strings.TrimSpace(to)
	if to == "" || to == from {
		return
	}
	x.refs = append(x.refs, Reference{From: from, FromLine: line, To: to, Type: typ})
}

func (x *extraction) importSpec(spec string) {
	if spec = strings.TrimSpace(spec); spec != "" {
		x.imports = append(x.imports, spec)
	}
}

// --- Node helpers ---

func startLine(node *tree_sitter.Node) int { return int(node.StartPosition().Row) + 1 }
func endLine(node *tree_sitter.Node) int   { return int(node.EndPosition().Row) + 1 }

// fieldText returns the text of node's named field, or "".
func fieldText(node *tree_sitter.Node, field string, source []byte) string {
	if child := node.ChildByFieldName(field); child != nil {
		return child.Utf8Text(source)
	}
	return ""
}

// collect appends the text of every descendant of node (node included)
// whose kind is in kinds. Descent stops at matches.
func collect(node *tree_sitter.Node, source []byte, kinds map[string]bool, out []string) []string {
	if node == nil {
		return out
	}
	if kinds[node.Kind()] {
		return append(out, node.Utf8Text(source))
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		out = collect(node.Child(i), source, kinds, out)
	}
	return out
}

// leadingComments joins the comment block directly above node. accept
// filters and strips individual comment texts.
func leadingComments(node *tree_sitter.Node, source []byte, accept func(string) (string, bool)) string {
	var lines []string
	next := startLine(node)
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		if !strings.Contains(prev.Kind(), "comment") || endLine(prev) < next-1 {
			break
		}
		text, ok := accept(prev.Utf8Text(source))
		if !ok {
			break
		}
		lines = append([]string{text}, lines...)
		next = startLine(prev)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// slashComment strips //, /// and /** */ markers.
func slashComment(text string) (string, bool) {
	switch {
	case strings.HasPrefix(text, "/*"):
		text = strings.TrimSuffix(strings.TrimPrefix(text, "/*"), "*/")
		var out []string
		for _, l := range strings.Split(text, "\n") {
			l = strings.TrimSpace(l)
			l = strings.TrimSpace(strings.TrimLeft(l, "*"))
			if l != "" {
				out = append(out, l)
			}
		}
		return strings.Join(out, "\n"), true
	case strings.HasPrefix(text, "//"):
		return strings.TrimSpace(strings.TrimLeft(text, "/")), true
	}
	return "", false
}

// baseTypeName reduces a type expression to its named type: pointers,
// references, generic arguments and lifetimes are stripped.
func baseTypeName(t string) string {
	t = strings.TrimSpace(t)
	t = strings.TrimLeft(t, "*&")
	t = strings.TrimPrefix(t, "mut ")
	if i := strings.IndexAny(t, "<["); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func dedupe(in []string, skip map[string]bool) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] || skip[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
