package parse

import (
	"path"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// tsExtractor extracts symbols and references from TypeScript source files.
type tsExtractor struct{}

var tsTypeKinds = map[string]bool{"type_identifier": true, "nested_type_identifier": true}

var tsNamedKinds = map[string]entity.Kind{
	"function_declaration":           entity.KindFunction,
	"generator_function_declaration": entity.KindFunction,
	"class_declaration":              entity.KindClass,
	"abstract_class_declaration":     entity.KindClass,
	"interface_declaration":          entity.KindInterface,
	"type_alias_declaration":         entity.KindType,
	"enum_declaration":               entity.KindEnum,
}

var tsBuiltinTypes = map[string]bool{
	"Array": true, "Promise": true, "Record": true, "Partial": true, "Readonly": true,
	"Map": true, "Set": true, "Date": true, "Error": true, "Omit": true, "Pick": true,
}

func (tsExtractor) testFile(filePath string) bool {
	base := path.Base(filePath)
	for _, suffix := range []string{".test.ts", ".spec.ts", ".test.tsx", ".spec.tsx"} {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return strings.Contains(filePath, "__tests__/")
}

func (e tsExtractor) enter(x *extraction, node *tree_sitter.Node) (frame, bool) {
	kind := node.Kind()
	switch kind {
	case "method_definition", "abstract_method_signature":
		owner, line, ok := x.container()
		name := fieldText(node, "name", x.source)
		if !ok || name == "" {
			return frame{}, false
		}
		qualified := owner + "." + name
		sig := e.signature(node, x.source)
		sig.Visibility = tsMemberVisibility(node, x.source)
		f := x.add(node, qualified, entity.KindMethod, sig, false)
		x.refFrom(owner, line, qualified, entity.EdgeContains)
		e.uses(x, node, f)
		return f, true

	case "variable_declarator":
		// const handler = () => { ... }
		if x.inFunction() {
			return frame{}, false
		}
		value := node.ChildByFieldName("value")
		if value == nil || (value.Kind() != "arrow_function" && value.Kind() != "function_expression") {
			return frame{}, false
		}
		name := fieldText(node, "name", x.source)
		if name == "" {
			return frame{}, false
		}
		sig := e.signature(value, x.source)
		sig.Visibility = tsVisibility(node.Parent())
		sig.Documentation = leadingComments(tsDocAnchor(node.Parent()), x.source, tsDocComment)
		f := x.add(node, name, entity.KindFunction, sig, false)
		e.uses(x, value, f)
		return f, true

	case "import_statement":
		x.importSpec(strings.Trim(fieldText(node, "source", x.source), "\"'`"))

	case "call_expression":
		fnNode := node.ChildByFieldName("function")
		if fnNode == nil {
			return frame{}, false
		}
		switch fnNode.Kind() {
		case "identifier", "member_expression":
			x.ref(fnNode.Utf8Text(x.source), entity.EdgeCalls)
		}

	case "new_expression":
		if ctor := node.ChildByFieldName("constructor"); ctor != nil && ctor.Kind() == "identifier" {
			if name := ctor.Utf8Text(x.source); !tsBuiltinTypes[name] {
				x.ref(name, entity.EdgeCalls)
			}
		}

	default:
		symKind, ok := tsNamedKinds[kind]
		if !ok || x.inFunction() {
			return frame{}, false
		}
		name := fieldText(node, "name", x.source)
		if name == "" {
			return frame{}, false
		}
		sig := e.signature(node, x.source)
		sig.Visibility = tsVisibility(node)
		f := x.add(node, name, symKind, sig, false)
		switch symKind {
		case entity.KindFunction:
			e.uses(x, node, f)
		case entity.KindClass, entity.KindInterface:
			e.heritage(x, node, f)
		}
		return f, true
	}
	return frame{}, false
}

// heritage records Extends and Implements references of a class or
// interface declaration.
func (e tsExtractor) heritage(x *extraction, node *tree_sitter.Node, f frame) {
	name := x.symbols[f.symbol].Name
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "class_heritage":
			for j := uint(0); j < child.ChildCount(); j++ {
				clause := child.Child(j)
				if clause == nil {
					continue
				}
				switch clause.Kind() {
				case "extends_clause":
					for _, t := range tsClauseTypes(clause, x.source) {
						x.refFrom(name, f.line, t, entity.EdgeExtends)
					}
				case "implements_clause":
					for _, t := range tsClauseTypes(clause, x.source) {
						x.refFrom(name, f.line, t, entity.EdgeImplements)
					}
				}
			}
		case "extends_type_clause":
			for _, t := range tsClauseTypes(child, x.source) {
				x.refFrom(name, f.line, t, entity.EdgeExtends)
			}
		}
	}
}

// tsClauseTypes returns the base names listed in an extends or implements
// clause, generic arguments stripped.
func tsClauseTypes(clause *tree_sitter.Node, source []byte) []string {
	var out []string
	for i := uint(0); i < clause.ChildCount(); i++ {
		c := clause.Child(i)
		if c == nil || !c.IsNamed() || c.Kind() == "type_arguments" {
			continue
		}
		out = append(out, baseTypeName(c.Utf8Text(source)))
	}
	return dedupe(out, nil)
}

func (e tsExtractor) signature(node *tree_sitter.Node, source []byte) *entity.InterfaceSignature {
	sig := &entity.InterfaceSignature{
		ReturnType:    strings.TrimSpace(strings.TrimPrefix(fieldText(node, "return_type", source), ":")),
		Documentation: leadingComments(tsDocAnchor(node), source, tsDocComment),
	}
	if tp := node.ChildByFieldName("type_parameters"); tp != nil {
		for i := uint(0); i < tp.ChildCount(); i++ {
			if c := tp.Child(i); c != nil && c.Kind() == "type_parameter" {
				sig.Generics = append(sig.Generics, c.Utf8Text(source))
			}
		}
	}
	params := node.ChildByFieldName("parameters")
	if params == nil {
		return sig
	}
	for i := uint(0); i < params.ChildCount(); i++ {
		p := params.Child(i)
		if p == nil || (p.Kind() != "required_parameter" && p.Kind() != "optional_parameter") {
			continue
		}
		name := fieldText(p, "pattern", source)
		if p.Kind() == "optional_parameter" {
			name += "?"
		}
		sig.Parameters = append(sig.Parameters, entity.Parameter{
			Name: name,
			Type: strings.TrimSpace(strings.TrimPrefix(fieldText(p, "type", source), ":")),
		})
	}
	return sig
}

// uses records Uses references for type names in parameters and return type.
func (e tsExtractor) uses(x *extraction, node *tree_sitter.Node, f frame) {
	var used []string
	used = collect(node.ChildByFieldName("parameters"), x.source, tsTypeKinds, used)
	used = collect(node.ChildByFieldName("return_type"), x.source, tsTypeKinds, used)
	from := x.symbols[f.symbol]
	for _, t := range dedupe(used, tsBuiltinTypes) {
		x.refFrom(from.Name, from.Lines.Start, t, entity.EdgeUses)
	}
}

// tsDocAnchor is the node a doc comment precedes: the export statement for
// exported declarations.
func tsDocAnchor(node *tree_sitter.Node) *tree_sitter.Node {
	if parent := node.Parent(); parent != nil && parent.Kind() == "export_statement" {
		return parent
	}
	return node
}

func tsDocComment(text string) (string, bool) {
	if strings.HasPrefix(text, "/**") {
		return slashComment(text)
	}
	return "", false
}

// tsVisibility treats declarations inside an export statement as public.
func tsVisibility(node *tree_sitter.Node) string {
	if node != nil {
		if parent := node.Parent(); parent != nil && parent.Kind() == "export_statement" {
			return entity.VisibilityPublic
		}
	}
	return entity.VisibilityPrivate
}

func tsMemberVisibility(node *tree_sitter.Node, source []byte) string {
	for i := uint(0); i < node.ChildCount(); i++ {
		c := node.Child(i)
		if c != nil && c.Kind() == "accessibility_modifier" {
			if m := c.Utf8Text(source); m == "private" || m == "protected" {
				return entity.VisibilityPrivate
			}
		}
	}
	if strings.HasPrefix(fieldText(node, "name", source), "#") {
		return entity.VisibilityPrivate
	}
	return entity.VisibilityPublic
}
