package parse

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// rsExtractor extracts symbols and references from Rust source files.
type rsExtractor struct{}

var rsTypeKinds = map[string]bool{"type_identifier": true, "scoped_type_identifier": true}

var rsStdTypes = map[string]bool{
	"Self": true, "String": true, "Vec": true, "Option": true, "Result": true,
	"Box": true, "Rc": true, "Arc": true, "HashMap": true, "HashSet": true,
	"BTreeMap": true, "BTreeSet": true, "Cow": true,
}

var rsItemKinds = map[string]entity.Kind{
	"struct_item":      entity.KindStruct,
	"enum_item":        entity.KindEnum,
	"union_item":       entity.KindStruct,
	"trait_item":       entity.KindTrait,
	"type_item":        entity.KindType,
	"const_item":       entity.KindConstant,
	"static_item":      entity.KindVariable,
	"macro_definition": entity.KindMacro,
}

func (rsExtractor) testFile(filePath string) bool {
	return strings.HasPrefix(filePath, "tests/") || strings.Contains(filePath, "/tests/")
}

func (e rsExtractor) enter(x *extraction, node *tree_sitter.Node) (frame, bool) {
	kind := node.Kind()
	switch kind {
	case "function_item":
		if x.inFunction() {
			return frame{}, false
		}
		name := fieldText(node, "name", x.source)
		if name == "" {
			return frame{}, false
		}
		sig := e.signature(node, x.source)
		test := rsHasAttribute(node, x.source, "test")
		var f frame
		if owner, line, ok := x.container(); ok {
			qualified := owner + "::" + name
			f = x.add(node, qualified, entity.KindMethod, sig, test)
			x.refFrom(owner, line, qualified, entity.EdgeContains)
		} else {
			f = x.add(node, name, entity.KindFunction, sig, test)
		}
		e.uses(x, node, f, "parameters", "return_type")
		return f, true

	case "impl_item":
		typ := baseTypeName(fieldText(node, "type", x.source))
		if typ == "" {
			return frame{}, false
		}
		if trait := baseTypeName(fieldText(node, "trait", x.source)); trait != "" {
			x.refFrom(typ, 0, trait, entity.EdgeImplements)
		}
		return frame{symbol: -1, container: typ}, true

	case "mod_item":
		if rsHasAttribute(node, x.source, "cfg(test)") {
			return frame{symbol: -1, test: true}, true
		}

	case "use_declaration":
		x.importSpec(fieldText(node, "argument", x.source))

	case "call_expression":
		fnNode := node.ChildByFieldName("function")
		if fnNode == nil {
			return frame{}, false
		}
		switch fnNode.Kind() {
		case "identifier", "scoped_identifier", "field_expression":
			x.ref(fnNode.Utf8Text(x.source), entity.EdgeCalls)
		}

	default:
		itemKind, ok := rsItemKinds[kind]
		if !ok || x.inFunction() {
			return frame{}, false
		}
		name := fieldText(node, "name", x.source)
		if name == "" {
			return frame{}, false
		}
		sig := &entity.InterfaceSignature{
			Visibility:    rsVisibility(node),
			Generics:      rsGenerics(node, x.source),
			Documentation: leadingComments(node, x.source, rsDocComment),
		}
		if kind == "const_item" || kind == "static_item" {
			sig.ReturnType = fieldText(node, "type", x.source)
		}
		f := x.add(node, name, itemKind, sig, false)
		e.uses(x, node, f, "body", "type")
		if kind == "trait_item" {
			// Default methods inside the trait body belong to the trait.
			return f, true
		}
	}
	return frame{}, false
}

func (e rsExtractor) signature(node *tree_sitter.Node, source []byte) *entity.InterfaceSignature {
	sig := &entity.InterfaceSignature{
		Visibility:    rsVisibility(node),
		ReturnType:    fieldText(node, "return_type", source),
		Generics:      rsGenerics(node, source),
		Documentation: leadingComments(node, source, rsDocComment),
	}
	params := node.ChildByFieldName("parameters")
	if params == nil {
		return sig
	}
	for i := uint(0); i < params.ChildCount(); i++ {
		p := params.Child(i)
		if p == nil || p.Kind() != "parameter" {
			continue
		}
		sig.Parameters = append(sig.Parameters, entity.Parameter{
			Name: fieldText(p, "pattern", source),
			Type: fieldText(p, "type", source),
		})
	}
	return sig
}

// uses records Uses references for type names under node's fields.
func (e rsExtractor) uses(x *extraction, node *tree_sitter.Node, f frame, fields ...string) {
	var used []string
	for _, field := range fields {
		used = collect(node.ChildByFieldName(field), x.source, rsTypeKinds, used)
	}
	from := x.symbols[f.symbol]
	for _, t := range dedupe(used, rsStdTypes) {
		if t != from.Name {
			x.refFrom(from.Name, from.Lines.Start, t, entity.EdgeUses)
		}
	}
}

func rsGenerics(node *tree_sitter.Node, source []byte) []string {
	tp := node.ChildByFieldName("type_parameters")
	if tp == nil {
		return nil
	}
	var out []string
	for i := uint(0); i < tp.ChildCount(); i++ {
		if c := tp.Child(i); c != nil && c.IsNamed() {
			out = append(out, c.Utf8Text(source))
		}
	}
	return out
}

// rsHasAttribute reports whether an attribute_item directly above node
// reads #[want].
func rsHasAttribute(node *tree_sitter.Node, source []byte, want string) bool {
	for prev := node.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		switch prev.Kind() {
		case "attribute_item":
			text := strings.TrimSpace(prev.Utf8Text(source))
			text = strings.TrimSuffix(strings.TrimPrefix(text, "#["), "]")
			if strings.ReplaceAll(text, " ", "") == want {
				return true
			}
		case "line_comment", "block_comment":
		default:
			return false
		}
	}
	return false
}

// rsDocComment accepts /// and //! doc comments and /** */ blocks.
func rsDocComment(text string) (string, bool) {
	if strings.HasPrefix(text, "///") || strings.HasPrefix(text, "//!") {
		return strings.TrimSpace(text[3:]), true
	}
	if strings.HasPrefix(text, "/**") {
		return slashComment(text)
	}
	return "", false
}

// rsVisibility checks for a leading visibility_modifier child.
func rsVisibility(node *tree_sitter.Node) string {
	if node.ChildCount() > 0 {
		if first := node.Child(0); first != nil && first.Kind() == "visibility_modifier" {
			return entity.VisibilityPublic
		}
	}
	return entity.VisibilityPrivate
}
