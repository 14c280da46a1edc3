package parse

import (
	"path"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// pyExtractor extracts symbols and references from Python source files.
type pyExtractor struct{}

var pyTypeKinds = map[string]bool{"identifier": true}

var pyBuiltins = map[string]bool{
	"None": true, "bool": true, "bytes": true, "dict": true, "float": true,
	"int": true, "list": true, "object": true, "set": true, "str": true,
	"tuple": true, "type": true, "Any": true, "Optional": true, "List": true,
	"Dict": true, "Set": true, "Tuple": true, "Union": true, "Callable": true,
	"print": true, "len": true, "range": true, "isinstance": true, "super": true,
	"enumerate": true, "zip": true, "sorted": true, "getattr": true, "setattr": true,
	"hasattr": true, "iter": true, "next": true, "repr": true, "open": true,
}

func (pyExtractor) testFile(filePath string) bool {
	base := path.Base(filePath)
	return strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") || base == "conftest.py"
}

func (e pyExtractor) enter(x *extraction, node *tree_sitter.Node) (frame, bool) {
	switch node.Kind() {
	case "function_definition":
		if x.inFunction() {
			return frame{}, false
		}
		name := fieldText(node, "name", x.source)
		if name == "" {
			return frame{}, false
		}
		span := pyDefinitionSpan(node)
		sig := e.signature(node, name, x.source)
		if owner, line, ok := x.container(); ok {
			qualified := owner + "." + name
			f := x.add(span, qualified, entity.KindMethod, sig, false)
			x.refFrom(owner, line, qualified, entity.EdgeContains)
			e.uses(x, node, f)
			return f, true
		}
		f := x.add(span, name, entity.KindFunction, sig, strings.HasPrefix(name, "test_"))
		e.uses(x, node, f)
		return f, true

	case "class_definition":
		if x.inFunction() {
			return frame{}, false
		}
		name := fieldText(node, "name", x.source)
		if name == "" {
			return frame{}, false
		}
		sig := &entity.InterfaceSignature{
			Visibility:    pyVisibility(name),
			Documentation: pyDocstring(node, x.source),
		}
		f := x.add(pyDefinitionSpan(node), name, entity.KindClass, sig, strings.HasPrefix(name, "Test"))
		if bases := node.ChildByFieldName("superclasses"); bases != nil {
			for i := uint(0); i < bases.ChildCount(); i++ {
				base := bases.Child(i)
				if base == nil {
					continue
				}
				switch base.Kind() {
				case "identifier", "attribute":
					if b := base.Utf8Text(x.source); b != "object" {
						x.refFrom(name, f.line, b, entity.EdgeExtends)
					}
				}
			}
		}
		return f, true

	case "import_statement":
		// import_statement children: "import" keyword then dotted_name(s).
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child == nil {
				continue
			}
			switch child.Kind() {
			case "dotted_name":
				x.importSpec(child.Utf8Text(x.source))
			case "aliased_import":
				x.importSpec(fieldText(child, "name", x.source))
			}
		}

	case "import_from_statement":
		x.importSpec(fieldText(node, "module_name", x.source))

	case "call":
		fnNode := node.ChildByFieldName("function")
		if fnNode == nil {
			return frame{}, false
		}
		switch fnNode.Kind() {
		case "identifier":
			if callee := fnNode.Utf8Text(x.source); !pyBuiltins[callee] {
				x.ref(callee, entity.EdgeCalls)
			}
		case "attribute":
			x.ref(fnNode.Utf8Text(x.source), entity.EdgeCalls)
		}
	}
	return frame{}, false
}

func (e pyExtractor) signature(node *tree_sitter.Node, name string, source []byte) *entity.InterfaceSignature {
	sig := &entity.InterfaceSignature{
		Visibility:    pyVisibility(name),
		ReturnType:    fieldText(node, "return_type", source),
		Documentation: pyDocstring(node, source),
	}
	if tp := node.ChildByFieldName("type_parameters"); tp != nil {
		for i := uint(0); i < tp.ChildCount(); i++ {
			if c := tp.Child(i); c != nil && c.IsNamed() {
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
		if p == nil {
			continue
		}
		var param entity.Parameter
		switch p.Kind() {
		case "identifier":
			param.Name = p.Utf8Text(source)
		case "default_parameter":
			param.Name = fieldText(p, "name", source)
		case "typed_default_parameter":
			param.Name = fieldText(p, "name", source)
			param.Type = fieldText(p, "type", source)
		case "typed_parameter":
			for j := uint(0); j < p.ChildCount(); j++ {
				if c := p.Child(j); c != nil && c.Kind() != "type" && c.IsNamed() {
					param.Name = c.Utf8Text(source)
					break
				}
			}
			param.Type = fieldText(p, "type", source)
		case "list_splat_pattern", "dictionary_splat_pattern":
			param.Name = p.Utf8Text(source)
		default:
			continue
		}
		if param.Name == "self" || param.Name == "cls" {
			continue
		}
		sig.Parameters = append(sig.Parameters, param)
	}
	return sig
}

// uses records Uses references for names in parameter and return annotations.
func (e pyExtractor) uses(x *extraction, node *tree_sitter.Node, f frame) {
	var used []string
	if params := node.ChildByFieldName("parameters"); params != nil {
		for i := uint(0); i < params.ChildCount(); i++ {
			if p := params.Child(i); p != nil {
				used = collect(p.ChildByFieldName("type"), x.source, pyTypeKinds, used)
			}
		}
	}
	used = collect(node.ChildByFieldName("return_type"), x.source, pyTypeKinds, used)
	from := x.symbols[f.symbol]
	for _, t := range dedupe(used, pyBuiltins) {
		x.refFrom(from.Name, from.Lines.Start, t, entity.EdgeUses)
	}
}

// pyDefinitionSpan widens a definition to include its decorators.
func pyDefinitionSpan(node *tree_sitter.Node) *tree_sitter.Node {
	if parent := node.Parent(); parent != nil && parent.Kind() == "decorated_definition" {
		return parent
	}
	return node
}

// pyDocstring returns the string literal that opens a definition's body.
func pyDocstring(node *tree_sitter.Node, source []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.ChildCount() == 0 {
		return ""
	}
	first := body.Child(0)
	if first == nil || first.Kind() != "expression_statement" || first.ChildCount() == 0 {
		return ""
	}
	str := first.Child(0)
	if str == nil || str.Kind() != "string" {
		return ""
	}
	text := str.Utf8Text(source)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(text, q) && strings.HasSuffix(text, q) && len(text) >= 2*len(q) {
			text = text[len(q) : len(text)-len(q)]
			break
		}
	}
	return strings.TrimSpace(text)
}

// pyVisibility treats a leading underscore as private.
func pyVisibility(name string) string {
	if strings.HasPrefix(name, "_") && !(strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")) {
		return entity.VisibilityPrivate
	}
	return entity.VisibilityPublic
}
