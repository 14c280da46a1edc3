package parse

import (
	"strings"
	"unicode"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/parseltongue/internal/entity"
)

// goExtractor extracts symbols and references from Go source files.
type goExtractor struct{}

var goTypeKinds = map[string]bool{"type_identifier": true, "qualified_type": true}

var goBuiltinTypes = map[string]bool{
	"any": true, "bool": true, "byte": true, "comparable": true, "complex64": true,
	"complex128": true, "error": true, "float32": true, "float64": true, "int": true,
	"int8": true, "int16": true, "int32": true, "int64": true, "rune": true,
	"string": true, "uint": true, "uint8": true, "uint16": true, "uint32": true,
	"uint64": true, "uintptr": true,
}

var goBuiltinFuncs = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true, "max": true,
	"min": true, "new": true, "panic": true, "print": true, "println": true,
	"real": true, "recover": true,
}

// Every symbol of a _test.go file is test code.
func (goExtractor) testFile(filePath string) bool {
	return strings.HasSuffix(filePath, "_test.go")
}

func (e goExtractor) enter(x *extraction, node *tree_sitter.Node) (frame, bool) {
	switch node.Kind() {
	case "function_declaration":
		name := fieldText(node, "name", x.source)
		if name == "" {
			return frame{}, false
		}
		sig := e.signature(node, name, x.source)
		f := x.add(node, name, entity.KindFunction, sig, false)
		e.uses(x, node, f)
		return f, true

	case "method_declaration":
		name := fieldText(node, "name", x.source)
		recv := e.receiverType(node, x.source)
		if name == "" || recv == "" {
			return frame{}, false
		}
		qualified := recv + "." + name
		f := x.add(node, qualified, entity.KindMethod, e.signature(node, name, x.source), false)
		x.refFrom(recv, 0, qualified, entity.EdgeContains)
		e.uses(x, node, f)
		return f, true

	case "type_declaration":
		e.typeDeclaration(x, node)

	case "const_declaration", "var_declaration":
		if x.inFunction() {
			return frame{}, false
		}
		kind := entity.KindVariable
		if node.Kind() == "const_declaration" {
			kind = entity.KindConstant
		}
		e.valueDeclaration(x, node, kind)

	case "import_spec":
		x.importSpec(strings.Trim(fieldText(node, "path", x.source), "\"`"))

	case "call_expression":
		if callee := e.callee(node, x.source); callee != "" {
			x.ref(callee, entity.EdgeCalls)
		}
	}
	return frame{}, false
}

// typeDeclaration emits one symbol per type_spec. A declaration with a single
// spec spans the whole declaration, keyword and doc comment position included.
func (e goExtractor) typeDeclaration(x *extraction, node *tree_sitter.Node) {
	if x.inFunction() {
		return
	}
	var specs []*tree_sitter.Node
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && (child.Kind() == "type_spec" || child.Kind() == "type_alias") {
			specs = append(specs, child)
		}
	}
	for _, spec := range specs {
		name := fieldText(spec, "name", x.source)
		if name == "" {
			continue
		}
		kind := entity.KindType
		if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
			switch typeNode.Kind() {
			case "interface_type":
				kind = entity.KindInterface
			case "struct_type":
				kind = entity.KindStruct
			}
		}

		span := spec
		if len(specs) == 1 {
			span = node
		}
		sig := &entity.InterfaceSignature{
			Visibility:    goVisibility(name),
			Generics:      e.generics(spec, x.source),
			Documentation: leadingComments(node, x.source, slashComment),
		}
		f := x.add(span, name, kind, sig, false)

		used := collect(spec.ChildByFieldName("type"), x.source, goTypeKinds, nil)
		for _, t := range dedupe(used, goBuiltinTypes) {
			if t != name {
				x.refFrom(name, f.line, t, entity.EdgeUses)
			}
		}
	}
}

func (e goExtractor) valueDeclaration(x *extraction, node *tree_sitter.Node, kind entity.Kind) {
	for i := uint(0); i < node.ChildCount(); i++ {
		spec := node.Child(i)
		if spec == nil || (spec.Kind() != "const_spec" && spec.Kind() != "var_spec") {
			continue
		}
		for j := uint(0); j < spec.ChildCount(); j++ {
			id := spec.Child(j)
			if id == nil || id.Kind() != "identifier" {
				continue
			}
			name := id.Utf8Text(x.source)
			if name == "_" {
				continue
			}
			sig := &entity.InterfaceSignature{
				Visibility: goVisibility(name),
				ReturnType: fieldText(spec, "type", x.source),
			}
			x.add(spec, name, kind, sig, false)
		}
	}
}

func (e goExtractor) signature(node *tree_sitter.Node, name string, source []byte) *entity.InterfaceSignature {
	return &entity.InterfaceSignature{
		Visibility:    goVisibility(name),
		Parameters:    e.parameters(node.ChildByFieldName("parameters"), source),
		ReturnType:    fieldText(node, "result", source),
		Generics:      e.generics(node, source),
		Documentation: leadingComments(node, source, slashComment),
	}
}

func (e goExtractor) parameters(list *tree_sitter.Node, source []byte) []entity.Parameter {
	if list == nil {
		return nil
	}
	var params []entity.Parameter
	for i := uint(0); i < list.ChildCount(); i++ {
		decl := list.Child(i)
		if decl == nil {
			continue
		}
		kind := decl.Kind()
		if kind != "parameter_declaration" && kind != "variadic_parameter_declaration" {
			continue
		}
		typ := fieldText(decl, "type", source)
		if kind == "variadic_parameter_declaration" {
			typ = "..." + typ
		}
		named := false
		for j := uint(0); j < decl.ChildCount(); j++ {
			id := decl.Child(j)
			if id != nil && id.Kind() == "identifier" {
				params = append(params, entity.Parameter{Name: id.Utf8Text(source), Type: typ})
				named = true
			}
		}
		if !named {
			params = append(params, entity.Parameter{Type: typ})
		}
	}
	return params
}

func (e goExtractor) generics(node *tree_sitter.Node, source []byte) []string {
	list := node.ChildByFieldName("type_parameters")
	if list == nil {
		return nil
	}
	var out []string
	for i := uint(0); i < list.ChildCount(); i++ {
		decl := list.Child(i)
		if decl != nil && decl.Kind() == "type_parameter_declaration" {
			out = append(out, decl.Utf8Text(source))
		}
	}
	return out
}

// uses records Uses references for named types in a function's parameter
// and result lists.
func (e goExtractor) uses(x *extraction, node *tree_sitter.Node, f frame) {
	var used []string
	used = collect(node.ChildByFieldName("parameters"), x.source, goTypeKinds, used)
	used = collect(node.ChildByFieldName("result"), x.source, goTypeKinds, used)
	from := x.symbols[f.symbol]
	for _, t := range dedupe(used, goBuiltinTypes) {
		x.refFrom(from.Name, from.Lines.Start, t, entity.EdgeUses)
	}
}

func (e goExtractor) receiverType(node *tree_sitter.Node, source []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := uint(0); i < recv.ChildCount(); i++ {
		decl := recv.Child(i)
		if decl != nil && decl.Kind() == "parameter_declaration" {
			return baseTypeName(fieldText(decl, "type", source))
		}
	}
	return ""
}

func (e goExtractor) callee(node *tree_sitter.Node, source []byte) string {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return ""
	}

	// Best-effort: only simple identifiers and selector expressions.
	switch fnNode.Kind() {
	case "identifier":
		name := fnNode.Utf8Text(source)
		if goBuiltinFuncs[name] || goBuiltinTypes[name] {
			return ""
		}
		return name
	case "selector_expression":
		return fnNode.Utf8Text(source)
	}
	return ""
}

func goVisibility(name string) string {
	r, _ := utf8.DecodeRuneInString(name)
	if unicode.IsUpper(r) {
		return entity.VisibilityPublic
	}
	return entity.VisibilityPrivate
}
