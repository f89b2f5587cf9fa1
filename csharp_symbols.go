// ctorhelp/csharp_symbols.go
// Extracts type and constructor declarations and their documentation from a C# tree.
package ctorhelp

import (
	"bytes"
	"encoding/xml"
	"io"
	"slices"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// ============================================================================
// Declarations
// ============================================================================

var typeDeclarationKinds = map[string]TypeKind{
	"class_declaration":         TypeKindClass,
	"struct_declaration":        TypeKindStruct,
	"record_declaration":        TypeKindRecord,
	"record_struct_declaration": TypeKindRecordStruct,
	"interface_declaration":     TypeKindInterface,
}

type declExtractor struct {
	src   []byte
	path  string
	types []*TypeSymbol
}

// extractDeclarations returns every type declared under root, nested types
// included, with implicit constructors already added.
func extractDeclarations(root *sitter.Node, src []byte, path string) []*TypeSymbol {
	x := &declExtractor{src: src, path: path}
	x.walk(root, nil)
	for _, t := range x.types {
		addImplicitConstructors(t)
	}
	return x.types
}

func (x *declExtractor) walk(n *sitter.Node, enclosing *TypeSymbol) {
	if n == nil {
		return
	}
	kind := n.Kind()
	if tk, ok := typeDeclarationKinds[kind]; ok {
		t := x.typeDeclaration(n, tk, enclosing != nil)
		if t != nil {
			t.Containers = containersOf(enclosing)
			x.types = append(x.types, t)
			for _, c := range children(n) {
				x.walk(c, t)
			}
			return
		}
	}
	switch kind {
	case "delegate_declaration":
		if t := x.delegateDeclaration(n, enclosing != nil); t != nil {
			t.Containers = containersOf(enclosing)
			x.types = append(x.types, t)
		}
		return
	case "constructor_declaration":
		if enclosing != nil {
			if m := x.constructor(n, enclosing); m != nil {
				enclosing.Constructors = append(enclosing.Constructors, m)
			}
		}
		return
	case "method_declaration", "property_declaration", "field_declaration", "block", "arrow_expression_clause":
		// Bodies hold no type declarations.
		return
	}
	for _, c := range children(n) {
		x.walk(c, enclosing)
	}
}

// containersOf returns the container chain for a type declared inside enclosing.
func containersOf(enclosing *TypeSymbol) []TypeContainer {
	if enclosing == nil {
		return nil
	}
	out := slices.Clone(enclosing.Containers)
	return append(out, TypeContainer{Name: typeDisplayName(&TypeSymbol{Name: enclosing.Name, TypeParameters: enclosing.TypeParameters}, nil), Span: enclosing.Span})
}

func (x *declExtractor) typeDeclaration(n *sitter.Node, kind TypeKind, nested bool) *TypeSymbol {
	nameNode := childByFieldOrKind(n, "name", "identifier")
	if nameNode == nil {
		return nil
	}
	if kind == TypeKindRecord {
		for _, c := range children(n) {
			if c.Kind() == "struct" {
				kind = TypeKindRecordStruct
			}
		}
	}
	mods := modifiersOf(n, x.src)
	t := &TypeSymbol{
		Name:           strings.TrimPrefix(nodeText(nameNode, x.src), "@"),
		TypeParameters: x.typeParameters(n),
		Kind:           kind,
		Accessibility:  accessibilityOf(mods, defaultTypeAccessibility(nested)),
		Span:           nodeSpan(n),
		DocumentPath:   x.path,
	}
	// Primary constructor: `record R(int A)` or `class C(int a)`.
	if params := findChildByKind(n, "parameter_list"); params != nil {
		t.Constructors = append(t.Constructors, &MethodSymbol{
			Name:          t.Name,
			DeclaringType: t.Name,
			Parameters:    x.parameters(params),
			Accessibility: AccessPublic,
			DocComment:    leadingDocComment(x.src, int(n.StartByte())),
			DeclaringSpan: t.Span,
			DocumentPath:  x.path,
		})
	}
	return t
}

func (x *declExtractor) delegateDeclaration(n *sitter.Node, nested bool) *TypeSymbol {
	nameNode := childByFieldOrKind(n, "name", "identifier")
	params := childByFieldOrKind(n, "parameters", "parameter_list")
	if nameNode == nil || params == nil {
		return nil
	}
	name := strings.TrimPrefix(nodeText(nameNode, x.src), "@")
	ret := ""
	if tn := n.ChildByFieldName("type"); tn != nil {
		ret = collapseSpace(nodeText(tn, x.src))
	} else {
		// delegate <ret> <name>(...): everything between `delegate` and the name.
		var parts []string
		seenDelegate := false
		for _, c := range children(n) {
			if c.StartByte() >= nameNode.StartByte() {
				break
			}
			if c.Kind() == "delegate" {
				seenDelegate = true
				continue
			}
			if seenDelegate {
				parts = append(parts, nodeText(c, x.src))
			}
		}
		ret = collapseSpace(strings.Join(parts, " "))
	}
	span := nodeSpan(n)
	return &TypeSymbol{
		Name:           name,
		TypeParameters: x.typeParameters(n),
		Kind:           TypeKindDelegate,
		Accessibility:  accessibilityOf(modifiersOf(n, x.src), defaultTypeAccessibility(nested)),
		Span:           span,
		DocumentPath:   x.path,
		Invoke: &MethodSymbol{
			Name:          "Invoke",
			DeclaringType: name,
			Parameters:    x.parameters(params),
			ReturnType:    ret,
			Accessibility: AccessPublic,
			DocComment:    leadingDocComment(x.src, int(n.StartByte())),
			DeclaringSpan: span,
			DocumentPath:  x.path,
		},
	}
}

func (x *declExtractor) constructor(n *sitter.Node, enclosing *TypeSymbol) *MethodSymbol {
	nameNode := childByFieldOrKind(n, "name", "identifier")
	params := childByFieldOrKind(n, "parameters", "parameter_list")
	if nameNode == nil || params == nil {
		return nil
	}
	if strings.TrimPrefix(nodeText(nameNode, x.src), "@") != enclosing.Name {
		return nil
	}
	mods := modifiersOf(n, x.src)
	return &MethodSymbol{
		Name:          enclosing.Name,
		DeclaringType: enclosing.Name,
		Parameters:    x.parameters(params),
		Accessibility: accessibilityOf(mods, AccessPrivate),
		Browsable:     editorBrowsableState(n, x.src),
		IsStatic:      hasModifier(mods, "static"),
		DocComment:    leadingDocComment(x.src, int(n.StartByte())),
		DeclaringSpan: enclosing.Span,
		DocumentPath:  x.path,
	}
}

// typeParameters returns the names in `<T1, in T2>`, variance dropped.
func (x *declExtractor) typeParameters(n *sitter.Node) []string {
	list := childByFieldOrKind(n, "type_parameters", "type_parameter_list")
	if list == nil {
		return nil
	}
	var out []string
	for _, c := range children(list) {
		if c.Kind() != "type_parameter" {
			continue
		}
		name := c.ChildByFieldName("name")
		if name == nil {
			name = findChildByKind(c, "identifier")
		}
		text := nodeText(name, x.src)
		if name == nil {
			fields := strings.Fields(nodeText(c, x.src))
			if len(fields) == 0 {
				continue
			}
			text = fields[len(fields)-1]
		}
		out = append(out, text)
	}
	return out
}

var parameterModifiers = map[string]bool{
	"ref": true, "out": true, "in": true, "params": true, "this": true, "scoped": true, "readonly": true,
}

// parameters reads a parameter_list. Parameters are split at top-level commas
// rather than trusting one node per parameter, since `params` arrays are not
// always wrapped in a parameter node.
func (x *declExtractor) parameters(list *sitter.Node) []ParameterSymbol {
	var groups [][]*sitter.Node
	var current []*sitter.Node
	for _, c := range children(list) {
		switch c.Kind() {
		case "(":
			continue
		case ",", ")":
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = nil
			continue
		}
		current = append(current, c)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	out := make([]ParameterSymbol, 0, len(groups))
	for _, g := range groups {
		parts := g
		if len(g) == 1 && g[0].Kind() == "parameter" {
			parts = children(g[0])
		}
		if p, ok := x.parameter(parts); ok {
			out = append(out, p)
		}
	}
	return out
}

func (x *declExtractor) parameter(parts []*sitter.Node) (ParameterSymbol, bool) {
	var p ParameterSymbol
	var decl []*sitter.Node
	for i, c := range parts {
		if c.Kind() == "attribute_list" {
			continue
		}
		if c.Kind() == "equals_value_clause" {
			p.HasDefault = true
			p.DefaultValue = collapseSpace(strings.TrimPrefix(strings.TrimSpace(nodeText(c, x.src)), "="))
			break
		}
		if c.Kind() == "=" {
			var def []string
			for _, d := range parts[i+1:] {
				def = append(def, nodeText(d, x.src))
			}
			p.HasDefault = true
			p.DefaultValue = collapseSpace(strings.Join(def, " "))
			break
		}
		decl = append(decl, c)
	}

	nameIdx := -1
	for i := len(decl) - 1; i >= 0; i-- {
		if decl[i].Kind() == "identifier" {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return p, false
	}
	p.Name = strings.TrimPrefix(nodeText(decl[nameIdx], x.src), "@")

	typeStart := 0
	var mods []string
	for typeStart < nameIdx {
		text := strings.TrimSpace(nodeText(decl[typeStart], x.src))
		kind := decl[typeStart].Kind()
		if kind == "modifier" || kind == "parameter_modifier" || (parameterModifiers[text] && typeStart < nameIdx-1) {
			mods = append(mods, text)
			typeStart++
			continue
		}
		break
	}
	p.Modifier = strings.Join(mods, " ")
	if typeStart < nameIdx {
		start := decl[typeStart].StartByte()
		end := decl[nameIdx-1].EndByte()
		p.Type = collapseSpace(string(x.src[start:end]))
	}
	return p, true
}

func modifiersOf(n *sitter.Node, src []byte) []string {
	var mods []string
	for _, c := range children(n) {
		switch c.Kind() {
		case "modifier":
			mods = append(mods, strings.Fields(nodeText(c, src))...)
		case "public", "private", "protected", "internal", "static", "abstract", "sealed", "partial", "readonly", "unsafe", "extern", "file":
			mods = append(mods, c.Kind())
		}
	}
	return mods
}

func hasModifier(mods []string, want string) bool {
	for _, m := range mods {
		if m == want {
			return true
		}
	}
	return false
}

func defaultTypeAccessibility(nested bool) Accessibility {
	if nested {
		return AccessPrivate
	}
	return AccessInternal
}

func accessibilityOf(mods []string, fallback Accessibility) Accessibility {
	public := hasModifier(mods, "public")
	private := hasModifier(mods, "private")
	protected := hasModifier(mods, "protected")
	internal := hasModifier(mods, "internal")
	switch {
	case public:
		return AccessPublic
	case protected && internal:
		return AccessProtectedInternal
	case private && protected:
		return AccessPrivateProtected
	case protected:
		return AccessProtected
	case internal:
		return AccessInternal
	case private:
		return AccessPrivate
	default:
		return fallback
	}
}

// editorBrowsableState reads [EditorBrowsable(EditorBrowsableState.X)] from
// the attribute lists of a declaration.
func editorBrowsableState(n *sitter.Node, src []byte) Browsability {
	state := BrowsableAlways
	for _, c := range children(n) {
		if c.Kind() != "attribute_list" {
			continue
		}
		for _, attr := range children(c) {
			if attr.Kind() != "attribute" {
				continue
			}
			name := collapseSpace(nodeText(childByFieldOrKind(attr, "name", "identifier"), src))
			if name == "" {
				name = nodeText(attr, src)
				if i := strings.IndexByte(name, '('); i >= 0 {
					name = name[:i]
				}
			}
			name = strings.TrimSuffix(strings.TrimSpace(name), "Attribute")
			if name != "EditorBrowsable" && !strings.HasSuffix(name, ".EditorBrowsable") {
				continue
			}
			args := nodeText(attr, src)
			switch {
			case strings.Contains(args, "EditorBrowsableState.Never"):
				state = BrowsableNever
			case strings.Contains(args, "EditorBrowsableState.Advanced"):
				state = BrowsableAdvanced
			}
		}
	}
	return state
}

// addImplicitConstructors adds the compiler-provided parameterless constructor:
// to classes and records without any instance constructor, and to structs
// that do not declare a parameterless one.
func addImplicitConstructors(t *TypeSymbol) {
	if t.Kind == TypeKindInterface || t.Kind == TypeKindDelegate {
		return
	}
	hasInstance, hasParameterless := false, false
	for _, c := range t.Constructors {
		if c.IsStatic {
			continue
		}
		hasInstance = true
		if len(c.Parameters) == 0 {
			hasParameterless = true
		}
	}
	needed := !hasInstance
	if t.Kind.IsValueType() {
		needed = !hasParameterless
	}
	if !needed {
		return
	}
	t.Constructors = append(t.Constructors, &MethodSymbol{
		Name:          t.Name,
		DeclaringType: t.Name,
		Accessibility: AccessPublic,
		IsImplicit:    true,
		DeclaringSpan: t.Span,
		DocumentPath:  t.DocumentPath,
	})
}

// ============================================================================
// Documentation Comments
// ============================================================================

// leadingDocComment collects the `///` lines directly above the line holding
// start. Attribute lines between the comment and the declaration are skipped.
func leadingDocComment(src []byte, start int) string {
	if start > len(src) {
		return ""
	}
	pos := bytes.LastIndexByte(src[:start], '\n') + 1
	var lines []string
	for pos > 0 {
		prevEnd := pos - 1
		prevStart := bytes.LastIndexByte(src[:prevEnd], '\n') + 1
		line := strings.TrimSpace(string(src[prevStart:prevEnd]))
		switch {
		case strings.HasPrefix(line, "///"):
			lines = append(lines, strings.TrimPrefix(line, "///"))
		case strings.HasPrefix(line, "[") && len(lines) == 0:
		default:
			pos = 0
			continue
		}
		pos = prevStart
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

type xmlDocComment struct {
	Summary xmlDocText    `xml:"summary"`
	Params  []xmlDocParam `xml:"param"`
}

type xmlDocText struct {
	Inner string `xml:",innerxml"`
}

type xmlDocParam struct {
	Name  string `xml:"name,attr"`
	Inner string `xml:",innerxml"`
}

// xmlDocumentationProvider reads `///` XML documentation from source members.
type xmlDocumentationProvider struct{}

// Documentation implements DocumentationProvider.
func (xmlDocumentationProvider) Documentation(m *MethodSymbol) MemberDocumentation {
	if m == nil {
		return MemberDocumentation{}
	}
	return parseDocComment(m.DocComment)
}

// parseDocComment decodes the summary and param elements of a doc comment.
// Malformed XML yields empty documentation.
func parseDocComment(raw string) MemberDocumentation {
	if strings.TrimSpace(raw) == "" {
		return MemberDocumentation{}
	}
	var doc xmlDocComment
	if err := xml.Unmarshal([]byte("<doc>"+raw+"</doc>"), &doc); err != nil {
		return MemberDocumentation{}
	}
	out := MemberDocumentation{Summary: docPlainText(doc.Summary.Inner)}
	for _, p := range doc.Params {
		if p.Name == "" {
			continue
		}
		if out.Parameters == nil {
			out.Parameters = make(map[string]string, len(doc.Params))
		}
		out.Parameters[p.Name] = docPlainText(p.Inner)
	}
	return out
}

// docPlainText flattens doc XML to text. <see cref="X"/> and <paramref
// name="x"/> become their target names.
func docPlainText(inner string) string {
	dec := xml.NewDecoder(strings.NewReader(inner))
	dec.Strict = false
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return collapseSpace(inner)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			for _, a := range t.Attr {
				if a.Name.Local == "cref" || a.Name.Local == "name" || a.Name.Local == "langword" {
					target := a.Value
					if i := strings.LastIndexAny(target, ":."); i >= 0 {
						target = target[i+1:]
					}
					b.WriteString(" " + target + " ")
				}
			}
		}
	}
	return collapseSpace(b.String())
}
