// ctorhelp/csharp_syntax.go
// Parses C# with tree-sitter and flattens the tree into tokens and declarations.
package ctorhelp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
)

var csharpLanguage = sync.OnceValue(func() *sitter.Language {
	return sitter.NewLanguage(tree_sitter_csharp.Language())
})

// csharpUnit is one document parsed as one context compiles it. Units are
// cached and shared, so nothing mutates them after parseCSharp returns.
type csharpUnit struct {
	path     string
	length   int
	tokens   []Token
	types    []*TypeSymbol
	inactive []Span
}

// Tokens implements SyntaxTree.
func (u *csharpUnit) Tokens() []Token { return u.tokens }

// Len implements SyntaxTree.
func (u *csharpUnit) Len() int { return u.length }

// IsActive reports whether offset is compiled in this unit's context.
func (u *csharpUnit) IsActive(offset int) bool {
	return preprocessResult{Inactive: u.inactive}.IsActive(offset)
}

// Types returns the declared types, nested ones included.
func (u *csharpUnit) Types() []*TypeSymbol { return u.types }

// parseCSharp preprocesses src with symbols and parses the result.
func parseCSharp(ctx context.Context, path string, src []byte, symbols []string, logger *slog.Logger) (*csharpUnit, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pre := preprocess(src, symbols)

	parser := sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(csharpLanguage()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, path, err)
	}
	tree := parser.Parse(pre.Text, nil)
	if tree == nil {
		return nil, fmt.Errorf("%w: %s: parser returned no tree", ErrParse, path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("%w: %s: empty tree", ErrParse, path)
	}
	if root.HasError() {
		logger.Debug("Parsed with syntax errors", "path", path)
	}

	unit := &csharpUnit{
		path:     path,
		length:   len(src),
		tokens:   collectTokens(root, pre.Text, nil),
		inactive: pre.Inactive,
	}
	slices.SortStableFunc(unit.tokens, func(a, b Token) int { return a.Span.Start - b.Span.Start })
	unit.types = extractDeclarations(root, pre.Text, path)
	return unit, nil
}

// ============================================================================
// Tokens
// ============================================================================

// atomicTokenKinds are nodes kept whole instead of descending into children.
var atomicTokenKinds = map[string]bool{
	"comment":                        true,
	"string_literal":                 true,
	"verbatim_string_literal":        true,
	"raw_string_literal":             true,
	"character_literal":              true,
	"interpolated_string_expression": true,
	"identifier":                     true,
	"predefined_type":                true,
	"integer_literal":                true,
	"real_literal":                   true,
}

var stringTokenKinds = map[string]bool{
	"string_literal":                 true,
	"verbatim_string_literal":        true,
	"raw_string_literal":             true,
	"character_literal":              true,
	"interpolated_string_expression": true,
}

// collectTokens appends the real leaves under n. MISSING and zero-width
// nodes come from error recovery and are skipped.
func collectTokens(n *sitter.Node, src []byte, out []Token) []Token {
	if n == nil || n.IsMissing() {
		return out
	}
	start, end := int(n.StartByte()), int(n.EndByte())
	kind := n.Kind()
	if n.ChildCount() == 0 || atomicTokenKinds[kind] {
		if end > start && end <= len(src) {
			out = append(out, classifyToken(kind, string(src[start:end]), Span{Start: start, End: end}))
		}
		return out
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		out = collectTokens(n.Child(i), src, out)
	}
	return out
}

// csharpKeywords are the reserved words of C#. Contextual keywords lex as identifiers.
var csharpKeywords = map[string]bool{
	"abstract": true, "as": true, "base": true, "bool": true, "break": true, "byte": true,
	"case": true, "catch": true, "char": true, "checked": true, "class": true, "const": true,
	"continue": true, "decimal": true, "default": true, "delegate": true, "do": true,
	"double": true, "else": true, "enum": true, "event": true, "explicit": true, "extern": true,
	"false": true, "finally": true, "fixed": true, "float": true, "for": true, "foreach": true,
	"goto": true, "if": true, "implicit": true, "in": true, "int": true, "interface": true,
	"internal": true, "is": true, "lock": true, "long": true, "namespace": true, "new": true,
	"null": true, "object": true, "operator": true, "out": true, "override": true, "params": true,
	"private": true, "protected": true, "public": true, "readonly": true, "ref": true,
	"return": true, "sbyte": true, "sealed": true, "short": true, "sizeof": true,
	"stackalloc": true, "static": true, "string": true, "struct": true, "switch": true,
	"this": true, "throw": true, "true": true, "try": true, "typeof": true, "uint": true,
	"ulong": true, "unchecked": true, "unsafe": true, "ushort": true, "using": true,
	"virtual": true, "void": true, "volatile": true, "while": true,
}

func classifyToken(kind, text string, span Span) Token {
	tok := Token{Text: text, Span: span}
	switch {
	case kind == "comment":
		tok.Kind = TokenComment
	case stringTokenKinds[kind]:
		tok.Kind = TokenString
	case kind == "identifier":
		// Error recovery can lex a reserved word as an identifier.
		if csharpKeywords[text] {
			tok.Kind = TokenKeyword
		} else {
			tok.Kind = TokenIdentifier
		}
	case kind == "integer_literal" || kind == "real_literal":
		tok.Kind = TokenNumber
	default:
		r, _ := utf8.DecodeRuneInString(text)
		switch {
		case unicode.IsDigit(r):
			tok.Kind = TokenNumber
		case r == '@' && len(text) > 1 && text[1] != '"' && text[1] != '$':
			tok.Kind = TokenIdentifier
		case r == '"' || r == '\'' || r == '$' || r == '@':
			tok.Kind = TokenString
		case strings.HasPrefix(text, "//") || strings.HasPrefix(text, "/*"):
			tok.Kind = TokenComment
		case r == '_' || unicode.IsLetter(r):
			if csharpKeywords[text] {
				tok.Kind = TokenKeyword
			} else {
				tok.Kind = TokenIdentifier
			}
		default:
			tok.Kind = TokenPunct
		}
	}
	return tok
}

// ============================================================================
// Node Helpers
// ============================================================================

func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	start, end := int(n.StartByte()), int(n.EndByte())
	if start < 0 || end > len(src) || start > end {
		return ""
	}
	return string(src[start:end])
}

func nodeSpan(n *sitter.Node) Span {
	return Span{Start: int(n.StartByte()), End: int(n.EndByte())}
}

// childByFieldOrKind returns the field child, or the first direct child of kind.
func childByFieldOrKind(n *sitter.Node, field, kind string) *sitter.Node {
	if n == nil {
		return nil
	}
	if c := n.ChildByFieldName(field); c != nil {
		return c
	}
	return findChildByKind(n, kind)
}

func findChildByKind(n *sitter.Node, kind string) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && c.Kind() == kind {
			return c
		}
	}
	return nil
}

func children(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.ChildCount())
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil && !c.IsMissing() {
			out = append(out, c)
		}
	}
	return out
}

// collapseSpace joins whitespace runs into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
