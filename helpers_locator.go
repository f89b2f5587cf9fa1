// ctorhelp/helpers_locator.go
// Finds the object-creation argument list enclosing a caret, tolerating unfinished code.
package ctorhelp

import (
	"slices"
	"sort"
	"strings"
)

// ============================================================================
// Argument List Locator
// ============================================================================

// locateArgumentList finds the innermost object-creation argument list that
// contains caret. The boolean is false when the caret is not inside one.
func locateArgumentList(tree SyntaxTree, caret int) (*ArgumentListContext, bool) {
	if tree == nil || caret < 0 || caret > tree.Len() {
		return nil, false
	}
	toks := tree.Tokens()

	// First token starting at or after the caret.
	idx := sort.Search(len(toks), func(i int) bool { return toks[i].Span.Start >= caret })
	if idx > 0 && caretInsideComment(toks[idx-1], caret) {
		return nil, false
	}

	open, ok := findUnmatchedParen(toks[:idx])
	if !ok {
		return nil, false
	}
	typeName, typeArgs, newIdx, ok := matchCreationPrefix(toks, open)
	if !ok {
		return nil, false
	}

	list := scanArguments(toks, open, tree.Len())
	list.TypeName = typeName
	list.TypeArguments = typeArgs
	list.Expression.Start = toks[newIdx].Span.Start
	list.ApplicableSpan.Start = toks[newIdx].Span.Start
	if caret > list.ApplicableSpan.End {
		return nil, false
	}
	return list, true
}

// caretInsideComment reports whether caret falls inside a comment token.
// String literals do not count: a caret inside a string argument still
// belongs to the argument list.
func caretInsideComment(t Token, caret int) bool {
	if t.Kind != TokenComment {
		return false
	}
	if strings.HasPrefix(t.Text, "//") || !strings.HasSuffix(t.Text, "*/") {
		// Line comments (and unterminated block comments) run to their last byte.
		return t.Span.Start < caret && caret <= t.Span.End
	}
	return t.Span.Start < caret && caret < t.Span.End
}

// findUnmatchedParen walks toks backward, balancing brackets, and returns the
// index of the first unmatched `(`. Any other unmatched opener, or a `;` at
// the top level, means the caret is not in an argument list.
func findUnmatchedParen(toks []Token) (int, bool) {
	var closers []string
	for i := len(toks) - 1; i >= 0; i-- {
		t := toks[i]
		if t.Kind != TokenPunct {
			continue
		}
		switch t.Text {
		case ")", "]", "}":
			closers = append(closers, t.Text)
		case "(", "[", "{":
			if len(closers) == 0 {
				if t.Text == "(" {
					return i, true
				}
				return -1, false
			}
			closers = closers[:len(closers)-1]
		case ";":
			if len(closers) == 0 {
				return -1, false
			}
		}
	}
	return -1, false
}

// matchCreationPrefix checks that toks[open] is preceded by `new Type` or
// `new Type<Args>` (optionally qualified). It returns the simple type name,
// the rendered type arguments and the index of the `new` token.
func matchCreationPrefix(toks []Token, open int) (string, []string, int, bool) {
	j := open - 1
	var typeArgs []string
	if j >= 0 && isCloseAngle(toks[j]) {
		lt, ok := matchGenericArguments(toks, j)
		if !ok {
			return "", nil, -1, false
		}
		inner := toks[lt+1 : j]
		if extra := len(toks[j].Text) - 1; extra > 0 {
			// A glued `>>` also closes the innermost type argument.
			inner = append(slices.Clone(inner), Token{Kind: TokenPunct, Text: strings.Repeat(">", extra)})
		}
		typeArgs = splitTypeArguments(inner)
		j = lt - 1
	}
	if j < 0 || toks[j].Kind != TokenIdentifier {
		return "", nil, -1, false
	}
	name := strings.TrimPrefix(toks[j].Text, "@")
	j--

	// Qualifiers: A.B.C, global::A, Outer<int>.Inner
	for j >= 0 && toks[j].Kind == TokenPunct && (toks[j].Text == "." || toks[j].Text == "::") {
		j--
		if j >= 0 && isCloseAngle(toks[j]) {
			lt, ok := matchGenericArguments(toks, j)
			if !ok {
				return "", nil, -1, false
			}
			j = lt - 1
		}
		if j < 0 || toks[j].Kind != TokenIdentifier {
			return "", nil, -1, false
		}
		j--
	}

	if j < 0 || toks[j].Kind != TokenKeyword || toks[j].Text != "new" {
		return "", nil, -1, false
	}
	return name, typeArgs, j, true
}

func isCloseAngle(t Token) bool {
	return t.Kind == TokenPunct && t.Text != "" && strings.Trim(t.Text, ">") == ""
}

// matchGenericArguments returns the index of the `<` matching the `>` run at
// toks[gt]. Lexers may glue `>>` into one token, so each `>` counts once.
func matchGenericArguments(toks []Token, gt int) (int, bool) {
	depth := 0
	for k := gt; k >= 0; k-- {
		t := toks[k]
		if t.Kind != TokenPunct {
			continue
		}
		switch {
		case isCloseAngle(t):
			depth += len(t.Text)
		case t.Text == "<":
			depth--
			if depth == 0 {
				return k, true
			}
		case t.Text == ";" || t.Text == "{" || t.Text == "}" || t.Text == "=" || t.Text == "(":
			return -1, false
		}
	}
	return -1, false
}

// splitTypeArguments splits the tokens between `<` and `>` at top-level commas.
func splitTypeArguments(toks []Token) []string {
	var out []string
	depth := 0
	start := 0
	for i, t := range toks {
		if t.Kind != TokenPunct {
			continue
		}
		switch {
		case t.Text == "<" || t.Text == "(" || t.Text == "[":
			depth++
		case isCloseAngle(t):
			depth -= len(t.Text)
		case t.Text == ")" || t.Text == "]":
			depth--
		case t.Text == "," && depth == 0:
			out = append(out, renderTokens(toks[start:i]))
			start = i + 1
		}
	}
	out = append(out, renderTokens(toks[start:]))
	return out
}

// renderTokens joins tokens into display text: words are separated by one
// space and commas are followed by one.
func renderTokens(toks []Token) string {
	var b strings.Builder
	var prev *Token
	for i := range toks {
		t := &toks[i]
		if t.Kind == TokenComment {
			continue
		}
		if prev != nil && (prev.Text == "," || (isWordToken(*prev) && isWordToken(*t))) {
			b.WriteByte(' ')
		}
		b.WriteString(t.Text)
		prev = t
	}
	return b.String()
}

func isWordToken(t Token) bool {
	return t.Kind == TokenIdentifier || t.Kind == TokenKeyword || t.Kind == TokenNumber
}

// scanArguments walks forward from the `(` at toks[open] and records the
// top-level arguments and separators. The list ends at the matching `)`, or,
// when unterminated, at a top-level `;`, an unmatched `}`/`]`, or end of input.
func scanArguments(toks []Token, open int, length int) *ArgumentListContext {
	list := &ArgumentListContext{OpenParen: toks[open].Span.Start}
	end := length
	var depth []string
	var current []Token
	argStart := toks[open].Span.End

	finish := func(boundary int) {
		list.Arguments = append(list.Arguments, makeArgument(current, argStart, boundary))
		current = current[:0]
	}

	i := open + 1
scan:
	for ; i < len(toks); i++ {
		t := toks[i]
		if t.Kind == TokenComment {
			continue
		}
		if t.Kind == TokenPunct {
			switch t.Text {
			case "(", "[", "{":
				depth = append(depth, t.Text)
			case ")", "]", "}":
				if len(depth) == 0 {
					end = t.Span.Start
					if t.Text == ")" {
						list.HasClosingDelimiter = true
						list.Expression.End = t.Span.End
					}
					break scan
				}
				depth = depth[:len(depth)-1]
			case ",":
				if len(depth) == 0 {
					finish(t.Span.Start)
					list.Separators = append(list.Separators, t.Span.Start)
					argStart = t.Span.End
					continue
				}
			case ";":
				if len(depth) == 0 {
					end = t.Span.Start
					break scan
				}
			}
		}
		current = append(current, t)
	}
	finish(end)

	// `new C()` has no arguments rather than one empty argument.
	if len(list.Separators) == 0 && len(list.Arguments) == 1 && list.Arguments[0].Span.Len() == 0 {
		list.Arguments = nil
	}
	if !list.HasClosingDelimiter {
		list.Expression.End = end
	}
	list.ApplicableSpan.End = end
	return list
}

// makeArgument builds an Argument from its tokens. Empty arguments get a
// zero-width span at the position right after the preceding delimiter.
func makeArgument(toks []Token, start, boundary int) Argument {
	if len(toks) == 0 {
		pos := start
		if pos > boundary {
			pos = boundary
		}
		return Argument{Span: Span{Start: pos, End: pos}}
	}
	arg := Argument{Span: Span{Start: toks[0].Span.Start, End: toks[len(toks)-1].Span.End}}
	if len(toks) >= 2 && toks[0].Kind == TokenIdentifier && toks[1].Kind == TokenPunct && toks[1].Text == ":" {
		arg.Name = strings.TrimPrefix(toks[0].Text, "@")
	}
	return arg
}
