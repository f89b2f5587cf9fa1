// ctorhelp/csharp_preprocessor.go
// Evaluates C# conditional compilation for one set of symbols.
package ctorhelp

import (
	"bytes"
	"strings"
	"unicode"
)

// preprocessResult is a document as one project context compiles it.
type preprocessResult struct {
	// Text has directive lines and inactive lines blanked to spaces. It has
	// the same length and line structure as the input.
	Text     []byte
	Inactive []Span
}

// IsActive reports whether offset lies in compiled code. The end of an
// inactive line still counts as inactive.
func (p preprocessResult) IsActive(offset int) bool {
	for _, s := range p.Inactive {
		if s.Contains(offset) {
			return false
		}
		if s.Start > offset {
			break
		}
	}
	return true
}

type conditionalFrame struct {
	parentActive bool
	taken        bool // some branch of this #if chain was already active
	active       bool
}

// preprocess evaluates #define, #undef, #if, #elif, #else and #endif against
// symbols. Other directives are blanked and otherwise ignored.
func preprocess(src []byte, symbols []string) preprocessResult {
	defined := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = strings.TrimSpace(s); s != "" {
			defined[s] = true
		}
	}
	out := make([]byte, len(src))
	copy(out, src)

	var stack []conditionalFrame
	active := func() bool {
		if len(stack) == 0 {
			return true
		}
		return stack[len(stack)-1].active
	}

	var inactive []Span
	addInactive := func(s Span) {
		if n := len(inactive); n > 0 && inactive[n-1].End+1 >= s.Start {
			inactive[n-1].End = s.End
			return
		}
		inactive = append(inactive, s)
	}

	for lineStart := 0; lineStart < len(src); {
		lineEnd := len(src)
		next := len(src)
		if nl := bytes.IndexByte(src[lineStart:], '\n'); nl >= 0 {
			lineEnd = lineStart + nl
			next = lineEnd + 1
		}
		line := src[lineStart:lineEnd]
		directive, rest, isDirective := splitDirective(line)

		if !isDirective {
			if !active() {
				blank(out[lineStart:lineEnd])
				addInactive(Span{Start: lineStart, End: lineEnd})
			}
			lineStart = next
			continue
		}

		switch directive {
		case "define", "undef":
			if active() {
				if name := firstWord(rest); name != "" {
					defined[name] = directive == "define"
				}
			}
		case "if":
			parent := active()
			cond := parent && evalCondition(rest, defined)
			stack = append(stack, conditionalFrame{parentActive: parent, taken: cond, active: cond})
		case "elif":
			if n := len(stack); n > 0 {
				f := &stack[n-1]
				if f.taken {
					f.active = false
				} else {
					f.active = f.parentActive && evalCondition(rest, defined)
					f.taken = f.active
				}
			}
		case "else":
			if n := len(stack); n > 0 {
				f := &stack[n-1]
				f.active = f.parentActive && !f.taken
				f.taken = true
			}
		case "endif":
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
		}
		blank(out[lineStart:lineEnd])
		lineStart = next
	}
	return preprocessResult{Text: out, Inactive: inactive}
}

// splitDirective recognizes `#name rest`, allowing whitespace around `#`.
func splitDirective(line []byte) (string, string, bool) {
	trimmed := strings.TrimLeft(string(line), " \t")
	if !strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	trimmed = strings.TrimLeft(trimmed[1:], " \t")
	end := strings.IndexFunc(trimmed, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(trimmed)
	}
	rest := trimmed[end:]
	if i := strings.Index(rest, "//"); i >= 0 {
		rest = rest[:i]
	}
	return trimmed[:end], strings.TrimSpace(strings.TrimSuffix(rest, "\r")), true
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// blank replaces every byte except line terminators with a space.
func blank(b []byte) {
	for i, c := range b {
		if c != '\n' && c != '\r' {
			b[i] = ' '
		}
	}
}

// ============================================================================
// Condition Expressions
// ============================================================================

// evalCondition evaluates a preprocessor expression. Malformed expressions are false.
func evalCondition(expr string, defined map[string]bool) bool {
	p := &condParser{toks: tokenizeCondition(expr), defined: defined}
	v, ok := p.parseOr()
	if !ok || p.pos != len(p.toks) {
		return false
	}
	return v
}

func tokenizeCondition(expr string) []string {
	var toks []string
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.HasPrefix(expr[i:], "&&"), strings.HasPrefix(expr[i:], "||"),
			strings.HasPrefix(expr[i:], "=="), strings.HasPrefix(expr[i:], "!="):
			toks = append(toks, expr[i:i+2])
			i += 2
		case c == '!' || c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) || c >= 0x80:
			j := i
			for j < len(expr) && (expr[j] == '_' || expr[j] >= 0x80 || unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j]))) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		default:
			toks = append(toks, string(c))
			i++
		}
	}
	return toks
}

type condParser struct {
	toks    []string
	pos     int
	defined map[string]bool
}

func (p *condParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *condParser) parseOr() (bool, bool) {
	left, ok := p.parseAnd()
	for ok && p.peek() == "||" {
		p.pos++
		var right bool
		right, ok = p.parseAnd()
		left = left || right
	}
	return left, ok
}

func (p *condParser) parseAnd() (bool, bool) {
	left, ok := p.parseEquality()
	for ok && p.peek() == "&&" {
		p.pos++
		var right bool
		right, ok = p.parseEquality()
		left = left && right
	}
	return left, ok
}

func (p *condParser) parseEquality() (bool, bool) {
	left, ok := p.parseUnary()
	for ok && (p.peek() == "==" || p.peek() == "!=") {
		op := p.peek()
		p.pos++
		var right bool
		right, ok = p.parseUnary()
		if op == "==" {
			left = left == right
		} else {
			left = left != right
		}
	}
	return left, ok
}

func (p *condParser) parseUnary() (bool, bool) {
	if p.peek() == "!" {
		p.pos++
		v, ok := p.parseUnary()
		return !v, ok
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (bool, bool) {
	tok := p.peek()
	switch tok {
	case "":
		return false, false
	case "(":
		p.pos++
		v, ok := p.parseOr()
		if !ok || p.peek() != ")" {
			return false, false
		}
		p.pos++
		return v, true
	case "true":
		p.pos++
		return true, true
	case "false":
		p.pos++
		return false, true
	}
	r := rune(tok[0])
	if tok[0] != '_' && !unicode.IsLetter(r) && tok[0] < 0x80 {
		return false, false
	}
	p.pos++
	return p.defined[tok], true
}
