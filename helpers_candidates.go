// ctorhelp/helpers_candidates.go
// Enumerates constructor signatures for a created type and filters them by browsability.
package ctorhelp

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// Candidate Enumeration
// ============================================================================

// enumerateCandidates resolves the type created by list and renders one
// candidate per accessible instance constructor (or one for a delegate).
// A type that does not resolve yields no candidates and no error.
func enumerateCandidates(ctx context.Context, model SemanticModel, docs DocumentationProvider, list *ArgumentListContext, caret int) ([]Candidate, error) {
	typ, err := model.ResolveType(ctx, list.TypeName, len(list.TypeArguments), caret)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", list.TypeName, err)
	}
	if typ == nil {
		return nil, nil
	}

	display := typeDisplayName(typ, list.TypeArguments)
	subst := typeSubstitution(typ.TypeParameters, list.TypeArguments)

	if typ.Kind == TypeKindDelegate {
		if typ.Invoke == nil {
			return nil, nil
		}
		return []Candidate{delegateCandidate(display, typ.Invoke, subst, docs)}, nil
	}

	var out []Candidate
	for _, ctor := range typ.Constructors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ctor.IsStatic || !model.IsAccessible(ctor, caret) {
			continue
		}
		out = append(out, Candidate{
			Signature: constructorSignature(display, ctor, subst, docs),
			Visible:   true,
			Member:    ctor,
		})
	}
	return out, nil
}

// typeDisplayName renders Name<args> using the call site's type arguments,
// qualified by the containers of a nested type.
func typeDisplayName(typ *TypeSymbol, typeArgs []string) string {
	name := typ.Name
	switch {
	case len(typeArgs) > 0:
		name += "<" + strings.Join(typeArgs, ", ") + ">"
	case len(typ.TypeParameters) > 0:
		name += "<" + strings.Join(typ.TypeParameters, ", ") + ">"
	}
	if len(typ.Containers) == 0 {
		return name
	}
	parts := make([]string, 0, len(typ.Containers)+1)
	for _, c := range typ.Containers {
		parts = append(parts, c.Name)
	}
	return strings.Join(append(parts, name), ".")
}

func typeSubstitution(params, args []string) map[string]string {
	if len(params) == 0 || len(params) != len(args) {
		return nil
	}
	subst := make(map[string]string, len(params))
	for i, p := range params {
		subst[p] = args[i]
	}
	return subst
}

var identifierPattern = regexp.MustCompile(`@?[A-Za-z_][A-Za-z0-9_]*`)

// substituteType replaces whole-word type parameter names in text.
func substituteType(text string, subst map[string]string) string {
	if len(subst) == 0 {
		return text
	}
	return identifierPattern.ReplaceAllStringFunc(text, func(word string) string {
		if repl, ok := subst[word]; ok {
			return repl
		}
		return word
	})
}

func documentationFor(docs DocumentationProvider, m *MethodSymbol) MemberDocumentation {
	if docs == nil {
		return MemberDocumentation{}
	}
	return docs.Documentation(m)
}

func constructorSignature(display string, ctor *MethodSymbol, subst map[string]string, docs DocumentationProvider) Signature {
	doc := documentationFor(docs, ctor)
	params := make([]ParameterInfo, 0, len(ctor.Parameters))
	for _, p := range ctor.Parameters {
		typeText := substituteType(p.Type, subst)
		if p.Modifier != "" {
			typeText = p.Modifier + " " + typeText
		}
		params = append(params, ParameterInfo{
			Name:          p.Name,
			DisplayType:   typeText,
			Documentation: doc.Parameters[p.Name],
			IsOptional:    p.HasDefault,
			DefaultText:   p.DefaultValue,
		})
	}
	return Signature{
		DisplayText:   renderSignature(display, params),
		Documentation: doc.Summary,
		Parameters:    params,
	}
}

// delegateCandidate renders `D<args>(<ret> (<param types>) target)`.
func delegateCandidate(display string, invoke *MethodSymbol, subst map[string]string, docs DocumentationProvider) Candidate {
	doc := documentationFor(docs, invoke)
	types := make([]string, 0, len(invoke.Parameters))
	for _, p := range invoke.Parameters {
		t := substituteType(p.Type, subst)
		if p.Modifier != "" {
			t = p.Modifier + " " + t
		}
		types = append(types, t)
	}
	ret := substituteType(invoke.ReturnType, subst)
	if ret == "" {
		ret = "void"
	}
	params := []ParameterInfo{{
		Name:        "target",
		DisplayType: ret + " (" + strings.Join(types, ", ") + ")",
	}}
	return Candidate{
		Signature: Signature{
			DisplayText:   renderSignature(display, params),
			Documentation: doc.Summary,
			Parameters:    params,
		},
		Visible: true,
		Member:  invoke,
	}
}

func renderSignature(display string, params []ParameterInfo) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.DisplayText()
	}
	return display + "(" + strings.Join(parts, ", ") + ")"
}

// ============================================================================
// Visibility Filter
// ============================================================================

// isBrowsable applies EditorBrowsable semantics. Only members that come
// from metadata are ever hidden.
func isBrowsable(m *MethodSymbol, origin SymbolOrigin, hideAdvanced bool) bool {
	if origin != OriginMetadata || m == nil {
		return true
	}
	switch m.Browsable {
	case BrowsableNever:
		return false
	case BrowsableAdvanced:
		return !hideAdvanced
	default:
		return true
	}
}

// markVisibility returns a copy of cands with Visible set per candidate.
func markVisibility(cands []Candidate, origin SymbolOrigin, hideAdvanced bool) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		c.Visible = isBrowsable(c.Member, origin, hideAdvanced)
		out[i] = c
	}
	return out
}

// filterVisible keeps the candidates a user should see in a context whose
// symbols come from origin.
func filterVisible(cands []Candidate, origin SymbolOrigin, hideAdvanced bool) []Candidate {
	var out []Candidate
	for _, c := range markVisibility(cands, origin, hideAdvanced) {
		if c.Visible {
			out = append(out, c)
		}
	}
	return out
}
