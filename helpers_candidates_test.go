// ctorhelp/helpers_candidates_test.go
package ctorhelp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubModel resolves a fixed set of types and hides non-public constructors.
type stubModel struct {
	types map[string]*TypeSymbol
	err   error
}

func (m stubModel) ResolveType(_ context.Context, name string, arity int, _ int) (*TypeSymbol, error) {
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.types[name]
	if !ok || t.Arity() != arity {
		return nil, nil
	}
	return t, nil
}

func (m stubModel) IsAccessible(c *MethodSymbol, _ int) bool { return c.Accessibility == AccessPublic }

type stubDocs map[*MethodSymbol]MemberDocumentation

func (d stubDocs) Documentation(m *MethodSymbol) MemberDocumentation { return d[m] }

func TestSubstituteType(t *testing.T) {
	subst := map[string]string{"T": "string", "U": "int"}
	tests := []struct {
		in, want string
	}{
		{"T", "string"},
		{"List<T>", "List<string>"},
		{"Dictionary<T, U>", "Dictionary<string, int>"},
		{"T[]", "string[]"},
		{"TValue", "TValue"},
		{"Func<T, TResult>", "Func<string, TResult>"},
	}
	for _, tt := range tests {
		if got := substituteType(tt.in, subst); got != tt.want {
			t.Errorf("substituteType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	assert.Equal(t, "T", substituteType("T", nil))
}

func TestConstructorSignature(t *testing.T) {
	ctor := &MethodSymbol{
		Name:          "Buffer",
		Accessibility: AccessPublic,
		Parameters: []ParameterSymbol{
			{Name: "data", Type: "T[]", Modifier: "ref"},
			{Name: "count", Type: "int", HasDefault: true, DefaultValue: "0"},
			{Name: "rest", Type: "object[]", Modifier: "params"},
		},
	}
	docs := stubDocs{ctor: {Summary: "Makes a buffer.", Parameters: map[string]string{"count": "How many."}}}

	sig := constructorSignature("Buffer<byte>", ctor, map[string]string{"T": "byte"}, docs)
	assert.Equal(t, "Buffer<byte>(ref byte[] data, [int count = 0], params object[] rest)", sig.DisplayText)
	assert.Equal(t, "Makes a buffer.", sig.Documentation)
	require.Len(t, sig.Parameters, 3)
	assert.Equal(t, "How many.", sig.Parameters[1].Documentation)
	assert.True(t, sig.Parameters[1].IsOptional)
	assert.Empty(t, sig.Parameters[0].Documentation)

	empty := constructorSignature("C", &MethodSymbol{}, nil, nil)
	assert.Equal(t, "C()", empty.DisplayText)
	assert.Empty(t, empty.Documentation)
}

func TestTypeDisplayName(t *testing.T) {
	generic := &TypeSymbol{Name: "Box", TypeParameters: []string{"T"}}
	assert.Equal(t, "Box<int>", typeDisplayName(generic, []string{"int"}))
	assert.Equal(t, "Box<T>", typeDisplayName(generic, nil))
	assert.Equal(t, "C", typeDisplayName(&TypeSymbol{Name: "C"}, nil))

	nested := &TypeSymbol{
		Name:           "Inner",
		TypeParameters: []string{"T"},
		Containers:     []TypeContainer{{Name: "Outer<U>", Span: Span{Start: 0, End: 100}}, {Name: "Middle", Span: Span{Start: 10, End: 90}}},
	}
	assert.Equal(t, "Outer<U>.Middle.Inner<int>", typeDisplayName(nested, []string{"int"}))
	assert.Equal(t, "Middle.Inner<int>", typeDisplayName(nested.visibleFrom(5), []string{"int"}))
	assert.Equal(t, "Inner<int>", typeDisplayName(nested.visibleFrom(50), []string{"int"}))
	assert.Same(t, nested, nested.visibleFrom(200))
}

func TestEnumerateCandidates(t *testing.T) {
	public := &MethodSymbol{Accessibility: AccessPublic, Parameters: []ParameterSymbol{{Name: "a", Type: "int"}}}
	hidden := &MethodSymbol{Accessibility: AccessPrivate}
	static := &MethodSymbol{Accessibility: AccessPublic, IsStatic: true}
	model := stubModel{types: map[string]*TypeSymbol{
		"C": {Name: "C", Constructors: []*MethodSymbol{static, hidden, public}},
		"Handler": {
			Name:           "Handler",
			Kind:           TypeKindDelegate,
			TypeParameters: []string{"T"},
			Invoke: &MethodSymbol{
				ReturnType: "bool",
				Parameters: []ParameterSymbol{{Name: "x", Type: "T"}, {Name: "y", Type: "int", Modifier: "out"}},
			},
		},
		"Broken": {Name: "Broken", Kind: TypeKindDelegate},
	}}
	ctx := context.Background()

	t.Run("constructors", func(t *testing.T) {
		cands, err := enumerateCandidates(ctx, model, nil, &ArgumentListContext{TypeName: "C"}, 0)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "C(int a)", cands[0].Signature.DisplayText)
		assert.Same(t, public, cands[0].Member)
		assert.True(t, cands[0].Visible)
	})

	t.Run("delegate", func(t *testing.T) {
		list := &ArgumentListContext{TypeName: "Handler", TypeArguments: []string{"string"}}
		cands, err := enumerateCandidates(ctx, model, nil, list, 0)
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "Handler<string>(bool (string, out int) target)", cands[0].Signature.DisplayText)
	})

	t.Run("delegate without invoke", func(t *testing.T) {
		cands, err := enumerateCandidates(ctx, model, nil, &ArgumentListContext{TypeName: "Broken"}, 0)
		require.NoError(t, err)
		assert.Empty(t, cands)
	})

	t.Run("arity mismatch does not resolve", func(t *testing.T) {
		list := &ArgumentListContext{TypeName: "C", TypeArguments: []string{"int"}}
		cands, err := enumerateCandidates(ctx, model, nil, list, 0)
		require.NoError(t, err)
		assert.Nil(t, cands)
	})

	t.Run("resolution error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := enumerateCandidates(ctx, stubModel{err: boom}, nil, &ArgumentListContext{TypeName: "C"}, 0)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := enumerateCandidates(cctx, model, nil, &ArgumentListContext{TypeName: "C"}, 0)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsBrowsable(t *testing.T) {
	tests := []struct {
		name         string
		browsable    Browsability
		origin       SymbolOrigin
		hideAdvanced bool
		want         bool
	}{
		{"metadata always", BrowsableAlways, OriginMetadata, true, true},
		{"metadata never", BrowsableNever, OriginMetadata, false, false},
		{"metadata advanced shown", BrowsableAdvanced, OriginMetadata, false, true},
		{"metadata advanced hidden", BrowsableAdvanced, OriginMetadata, true, false},
		{"source never", BrowsableNever, OriginSource, true, true},
		{"source reference never", BrowsableNever, OriginSourceReference, true, true},
		{"source reference advanced", BrowsableAdvanced, OriginSourceReference, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MethodSymbol{Browsable: tt.browsable}
			assert.Equal(t, tt.want, isBrowsable(m, tt.origin, tt.hideAdvanced))
		})
	}
	assert.True(t, isBrowsable(nil, OriginMetadata, true))
}

func TestFilterVisible(t *testing.T) {
	never := Candidate{Signature: Signature{DisplayText: "C(int a)"}, Member: &MethodSymbol{Browsable: BrowsableNever}}
	always := Candidate{Signature: Signature{DisplayText: "C()"}, Member: &MethodSymbol{}}
	in := []Candidate{never, always}

	got := filterVisible(in, OriginMetadata, false)
	require.Len(t, got, 1)
	assert.Equal(t, "C()", got[0].Signature.DisplayText)
	assert.Len(t, filterVisible(in, OriginSource, false), 2)

	marked := markVisibility(in, OriginMetadata, false)
	assert.False(t, marked[0].Visible)
	assert.True(t, marked[1].Visible)
	assert.False(t, in[1].Visible, "input is not modified")
}
