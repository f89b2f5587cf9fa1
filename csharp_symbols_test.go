// ctorhelp/csharp_symbols_test.go
package ctorhelp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbolsSource = `namespace Shapes
{
    /// <summary>A point.</summary>
    public class Point
    {
        static Point() { }

        /// <summary>Makes a point at <paramref name="x"/>.</summary>
        /// <param name="x">Horizontal.</param>
        public Point(int x) { }

        [EditorBrowsable(EditorBrowsableState.Never)]
        internal Point(ref int x, params int[] rest) { }

        private class Cache { }
    }

    struct Size
    {
        public Size(int w, int h = 1) { }
    }

    public record Line(Point From, Point To);

    public delegate bool Filter<T>(T item, out string reason);

    interface IShape { }
}
`

func parseSymbols(t *testing.T, src string) map[string]*TypeSymbol {
	t.Helper()
	unit, err := parseCSharp(context.Background(), "Shapes.cs", []byte(src), nil, discardLogger())
	require.NoError(t, err)
	byName := make(map[string]*TypeSymbol)
	for _, typ := range unit.Types() {
		byName[typ.Name] = typ
	}
	return byName
}

func TestExtractDeclarations(t *testing.T) {
	types := parseSymbols(t, symbolsSource)

	point := types["Point"]
	require.NotNil(t, point)
	assert.Equal(t, TypeKindClass, point.Kind)
	assert.Equal(t, AccessPublic, point.Accessibility)
	assert.Equal(t, "Shapes.cs", point.DocumentPath)
	require.Len(t, point.Constructors, 3, "static constructor kept, no implicit one")
	assert.True(t, point.Constructors[0].IsStatic)

	public := point.Constructors[1]
	assert.Equal(t, AccessPublic, public.Accessibility)
	assert.Equal(t, []ParameterSymbol{{Name: "x", Type: "int"}}, public.Parameters)
	assert.Equal(t, point.Span, public.DeclaringSpan)
	doc := parseDocComment(public.DocComment)
	assert.Equal(t, "Makes a point at x .", doc.Summary)
	assert.Equal(t, "Horizontal.", doc.Parameters["x"])

	internal := point.Constructors[2]
	assert.Equal(t, AccessInternal, internal.Accessibility)
	assert.Equal(t, BrowsableNever, internal.Browsable)
	require.Len(t, internal.Parameters, 2)
	assert.Equal(t, "ref", internal.Parameters[0].Modifier)
	assert.Equal(t, "params", internal.Parameters[1].Modifier)
	assert.Equal(t, "int[]", internal.Parameters[1].Type)

	cache := types["Cache"]
	require.NotNil(t, cache)
	assert.Equal(t, AccessPrivate, cache.Accessibility)
	require.Len(t, cache.Constructors, 1)
	assert.True(t, cache.Constructors[0].IsImplicit)
	assert.Equal(t, []TypeContainer{{Name: "Point", Span: point.Span}}, cache.Containers)
	assert.Empty(t, point.Containers, "namespaces are not containers")

	size := types["Size"]
	require.NotNil(t, size)
	assert.Equal(t, TypeKindStruct, size.Kind)
	assert.Equal(t, AccessInternal, size.Accessibility)
	require.Len(t, size.Constructors, 2, "structs keep their parameterless constructor")
	assert.Equal(t, []ParameterSymbol{
		{Name: "w", Type: "int"},
		{Name: "h", Type: "int", HasDefault: true, DefaultValue: "1"},
	}, size.Constructors[0].Parameters)
	assert.True(t, size.Constructors[1].IsImplicit)

	line := types["Line"]
	require.NotNil(t, line)
	require.Len(t, line.Constructors, 1)
	assert.Equal(t, []ParameterSymbol{{Name: "From", Type: "Point"}, {Name: "To", Type: "Point"}}, line.Constructors[0].Parameters)

	filter := types["Filter"]
	require.NotNil(t, filter)
	assert.Equal(t, TypeKindDelegate, filter.Kind)
	assert.Equal(t, []string{"T"}, filter.TypeParameters)
	require.NotNil(t, filter.Invoke)
	assert.Equal(t, "bool", filter.Invoke.ReturnType)
	assert.Equal(t, []ParameterSymbol{{Name: "item", Type: "T"}, {Name: "reason", Type: "string", Modifier: "out"}}, filter.Invoke.Parameters)

	shape := types["IShape"]
	require.NotNil(t, shape)
	assert.Empty(t, shape.Constructors)
}

func TestExtractDeclarations_InactiveCode(t *testing.T) {
	src := "#if LEGACY\nclass Old { }\n#endif\nclass New { }\n"
	types := parseSymbols(t, src)
	assert.Nil(t, types["Old"])
	assert.NotNil(t, types["New"])
}

func TestLeadingDocComment(t *testing.T) {
	src := "/// <summary>\n/// Hi.\n/// </summary>\n[Serializable]\nclass C { }\n"
	start := len("/// <summary>\n/// Hi.\n/// </summary>\n[Serializable]\n")
	assert.Equal(t, " <summary>\n Hi.\n </summary>", leadingDocComment([]byte(src), start))

	plain := "// not a doc comment\nclass C { }\n"
	assert.Empty(t, leadingDocComment([]byte(plain), len("// not a doc comment\n")))
	assert.Empty(t, leadingDocComment([]byte("class C { }"), 0))
}

func TestParseDocComment(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   string
		params map[string]string
	}{
		{"empty", "  ", "", nil},
		{"summary only", "<summary>Creates a <see cref=\"T:System.String\"/>.</summary>", "Creates a String .", nil},
		{"params", "<summary>S</summary><param name=\"a\">First <c>a</c>.</param><param>unnamed</param>", "S", map[string]string{"a": "First a."}},
		{"langword", "<summary>Returns <see langword=\"null\"/>.</summary>", "Returns null .", nil},
		{"malformed", "<summary>oops", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDocComment(tt.raw)
			assert.Equal(t, tt.want, doc.Summary)
			assert.Equal(t, tt.params, doc.Parameters)
		})
	}
}

func TestAccessibilityOf(t *testing.T) {
	assert.Equal(t, AccessProtectedInternal, accessibilityOf([]string{"protected", "internal"}, AccessPrivate))
	assert.Equal(t, AccessPrivateProtected, accessibilityOf([]string{"private", "protected"}, AccessPrivate))
	assert.Equal(t, AccessInternal, accessibilityOf([]string{"static"}, AccessInternal))
}
