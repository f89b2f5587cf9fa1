// ctorhelp/ctorhelp_utils_test.go
package ctorhelp

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" INFO ", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateAndGetFilePath(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    string
		wantErr bool
	}{
		{name: "simple", uri: "file:///tmp/App/Program.cs", want: filepath.FromSlash("/tmp/App/Program.cs")},
		{name: "escaped space", uri: "file:///tmp/My%20App/A.cs", want: filepath.FromSlash("/tmp/My App/A.cs")},
		{name: "cleaned", uri: "file:///tmp/App/../B.cs", want: filepath.FromSlash("/tmp/B.cs")},
		{name: "empty", uri: "", wantErr: true},
		{name: "wrong scheme", uri: "untitled:Untitled-1", wantErr: true},
		{name: "http", uri: "http://example.com/a.cs", wantErr: true},
		{name: "relative", uri: "file:a.cs", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAndGetFilePath(tt.uri, discardLogger())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPathToURI_RoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "My App", "Program.cs")
	uri := PathToURI(p)
	assert.Contains(t, uri, "My%20App")
	back, err := ValidateAndGetFilePath(uri, nil)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestLspPositionToBytePosition(t *testing.T) {
	content := []byte("var a = 1;\r\nvar é = new C(😀, x);\nlast")
	tests := []struct {
		name    string
		pos     LSPPosition
		want    int
		wantErr error
	}{
		{"start", LSPPosition{0, 0}, 0, nil},
		{"end of first line clamps before CR", LSPPosition{0, 40}, len("var a = 1;"), nil},
		{"after multibyte", LSPPosition{1, 5}, len("var a = 1;\r\nvar é"), nil},
		{"after surrogate pair", LSPPosition{1, 16}, len("var a = 1;\r\nvar é = new C(😀"), nil},
		{"inside surrogate pair", LSPPosition{1, 15}, len("var a = 1;\r\nvar é = new C("), nil},
		{"last line", LSPPosition{2, 4}, len(content), nil},
		{"line past the end", LSPPosition{3, 0}, -1, ErrPositionOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LspPositionToBytePosition(content, tt.pos)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LspPositionToBytePosition(nil, LSPPosition{})
	assert.ErrorIs(t, err, ErrPositionConversion)
}

func TestUtf16OffsetToBytes(t *testing.T) {
	_, err := Utf16OffsetToBytes([]byte("abc"), -1)
	assert.ErrorIs(t, err, ErrInvalidPositionInput)

	n, err := Utf16OffsetToBytes([]byte("abc"), 5)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)
	assert.Equal(t, 3, n)

	_, err = Utf16OffsetToBytes([]byte{'a', 0xff, 'b'}, 3)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestBytePositionToLSPPosition(t *testing.T) {
	content := []byte("ab\nc😀d")
	pos, err := BytePositionToLSPPosition(content, len(content))
	require.NoError(t, err)
	assert.Equal(t, LSPPosition{Line: 1, Character: 4}, pos)

	pos, err = BytePositionToLSPPosition(content, 3)
	require.NoError(t, err)
	assert.Equal(t, LSPPosition{Line: 1, Character: 0}, pos)

	_, err = BytePositionToLSPPosition(content, len(content)+1)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)
}

func TestLoadAndMergeConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := getDefaultConfig()

	found, err := LoadAndMergeConfig(path, &cfg, discardLogger())
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	found, err = LoadAndMergeConfig(path, &cfg, discardLogger())
	require.NoError(t, err)
	assert.False(t, found, "empty files are ignored")

	require.NoError(t, os.WriteFile(path, []byte(`{"hide_advanced_members": true}`), 0o644))
	found, err = LoadAndMergeConfig(path, &cfg, discardLogger())
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, cfg.HideAdvancedMembers)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = LoadAndMergeConfig(path, &cfg, discardLogger())
	assert.True(t, errors.Is(err, errConfigParse))
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	want := getDefaultConfig()
	want.HideAdvancedMembers = true
	require.NoError(t, WriteDefaultConfig(path, want, discardLogger()))

	got := getDefaultConfig()
	found, err := LoadAndMergeConfig(path, &got, discardLogger())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.HideAdvancedMembers, got.HideAdvancedMembers)
	assert.Equal(t, want.LogLevel, got.LogLevel)
	assert.Equal(t, want.MemoryCacheTTLSeconds, got.MemoryCacheTTLSeconds)
}

func TestDeleteCacheEntryByKey(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "t.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bucket, key := []byte("b"), []byte("k")
	assert.NoError(t, deleteCacheEntryByKey(db, bucket, key, nil), "missing bucket is not an error")

	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucket(bucket)
		if err != nil {
			return err
		}
		return b.Put(key, []byte("v"))
	}))
	require.NoError(t, deleteCacheEntryByKey(db, bucket, key, discardLogger()))
	require.NoError(t, db.View(func(tx *bbolt.Tx) error {
		assert.Nil(t, tx.Bucket(bucket).Get(key))
		return nil
	}))
	assert.Error(t, deleteCacheEntryByKey(nil, bucket, key, nil))
}
