// ctorhelp/ctorhelp_utils.go
package ctorhelp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"go.etcd.io/bbolt"
)

// ============================================================================
// Terminal Colors
// ============================================================================
var (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[38;5;119m"
	ColorYellow = "\033[38;5;220m"
	ColorRed    = "\033[38;5;203m"
)

// ============================================================================
// Exported Helper Functions
// ============================================================================

// PrettyPrint prints colored text to stderr.
func PrettyPrint(color, text string) {
	fmt.Fprint(os.Stderr, color, text, ColorReset)
}

// ParseLogLevel converts a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}

// ============================================================================
// Config File Helpers
// ============================================================================

var errConfigParse = errors.New("parsing config file JSON")

// GetConfigPaths returns the primary (os.UserConfigDir) and secondary
// (~/.config) locations of the config file.
func GetConfigPaths(logger *slog.Logger) (primary, secondary string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	if dir, cfgErr := os.UserConfigDir(); cfgErr == nil {
		primary = filepath.Join(dir, configDirName, defaultConfigFileName)
	} else {
		logger.Debug("User config dir unavailable", "error", cfgErr)
		errs = append(errs, fmt.Errorf("user config dir: %w", cfgErr))
	}
	if home, homeErr := os.UserHomeDir(); homeErr == nil {
		secondary = filepath.Join(home, ".config", configDirName, defaultConfigFileName)
	} else {
		logger.Debug("User home dir unavailable", "error", homeErr)
		errs = append(errs, fmt.Errorf("user home dir: %w", homeErr))
	}
	if primary == "" && secondary == "" {
		return "", "", fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	if primary == "" {
		primary = secondary
	}
	if secondary == "" {
		secondary = primary
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig reads a JSON FileConfig from path and merges it into cfg.
// It reports false, nil when the file does not exist.
func LoadAndMergeConfig(path string, cfg *Config, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("Config file not found", "path", path)
			return false, nil
		}
		return false, fmt.Errorf("reading config file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		logger.Warn("Config file is empty, ignoring", "path", path)
		return false, nil
	}
	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return false, fmt.Errorf("%w: %w", errConfigParse, err)
	}
	mergeFileConfig(cfg, fc)
	return true, nil
}

// WriteDefaultConfig writes cfg as indented JSON, creating parent directories.
func WriteDefaultConfig(path string, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	fc := FileConfig{
		LogLevel:              &cfg.LogLevel,
		HideAdvancedMembers:   &cfg.HideAdvancedMembers,
		MemoryCacheTTLSeconds: &cfg.MemoryCacheTTLSeconds,
		DisableDiskCache:      &cfg.DisableDiskCache,
		CacheDir:              &cfg.CacheDir,
		WorkspaceManifest:     &cfg.WorkspaceManifest,
		DebugListenAddr:       &cfg.DebugListenAddr,
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal default config: %w", ErrConfig, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("%w: create config dir: %w", ErrConfig, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0640); err != nil {
		return fmt.Errorf("%w: write config: %w", ErrConfig, err)
	}
	logger.Info("Wrote default config", "path", path)
	return nil
}

// ============================================================================
// URI Helpers
// ============================================================================

// ValidateAndGetFilePath converts a file:// URI to a clean absolute path.
func ValidateAndGetFilePath(uri string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if uri == "" {
		return "", fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if u.Scheme != "file" {
		logger.Debug("Rejected non-file URI", "uri", uri, "scheme", u.Scheme)
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, u.Scheme)
	}
	path := u.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
	}
	path = filepath.FromSlash(path)
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: path %q is not absolute", ErrInvalidURI, path)
	}
	return filepath.Clean(path), nil
}

// PathToURI converts an absolute path to a file:// URI.
func PathToURI(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

// ============================================================================
// LSP Position Conversion Helpers
// ============================================================================

// LSPPosition represents a 0-based line/character offset (UTF-16).
type LSPPosition struct {
	Line      uint32 `json:"line"`      // 0-based
	Character uint32 `json:"character"` // 0-based, UTF-16 offset
}

// LspPositionToBytePosition converts a 0-based LSP line/character (UTF-16) to a
// 0-based byte offset. Characters past the end of a line clamp to the line end.
func LspPositionToBytePosition(content []byte, lspPos LSPPosition) (int, error) {
	if content == nil {
		return -1, fmt.Errorf("%w: file content is nil", ErrPositionConversion)
	}
	targetLine := int(lspPos.Line)
	lineStart := 0
	for line := 0; line < targetLine; line++ {
		nl := bytes.IndexByte(content[lineStart:], '\n')
		if nl < 0 {
			return -1, fmt.Errorf("%w: LSP line %d not found in file (%d lines)", ErrPositionOutOfRange, targetLine, line+1)
		}
		lineStart += nl + 1
	}
	lineEnd := len(content)
	if nl := bytes.IndexByte(content[lineStart:], '\n'); nl >= 0 {
		lineEnd = lineStart + nl
	}
	lineText := bytes.TrimSuffix(content[lineStart:lineEnd], []byte("\r"))

	offsetInLine, err := Utf16OffsetToBytes(lineText, int(lspPos.Character))
	if err != nil {
		if !errors.Is(err, ErrPositionOutOfRange) {
			return -1, fmt.Errorf("failed converting UTF16 to byte offset on line %d: %w", targetLine, err)
		}
		slog.Debug("UTF16 offset out of range, clamping to line end", "line", targetLine, "char", lspPos.Character)
		offsetInLine = len(lineText)
	}
	return lineStart + offsetInLine, nil
}

// Utf16OffsetToBytes converts a 0-based UTF-16 offset within a line to a 0-based byte offset.
func Utf16OffsetToBytes(line []byte, utf16Offset int) (int, error) {
	if utf16Offset < 0 {
		return 0, fmt.Errorf("%w: invalid utf16Offset: %d (must be >= 0)", ErrInvalidPositionInput, utf16Offset)
	}
	byteOffset := 0
	currentUTF16Offset := 0
	for byteOffset < len(line) && currentUTF16Offset < utf16Offset {
		r, size := utf8.DecodeRune(line[byteOffset:])
		if r == utf8.RuneError && size <= 1 {
			return byteOffset, fmt.Errorf("%w at byte offset %d", ErrInvalidUTF8, byteOffset)
		}
		utf16Units := 1
		if r > 0xFFFF {
			utf16Units = 2 // Surrogate pair.
		}
		if currentUTF16Offset+utf16Units > utf16Offset {
			break
		}
		currentUTF16Offset += utf16Units
		byteOffset += size
	}
	if currentUTF16Offset < utf16Offset && byteOffset >= len(line) {
		return len(line), fmt.Errorf("%w: utf16Offset %d is beyond the line length in UTF-16 units (%d)", ErrPositionOutOfRange, utf16Offset, currentUTF16Offset)
	}
	return byteOffset, nil
}

// BytePositionToLSPPosition converts a 0-based byte offset to an LSP position.
func BytePositionToLSPPosition(content []byte, offset int) (LSPPosition, error) {
	if offset < 0 || offset > len(content) {
		return LSPPosition{}, fmt.Errorf("%w: offset %d outside content of length %d", ErrPositionOutOfRange, offset, len(content))
	}
	lineStart := bytes.LastIndexByte(content[:offset], '\n') + 1
	line := bytes.Count(content[:lineStart], []byte{'\n'})
	utf16 := 0
	for i := lineStart; i < offset; {
		r, size := utf8.DecodeRune(content[i:])
		if r == utf8.RuneError && size <= 1 {
			return LSPPosition{}, fmt.Errorf("%w at byte offset %d", ErrInvalidUTF8, i)
		}
		if r > 0xFFFF {
			utf16 += 2
		} else {
			utf16++
		}
		i += size
	}
	return LSPPosition{Line: uint32(line), Character: uint32(utf16)}, nil
}

// ============================================================================
// Cache Helper Functions
// ============================================================================

// hashContent returns the xxhash of data, used to key cached derived state.
func hashContent(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// deleteCacheEntryByKey removes an entry from bucket directly using the key.
func deleteCacheEntryByKey(db *bbolt.DB, bucket, cacheKey []byte, logger *slog.Logger) error {
	if db == nil {
		return errors.New("cannot delete cache entry: db is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("cache_key", string(cacheKey))

	err := db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			logger.Warn("Cache bucket not found during delete attempt.")
			return nil
		}
		if b.Get(cacheKey) == nil {
			logger.Debug("Cache key not found during delete attempt.")
			return nil
		}
		logger.Debug("Deleting cache entry")
		return b.Delete(cacheKey)
	})
	if err != nil {
		logger.Warn("Failed to delete cache entry", "error", err)
		return fmt.Errorf("%w: failed to delete entry %s: %w", ErrCacheWrite, string(cacheKey), err)
	}
	return nil
}
