// ctorhelp/ctorhelp_errors.go
// Contains exported error definitions for the ctorhelp package.
package ctorhelp

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrContextFailed indicates a single project context could not be analyzed.
	// The engine degrades such a context to "Not Available" instead of failing the request.
	ErrContextFailed = errors.New("context analysis failed")

	// ErrParse indicates the syntax front end could not produce a tree.
	ErrParse = errors.New("syntax parse failed")

	// ErrWorkspace indicates a workspace could not be loaded.
	ErrWorkspace = errors.New("workspace load failed")

	// ErrManifest indicates the workspace manifest is malformed or inconsistent.
	ErrManifest = errors.New("invalid workspace manifest")

	// ErrDocumentNotFound indicates a path is not part of any loaded project.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrMetadataReference indicates a metadata reference could not be read or decoded.
	ErrMetadataReference = errors.New("metadata reference unavailable")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCache indicates a general cache operation failure.
	ErrCache = errors.New("cache operation failed")

	// ErrCacheRead indicates failure reading from the cache.
	ErrCacheRead = errors.New("cache read failed")

	// ErrCacheWrite indicates failure writing to the cache.
	ErrCacheWrite = errors.New("cache write failed")

	// ErrCacheDecode indicates failure decoding data read from the cache.
	ErrCacheDecode = errors.New("cache decode failed")

	// ErrCacheEncode indicates failure encoding data for writing to the cache.
	ErrCacheEncode = errors.New("cache encode failed")

	// ErrPositionConversion indicates failure converting between position formats (e.g., LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the file or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered during processing.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")
)
