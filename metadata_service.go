// ctorhelp/metadata_service.go
// Builds metadata references from declaration files and persists their symbols in bbolt.
package ctorhelp

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var metadataBucketName = []byte("MetadataSymbols")

// MetadataReference is a compiled reference: its public types plus the
// documentation provider that describes them.
type MetadataReference struct {
	Path          string
	Types         []*TypeSymbol
	Documentation DocumentationProvider
	hash          uint64
}

// cachedMetadataEntry is the gob-encoded bbolt value.
type cachedMetadataEntry struct {
	SchemaVersion int
	Path          string
	ContentHash   uint64
	Types         []*TypeSymbol
}

// MetadataService creates metadata references and caches their symbol tables.
type MetadataService struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	docs   DocumentationProvider
	byPath map[string]*MetadataReference
	logger *slog.Logger
}

// OpenMetadataDB opens (creating if needed) the bbolt symbol cache under
// cacheDir, or under the user cache directory when cacheDir is empty.
func OpenMetadataDB(cacheDir string, logger *slog.Logger) (*bbolt.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheDir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("%w: user cache dir: %w", ErrCache, err)
		}
		cacheDir = filepath.Join(userCacheDir, configDirName)
	}
	dbDir := filepath.Join(cacheDir, "bboltdb", fmt.Sprintf("v%d", cacheSchemaVersion))
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("%w: create cache dir %s: %w", ErrCache, dbDir, err)
	}
	dbPath := filepath.Join(dbDir, "metadata.db")
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrCache, dbPath, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metadataBucketName); err != nil {
			return fmt.Errorf("failed to create cache bucket %s: %w", string(metadataBucketName), err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	logger.Info("Using bbolt metadata cache", "path", dbPath, "schema_version", cacheSchemaVersion)
	return db, nil
}

// NewMetadataService creates the service. A nil db keeps everything in
// memory; a nil docs uses the XML doc comment reader.
func NewMetadataService(db *bbolt.DB, docs DocumentationProvider, logger *slog.Logger) *MetadataService {
	if logger == nil {
		logger = slog.Default()
	}
	if docs == nil {
		docs = xmlDocumentationProvider{}
	}
	return &MetadataService{
		db:     db,
		docs:   docs,
		byPath: make(map[string]*MetadataReference),
		logger: logger.With("component", "MetadataService"),
	}
}

// Lookup returns the reference last loaded for path, if any.
func (s *MetadataService) Lookup(path string) *MetadataReference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byPath[path]
}

// GetReference returns the reference for resolvedPath with the given content.
// Symbol tables are read from bbolt when the content hash matches, and parsed
// and stored otherwise.
func (s *MetadataService) GetReference(ctx context.Context, resolvedPath string, content []byte) (*MetadataReference, error) {
	logger := s.logger.With("op", "GetReference", "path", resolvedPath)
	hash := hashContent(content)
	if ref := s.Lookup(resolvedPath); ref != nil && ref.hash == hash {
		return ref, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := []byte(fmt.Sprintf("%s|%016x", resolvedPath, hash))
	types, err := s.load(key, hash, logger)
	if err != nil {
		logger.Warn("Metadata cache entry unusable, reparsing", "error", err)
		if errors.Is(err, ErrCacheDecode) {
			_ = deleteCacheEntryByKey(s.db, metadataBucketName, key, logger)
		}
		types = nil
	}
	if types == nil {
		unit, parseErr := parseCSharp(ctx, resolvedPath, content, nil, logger)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMetadataReference, resolvedPath, parseErr)
		}
		types = publicTypes(unit.Types())
		if storeErr := s.store(key, resolvedPath, hash, types); storeErr != nil {
			logger.Warn("Failed to persist metadata symbols", "error", storeErr)
		}
	}

	ref := &MetadataReference{Path: resolvedPath, Types: types, Documentation: s.docs, hash: hash}
	s.mu.Lock()
	s.byPath[resolvedPath] = ref
	s.mu.Unlock()
	logger.Debug("Metadata reference loaded", "types", len(types))
	return ref, nil
}

// publicTypes keeps the types a compiled reference exposes.
func publicTypes(types []*TypeSymbol) []*TypeSymbol {
	out := make([]*TypeSymbol, 0, len(types))
	for _, t := range types {
		if t.Accessibility == AccessPublic {
			out = append(out, t)
		}
	}
	return out
}

// load returns nil, nil on a miss.
func (s *MetadataService) load(key []byte, hash uint64, logger *slog.Logger) ([]*TypeSymbol, error) {
	if s.db == nil {
		return nil, nil
	}
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucketName)
		if b == nil {
			return fmt.Errorf("%w: bucket %s not found", ErrCacheRead, string(metadataBucketName))
		}
		if v := b.Get(key); v != nil {
			raw = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		logger.Debug("Metadata cache miss")
		return nil, nil
	}
	var entry cachedMetadataEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheDecode, err)
	}
	if entry.SchemaVersion != cacheSchemaVersion || entry.ContentHash != hash {
		return nil, fmt.Errorf("%w: stale entry (schema %d, hash %016x)", ErrCacheDecode, entry.SchemaVersion, entry.ContentHash)
	}
	logger.Debug("Metadata cache hit", "types", len(entry.Types))
	if entry.Types == nil {
		entry.Types = []*TypeSymbol{}
	}
	return entry.Types, nil
}

func (s *MetadataService) store(key []byte, path string, hash uint64, types []*TypeSymbol) error {
	if s.db == nil {
		return nil
	}
	var buf bytes.Buffer
	entry := cachedMetadataEntry{SchemaVersion: cacheSchemaVersion, Path: path, ContentHash: hash, Types: types}
	if err := gob.NewEncoder(&buf).Encode(&entry); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheEncode, err)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(metadataBucketName)
		if err != nil {
			return err
		}
		return b.Put(key, buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}
	return nil
}

// Invalidate forgets the in-memory reference for path and its persisted entry.
func (s *MetadataService) Invalidate(path string) error {
	s.mu.Lock()
	ref := s.byPath[path]
	delete(s.byPath, path)
	s.mu.Unlock()
	if ref == nil || s.db == nil {
		return nil
	}
	key := []byte(fmt.Sprintf("%s|%016x", path, ref.hash))
	return deleteCacheEntryByKey(s.db, metadataBucketName, key, s.logger)
}

// Close closes the bbolt database, if any.
func (s *MetadataService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	s.logger.Info("Closing bbolt metadata cache.")
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("%w: bbolt close failed: %w", ErrCache, err)
	}
	return nil
}
