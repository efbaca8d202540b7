// Package filehash tracks the content hash of each asset's backing file,
// recomputing it only when the file's modification time changes.
package filehash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/assetsearch/internal/storage"
	"github.com/dshills/assetsearch/pkg/types"
)

// FileSystem resolves assets to their backing files
type FileSystem interface {
	// Resolve returns the backing file path and its current modification time
	Resolve(id types.AssetIdentity) (path string, modTime time.Time, err error)
	// Hash returns the hex content hash of the file at path
	Hash(path string) (string, error)
}

// Store persists file records. storage.SQLiteStorage satisfies it.
type Store interface {
	GetFileRecord(ctx context.Context, path string) (*storage.FileRecord, error)
	UpsertFileRecord(ctx context.Context, file *storage.FileRecord) error
}

// Cache is the file hash cache. It must only be used by the goroutine that
// owns the Store.
type Cache struct {
	store  Store
	fs     FileSystem
	logger *log.Logger
}

// New creates a Cache over store and fs
func New(store Store, fs FileSystem, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	return &Cache{store: store, fs: fs, logger: logger}
}

// NormalizePath returns the case-normalized, slash-separated form of path
// used as the file record key
func NormalizePath(path string) string {
	return strings.ToLower(filepath.ToSlash(path))
}

// GetOrRefresh returns the current file info for id and whether the backing
// file changed since it was last recorded.
//
// When the file cannot be resolved or read the returned info has an empty
// hash (IsValid reports false), changed is false and no record is written.
func (c *Cache) GetOrRefresh(ctx context.Context, id types.AssetIdentity) (types.FileInfo, bool) {
	path, modTime, err := c.fs.Resolve(id)
	if err != nil {
		c.logger.Debug("cannot resolve backing file", "asset", id.Path, "err", err)
		return types.FileInfo{}, false
	}
	info := types.FileInfo{Path: NormalizePath(path), ModTime: modTime}

	rec, err := c.store.GetFileRecord(ctx, info.Path)
	switch {
	case err == nil && rec.ModTime.UnixNano() == modTime.UnixNano():
		info.Hash = rec.Hash
		return info, false
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		c.logger.Warn("failed to read file record", "path", info.Path, "err", err)
	}

	hash, err := c.fs.Hash(path)
	if err != nil || hash == "" {
		c.logger.Debug("cannot hash backing file", "asset", id.Path, "path", path, "err", err)
		return types.FileInfo{Path: info.Path, ModTime: modTime}, false
	}
	info.Hash = hash

	if err := c.store.UpsertFileRecord(ctx, &storage.FileRecord{Path: info.Path, ModTime: modTime, Hash: hash}); err != nil {
		c.logger.Warn("failed to write file record", "path", info.Path, "err", err)
	}
	return info, true
}

// HashFile computes the SHA-256 hash of a file as lowercase hex
func HashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
