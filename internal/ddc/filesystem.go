package ddc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilesystemCache implements the Cache interface using the filesystem.
// Payloads are zstd-compressed and stored under a two-level directory
// sharded by the SHA-256 of the key. It is safe for concurrent use.
type FilesystemCache struct {
	dir string
}

// NewFilesystemCache creates a new filesystem cache at the specified directory.
func NewFilesystemCache(dir string) (*FilesystemCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemCache{dir: dir}, nil
}

// Dir returns the cache directory path.
func (c *FilesystemCache) Dir() string {
	return c.dir
}

// pathFor returns the payload path for key: {dir}/{h[0:2]}/{h}.zst
func (c *FilesystemCache) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(c.dir, name[:2], name+".zst")
}

// Get retrieves the payload stored under key.
func (c *FilesystemCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(c.pathFor(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	data, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorrupt, key, err)
	}
	return data, nil
}

// Put stores data under key using a temp file and rename.
func (c *FilesystemCache) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	finalPath := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return err
	}

	compressed, err := compress(data)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(finalPath), ".cache_tmp_*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName)

	if _, err := tmpFile.Write(compressed); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, finalPath)
}

// Delete removes the payload stored under key.
func (c *FilesystemCache) Delete(ctx context.Context, key string) error {
	err := os.Remove(c.pathFor(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Size returns the total size of all stored payloads in bytes.
func (c *FilesystemCache) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".zst" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
