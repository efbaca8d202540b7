// Package inventory is the asset registry for a content directory. It maps
// asset files to identities, reports discovered and removed assets to a
// Sink, and serves asset content to the file hash cache and extractors.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dshills/assetsearch/internal/extractor"
	"github.com/dshills/assetsearch/internal/filehash"
	"github.com/dshills/assetsearch/pkg/types"
)

// DefaultType is assigned to assets that do not declare a $type
const DefaultType = "Object"

// DefaultExtension is the asset file extension when none is configured
const DefaultExtension = ".json"

// ErrOutsideRoot is returned for files that are not under the content root
var ErrOutsideRoot = errors.New("path is outside the content root")

// Sink receives inventory events. *pipeline.Pipeline satisfies it.
type Sink interface {
	AssetDiscovered(id types.AssetIdentity)
	AssetRemoved(id types.AssetIdentity)
	FullInventorySnapshot(ids []types.AssetIdentity)
}

// Directory is a content root holding one asset per file. An asset's
// identity path is "/" followed by its slash-separated path relative to the
// root, without the extension.
type Directory struct {
	root   string
	ext    string
	logger *log.Logger
}

var (
	_ filehash.FileSystem = (*Directory)(nil)
	_ extractor.Loader    = (*Directory)(nil)
)

// NewDirectory opens the content root
func NewDirectory(root, ext string, logger *log.Logger) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("content root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content root %s is not a directory", abs)
	}
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Directory{root: abs, ext: ext, logger: logger.WithPrefix("inventory")}, nil
}

// Root returns the absolute content root
func (d *Directory) Root() string {
	return d.root
}

// isAssetFile reports whether path has the asset extension
func (d *Directory) isAssetFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), d.ext)
}

// IdentityPath maps an asset file to its identity path
func (d *Directory) IdentityPath(file string) (string, error) {
	rel, err := filepath.Rel(d.root, file)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrOutsideRoot
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return "/" + filepath.ToSlash(rel), nil
}

// FilePath maps an identity back to its asset file
func (d *Directory) FilePath(id types.AssetIdentity) string {
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(id.Path, "/"))+d.ext)
}

// Identify reads the asset file's declared type and returns its identity
func (d *Directory) Identify(file string) (types.AssetIdentity, error) {
	path, err := d.IdentityPath(file)
	if err != nil {
		return types.AssetIdentity{}, err
	}

	f, err := os.Open(file)
	if err != nil {
		return types.AssetIdentity{}, err
	}
	defer func() { _ = f.Close() }()

	var header struct {
		Type string `json:"$type"`
	}
	if err := json.NewDecoder(f).Decode(&header); err != nil {
		return types.AssetIdentity{}, fmt.Errorf("failed to decode %s: %w", file, err)
	}
	if header.Type == "" {
		header.Type = DefaultType
	}
	return types.AssetIdentity{Path: path, Type: header.Type}, nil
}

// List walks the content root and returns every readable asset
func (d *Directory) List(ctx context.Context) ([]types.AssetIdentity, error) {
	ids, _, err := d.walk(ctx)
	return ids, err
}

// walk returns the readable assets under the content root, plus the identity
// paths of asset files that exist but could not be decoded, such as files
// caught mid-write.
func (d *Directory) walk(ctx context.Context) ([]types.AssetIdentity, []string, error) {
	ids := make([]types.AssetIdentity, 0)
	var unreadable []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.logger.Warn("skipping unreadable path", "path", path, "err", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if path != d.root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.isAssetFile(path) {
			return nil
		}

		id, err := d.Identify(path)
		if err != nil {
			d.logger.Warn("skipping asset", "path", path, "err", err)
			if p, pathErr := d.IdentityPath(path); pathErr == nil {
				unreadable = append(unreadable, p)
			}
			return nil
		}
		ids = append(ids, id)
		return nil
	})
	return ids, unreadable, err
}

// Scan reports every readable asset to sink as discovered, followed by a
// full inventory snapshot. Files that exist but cannot be decoded are kept
// in the snapshot so their existing index survives. It returns the number
// of assets discovered.
func (d *Directory) Scan(ctx context.Context, sink Sink) (int, error) {
	start := time.Now()
	ids, unreadable, err := d.walk(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		sink.AssetDiscovered(id)
	}

	snapshot := make([]types.AssetIdentity, 0, len(ids)+len(unreadable))
	snapshot = append(snapshot, ids...)
	for _, path := range unreadable {
		snapshot = append(snapshot, types.AssetIdentity{Path: path, Type: DefaultType})
	}
	sink.FullInventorySnapshot(snapshot)

	d.logger.Info("inventory scanned", "root", d.root, "assets", len(ids), "unreadable", len(unreadable), "duration", time.Since(start))
	return len(ids), nil
}

// Resolve implements filehash.FileSystem
func (d *Directory) Resolve(id types.AssetIdentity) (string, time.Time, error) {
	path := d.FilePath(id)
	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, err
	}
	return path, info.ModTime(), nil
}

// Hash implements filehash.FileSystem
func (d *Directory) Hash(path string) (string, error) {
	return filehash.HashFile(path)
}

// Load implements extractor.Loader by decoding the asset file as JSON
func (d *Directory) Load(ctx context.Context, id types.AssetIdentity) (*extractor.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(d.FilePath(id))
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", id.Path, err)
	}
	return &extractor.Asset{Identity: id, Data: data}, nil
}
