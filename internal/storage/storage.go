package storage

import (
	"context"
	"time"

	"github.com/dshills/assetsearch/pkg/types"
)

// Storage defines the interface for persisting and querying indexed asset data.
//
// Implementations are not safe for concurrent use: a single goroutine must
// own a Storage for its whole lifetime.
type Storage interface {
	// Asset operations
	IsUpToDate(ctx context.Context, id types.AssetIdentity, cacheKey string) (bool, error)
	AddOrUpdate(ctx context.Context, id types.AssetIdentity, props []types.Property, cacheKey string) error
	Remove(ctx context.Context, id types.AssetIdentity) error
	ReconcileAgainstSnapshot(ctx context.Context, knownPaths []string) (removed int, err error)
	GetAsset(ctx context.Context, path string) (*Asset, error)
	ListAssetPaths(ctx context.Context) ([]string, error)
	ListProperties(ctx context.Context, path string) ([]types.Property, error)

	// File operations
	GetFileRecord(ctx context.Context, path string) (*FileRecord, error)
	UpsertFileRecord(ctx context.Context, file *FileRecord) error

	// Search operations
	Search(ctx context.Context, match string, limit int, fn func(types.SearchHit) bool) error
	CountIndexedProperties(ctx context.Context) (int64, error)

	// Database operations
	Vacuum(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

// Asset represents a stored asset row
type Asset struct {
	ID        int64
	Name      string
	Type      string
	Path      string
	IndexHash string // cache key that produced the stored properties
}

// Identity returns the asset's identity
func (a *Asset) Identity() types.AssetIdentity {
	return types.AssetIdentity{Path: a.Path, Type: a.Type}
}

// FileRecord tracks the last known state of an asset's backing file
type FileRecord struct {
	Path    string // case-normalized by the caller
	ModTime time.Time
	Hash    string
}
