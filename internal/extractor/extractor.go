package extractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/assetsearch/pkg/types"
)

// Common errors
var (
	ErrNoExtractor     = errors.New("no extractor registered for asset type")
	ErrRegistryFrozen  = errors.New("extractor registry is frozen")
	ErrEmptyExtraction = errors.New("extraction produced no properties")
)

// Asset is a loaded asset instance handed to extractors
type Asset struct {
	Identity types.AssetIdentity
	Data     map[string]any // decoded asset content
}

// Extractor turns a loaded asset into searchable properties.
// Implementations are registered per asset type and must be safe for
// concurrent use once the registry is frozen.
type Extractor interface {
	// Name identifies the extractor in cache keys; must be stable
	Name() string

	// Version is bumped whenever the extractor's output changes
	Version() int

	// NestedAssetTypes lists asset types whose extraction output this
	// extractor embeds, so their versions invalidate this one's keys
	NestedAssetTypes() []string

	// Extract produces the properties for asset
	Extract(ctx context.Context, asset *Asset) ([]types.Property, error)
}

// Loader loads an asset instance for extraction
type Loader interface {
	Load(ctx context.Context, id types.AssetIdentity) (*Asset, error)
}

// Extract runs the nearest extractor in the asset type's hierarchy. An
// extractor failure, or an empty result, fails the whole extraction.
func Extract(ctx context.Context, reg *Registry, asset *Asset) (types.PropertyList, error) {
	ex, ok := reg.ExtractorFor(asset.Identity.Type)
	if !ok {
		return types.PropertyList{}, fmt.Errorf("%w: %s", ErrNoExtractor, asset.Identity.Type)
	}
	props, err := ex.Extract(ctx, asset)
	if err != nil {
		return types.PropertyList{}, fmt.Errorf("extractor %s failed: %w", ex.Name(), err)
	}
	if len(props) == 0 {
		return types.PropertyList{}, ErrEmptyExtraction
	}
	return types.PropertyList{Properties: props}, nil
}
