package pipeline

import "sync/atomic"

// Stats is a point-in-time snapshot of the pipeline's diagnostics counters
type Stats struct {
	Enabled                bool  `json:"enabled"`
	PendingScans           int   `json:"pending_scans"`
	PendingStoreWrites     int   `json:"pending_store_writes"`
	ActiveFetches          int64 `json:"active_fetches"`
	TotalIndexedProperties int64 `json:"total_indexed_properties"`
	AssetsMissingIndex     int64 `json:"assets_missing_index"`
	AssetsIndexed          int64 `json:"assets_indexed"`
	AssetsUpToDate         int64 `json:"assets_up_to_date"`
	CacheHits              int64 `json:"cache_hits"`
	CacheMisses            int64 `json:"cache_misses"`
	Extractions            int64 `json:"extractions"`
}

// counters are written by any context and read by Stats
type counters struct {
	activeFetches          atomic.Int64
	totalIndexedProperties atomic.Int64
	assetsMissingIndex     atomic.Int64
	assetsIndexed          atomic.Int64
	assetsUpToDate         atomic.Int64
	cacheHits              atomic.Int64
	cacheMisses            atomic.Int64
	extractions            atomic.Int64
}
