package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/assetsearch/internal/ddc"
	"github.com/dshills/assetsearch/internal/inventory"
	"github.com/dshills/assetsearch/internal/pipeline"
	"github.com/dshills/assetsearch/internal/storage"
)

// DefaultExtractorName names the built-in JSON extractor
const DefaultExtractorName = "JSONProperties"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	p := pipeline.DefaultConfig()
	dataDir := defaultDataDir()

	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "index.db")},
		Content: ContentConfig{
			Root: ".", Extension: inventory.DefaultExtension,
			Debounce: Duration{inventory.DefaultDebounce},
		},
		Cache: CacheConfig{Dir: filepath.Join(dataDir, "ddc"), Retries: ddc.DefaultMaxRetries},
		Pipeline: PipelineConfig{
			ScanRate:          p.ScanRatePerTick,
			ParallelFetches:   p.ParallelFetches,
			FetchDrainRate:    p.FetchDrainPerTick,
			IdleSleep:         Duration{p.IdleSleep},
			TickInterval:      Duration{100 * time.Millisecond},
			StatsRefresh:      Duration{p.StatsRefresh},
			ReconcileBatch:    storage.DefaultReconcileBatch,
			ReconnectInterval: Duration{p.ReconnectInterval},
			MaxSearchHits:     p.MaxSearchHits,
		},
		Log:   LogConfig{Level: "info"},
		Types: []TypeConfig{{Name: inventory.DefaultType}},
		Extractors: []ExtractorConfig{
			{Type: inventory.DefaultType, Name: DefaultExtractorName, Version: 1},
		},
	}
}

func defaultDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".assetsearch"
	}
	return filepath.Join(dir, "assetsearch")
}
