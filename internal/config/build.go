package config

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dshills/assetsearch/internal/ddc"
	"github.com/dshills/assetsearch/internal/extractor"
	"github.com/dshills/assetsearch/internal/pipeline"
	"github.com/dshills/assetsearch/internal/storage"
)

// PipelineOptions converts the [pipeline] section into pipeline.Config
func (cfg *Config) PipelineOptions() pipeline.Config {
	p := cfg.Pipeline
	return pipeline.Config{
		ScanRatePerTick:   p.ScanRate,
		ParallelFetches:   p.ParallelFetches,
		FetchDrainPerTick: p.FetchDrainRate,
		IdleSleep:         p.IdleSleep.Duration,
		StatsRefresh:      p.StatsRefresh.Duration,
		MaxSearchHits:     p.MaxSearchHits,
		ReconnectInterval: p.ReconnectInterval.Duration,
		ShowMissingAssets: p.ShowMissingAssets,
	}
}

// Registry builds an extractor registry from the [[types]] and
// [[extractors]] declarations. The registry is not frozen.
func (cfg *Config) Registry() (*extractor.Registry, error) {
	reg := extractor.NewRegistry()

	declared := make(map[string]bool, len(cfg.Types))
	for _, t := range cfg.Types {
		if err := reg.RegisterType(t.Name, t.Parent); err != nil {
			return nil, fmt.Errorf("type %s: %w", t.Name, err)
		}
		declared[t.Name] = true
	}
	// Parents that are never declared become root types.
	for _, t := range cfg.Types {
		if t.Parent != "" && !declared[t.Parent] {
			if err := reg.RegisterType(t.Parent, ""); err != nil {
				return nil, fmt.Errorf("type %s: %w", t.Parent, err)
			}
			declared[t.Parent] = true
		}
	}
	for _, e := range cfg.Extractors {
		ex := extractor.NewJSONExtractor(e.Name, e.Version, e.Nested...)
		if err := reg.Register(e.Type, ex); err != nil {
			return nil, fmt.Errorf("extractor %s: %w", e.Name, err)
		}
	}
	return reg, nil
}

// BuildCache opens the configured build cache. A directory cache retries
// failed operations; it may live on a shared or network volume.
func (cfg *Config) BuildCache() (ddc.Cache, error) {
	if cfg.Cache.Dir == "" {
		return ddc.NewMemoryCache(), nil
	}
	fs, err := ddc.NewFilesystemCache(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}
	retry := ddc.DefaultRetryConfig()
	retry.MaxRetries = cfg.Cache.Retries
	return ddc.WithRetry(fs, retry), nil
}

// OpenStore opens the configured search store
func (cfg *Config) OpenStore() (*storage.SQLiteStorage, error) {
	if err := EnsureDatabaseDir(cfg.Database.Path); err != nil {
		return nil, err
	}
	return storage.NewSQLiteStorage(cfg.Database.Path, storage.WithReconcileBatch(cfg.Pipeline.ReconcileBatch))
}

// StoreOpener adapts OpenStore for the pipeline
func (cfg *Config) StoreOpener(logger *log.Logger) pipeline.OpenFunc {
	return func() (storage.Storage, error) {
		store, err := cfg.OpenStore()
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Debug("search store opened", "path", store.Path(), "driver", storage.DriverName)
		}
		return store, nil
	}
}
