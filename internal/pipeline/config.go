package pipeline

import "time"

// Config contains the pipeline's tunables
type Config struct {
	ScanRatePerTick   int           // Discovered assets turned into index requests per Tick (default: 64)
	ParallelFetches   int           // Concurrent build cache fetches (default: 8)
	FetchDrainPerTick int           // Fetch completions handled before yielding to store updates (default: 16)
	IdleSleep         time.Duration // Worker sleep when every queue is empty (default: 50ms)
	StatsRefresh      time.Duration // Interval between indexed-property count refreshes (default: 5s)
	MaxSearchHits     int           // Upper bound on hits streamed per search (default: 1000)
	ReconnectInterval time.Duration // Minimum delay between store open attempts after a failure (default: 30s)
	ShowMissingAssets bool          // Keep the identities of assets missing an index for MissingAssets
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		ScanRatePerTick:   64,
		ParallelFetches:   8,
		FetchDrainPerTick: 16,
		IdleSleep:         50 * time.Millisecond,
		StatsRefresh:      5 * time.Second,
		MaxSearchHits:     1000,
		ReconnectInterval: 30 * time.Second,
	}
}

// withDefaults replaces unset fields with their defaults
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ScanRatePerTick <= 0 {
		c.ScanRatePerTick = d.ScanRatePerTick
	}
	if c.ParallelFetches <= 0 {
		c.ParallelFetches = d.ParallelFetches
	}
	if c.FetchDrainPerTick <= 0 {
		c.FetchDrainPerTick = d.FetchDrainPerTick
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = d.IdleSleep
	}
	if c.StatsRefresh <= 0 {
		c.StatsRefresh = d.StatsRefresh
	}
	if c.MaxSearchHits <= 0 {
		c.MaxSearchHits = d.MaxSearchHits
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = d.ReconnectInterval
	}
	return c
}
