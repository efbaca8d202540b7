// Package config loads the TOML configuration and builds the pipeline's
// collaborators from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath overrides the configuration file location
const EnvConfigPath = "ASSETSEARCH_CONFIG"

// Config represents the application configuration.
type Config struct {
	Database   DatabaseConfig    `toml:"database"`
	Content    ContentConfig     `toml:"content"`
	Cache      CacheConfig       `toml:"cache"`
	Pipeline   PipelineConfig    `toml:"pipeline"`
	Log        LogConfig         `toml:"log"`
	Types      []TypeConfig      `toml:"types"`
	Extractors []ExtractorConfig `toml:"extractors"`
}

// DatabaseConfig holds search store settings.
type DatabaseConfig struct {
	Path string `toml:"path"` // SQLite file, or ":memory:"
}

// ContentConfig describes the asset content root.
type ContentConfig struct {
	Root      string   `toml:"root"`
	Extension string   `toml:"extension"`
	Debounce  Duration `toml:"debounce"` // Watcher quiet period before reporting a change
}

// CacheConfig holds build cache settings.
type CacheConfig struct {
	Dir     string `toml:"dir"`     // Empty keeps payloads in memory for the session
	Retries int    `toml:"retries"` // Attempts per cache operation on a directory cache
}

// PipelineConfig holds the indexing pipeline's tunables.
type PipelineConfig struct {
	ScanRate          int      `toml:"scan_rate"`
	ParallelFetches   int      `toml:"parallel_fetches"`
	FetchDrainRate    int      `toml:"fetch_drain_rate"`
	IdleSleep         Duration `toml:"idle_sleep"`
	TickInterval      Duration `toml:"tick_interval"`
	StatsRefresh      Duration `toml:"stats_refresh"`
	ReconcileBatch    int      `toml:"reconcile_batch"`
	ReconnectInterval Duration `toml:"reconnect_interval"`
	MaxSearchHits     int      `toml:"max_search_hits"`
	ShowMissingAssets bool     `toml:"show_missing_assets"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// TypeConfig declares an asset type and its parent.
type TypeConfig struct {
	Name   string `toml:"name"`
	Parent string `toml:"parent"`
}

// ExtractorConfig binds a JSON extractor to an asset type.
type ExtractorConfig struct {
	Type    string   `toml:"type"`
	Name    string   `toml:"name"`
	Version int      `toml:"version"`
	Nested  []string `toml:"nested"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads the configuration at path. An empty path falls back to
// $ASSETSEARCH_CONFIG and then to the user config directory. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = configFilePath(); err != nil {
			return nil, err
		}
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	// Declared tables replace the defaults rather than decoding into them.
	defaultTypes, defaultExtractors := cfg.Types, cfg.Extractors
	cfg.Types, cfg.Extractors = nil, nil
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if !md.IsDefined("types") {
		cfg.Types = defaultTypes
	}
	if !md.IsDefined("extractors") {
		cfg.Extractors = defaultExtractors
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (cfg *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks the type and extractor declarations.
func (cfg *Config) Validate() error {
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	for i, t := range cfg.Types {
		if t.Name == "" {
			return fmt.Errorf("types[%d]: name is required", i)
		}
	}
	for i, e := range cfg.Extractors {
		if e.Type == "" || e.Name == "" {
			return fmt.Errorf("extractors[%d]: type and name are required", i)
		}
		if e.Version < 0 {
			return fmt.Errorf("extractors[%d]: version cannot be negative", i)
		}
	}
	return nil
}

func configFilePath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "assetsearch", "config.toml"), nil
}

// EnsureDatabaseDir ensures the directory for a database file exists.
func EnsureDatabaseDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dbPath == ":memory:" || dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
