package cachekit

import (
	"os"

	"github.com/google/uuid"
	"github.com/naoina/toml"
)

const (
	defaultMemoryCostLimit  = 200 * 1024 * 1024 // 200 MiB
	defaultDiskCostLimit    = 500 * 1024 * 1024 // 500 MiB
	defaultInlineThreshold  = 20 * 1024         // 20 KiB
	defaultMaxCachePeriod   = 7 * 24 * 60 * 60  // seconds
	defaultAutoIntervalSecs = 120
	defaultReadAccelerator  = 32 * 1024 * 1024 // 32 MiB
)

// MemoryConfig configures the in-memory tier.
type MemoryConfig struct {
	CostLimit                uint64 `toml:"cost_limit"`
	CountLimit               uint64 `toml:"count_limit"`
	AutoPurgeOnMemoryWarning bool   `toml:"auto_purge_on_memory_warning"`
	AutoPurgeOnBackground    bool   `toml:"auto_purge_on_background"`
}

// DiskConfig configures the disk tier and its backing store.
type DiskConfig struct {
	CostLimit          uint64 `toml:"cost_limit"`
	CountLimit         uint64 `toml:"count_limit"`
	InlineThreshold    uint64 `toml:"inline_threshold"`
	MaxCachePeriodSecs uint64 `toml:"max_cache_period_seconds"`
	AutoIntervalSecs   uint64 `toml:"auto_interval_seconds"`

	// ReadAcceleratorBytes sizes the fastcache read accelerator sitting in
	// front of the SQLite store; 0 disables it.
	ReadAcceleratorBytes int `toml:"read_accelerator_bytes"`
}

// Config is the top-level configuration for a HybridCache.
type Config struct {
	// AppID names the cache directory (diskcache.<app-id>) under Root. A
	// random UUID is generated if left empty.
	AppID  string       `toml:"app_id"`
	Root   string       `toml:"root"`
	Memory MemoryConfig `toml:"memory"`
	Disk   DiskConfig   `toml:"disk"`
}

// DefaultConfig returns the defaults specified for every tunable, matching
// a fresh on-disk cache directory under the OS temp dir.
func DefaultConfig() Config {
	return Config{
		AppID: uuid.NewString(),
		Root:  os.TempDir(),
		Memory: MemoryConfig{
			CostLimit:                defaultMemoryCostLimit,
			CountLimit:               0,
			AutoPurgeOnMemoryWarning: true,
			AutoPurgeOnBackground:    true,
		},
		Disk: DiskConfig{
			CostLimit:            defaultDiskCostLimit,
			CountLimit:           0,
			InlineThreshold:      defaultInlineThreshold,
			MaxCachePeriodSecs:   defaultMaxCachePeriod,
			AutoIntervalSecs:     defaultAutoIntervalSecs,
			ReadAcceleratorBytes: defaultReadAccelerator,
		},
	}
}

// LoadConfig reads a TOML file at path, overlaying its contents onto
// DefaultConfig so an unset field retains its default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
