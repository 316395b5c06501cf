// Package config holds the tunables of a database handle and loads them
// from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jobala/rdb/logger"
	"github.com/jobala/rdb/storage/page"
	"github.com/jobala/rdb/telemetry"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Indexing    IndexingConfig    `yaml:"indexing"`
	Performance PerformanceConfig `yaml:"performance"`
	Logging     logger.Config     `yaml:"logging"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
}

type StorageConfig struct {
	PageSize             int `yaml:"page_size"`
	BufferPoolSize       int `yaml:"buffer_pool_size"`
	CompressionThreshold int `yaml:"compression_threshold"`
	// ReplacerK is the K of the LRU-K replacer. 1 is plain LRU.
	ReplacerK int `yaml:"replacer_k"`
	// FlushInterval enables the background flusher when positive.
	FlushInterval       time.Duration `yaml:"flush_interval"`
	FlushPagesPerSecond int           `yaml:"flush_pages_per_second"`
}

type CacheConfig struct {
	EnableQueryCache bool          `yaml:"enable_query_cache"`
	QueryCacheSize   int           `yaml:"query_cache_size"`
	QueryCacheTTL    time.Duration `yaml:"query_cache_ttl"`
}

type IndexingConfig struct {
	BtreeNodeSize int `yaml:"btree_node_size"`
	// AutoIndexPrimaryKeys lets selects on the primary key use the index.
	// The index is maintained either way.
	AutoIndexPrimaryKeys bool `yaml:"auto_index_primary_keys"`
}

type PerformanceConfig struct {
	AutoCompact bool `yaml:"auto_compact"`
	// CompactThreshold is the free space percentage below which a page is
	// compacted after a delete or update.
	CompactThreshold int `yaml:"compact_threshold"`
	MaxBatchSize     int `yaml:"max_batch_size"`
}

func Default() Config {
	return Config{
		Storage: StorageConfig{
			PageSize:             page.PAGE_SIZE,
			BufferPoolSize:       500,
			CompressionThreshold: page.DEFAULT_COMPRESSION_THRESHOLD,
			ReplacerK:            1,
		},
		Cache: CacheConfig{
			EnableQueryCache: true,
			QueryCacheSize:   1000,
			QueryCacheTTL:    300 * time.Second,
		},
		Indexing: IndexingConfig{
			BtreeNodeSize:        64,
			AutoIndexPrimaryKeys: true,
		},
		Performance: PerformanceConfig{
			AutoCompact:      true,
			CompactThreshold: page.DEFAULT_COMPACT_THRESHOLD,
			MaxBatchSize:     10000,
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Telemetry: telemetry.Config{
			ServiceName: "rdb",
		},
	}
}

// Load reads path over the defaults, so fields the file leaves out keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if c.Storage.PageSize != page.PAGE_SIZE {
		errs = append(errs, fmt.Errorf("storage.page_size must be %d, got %d", page.PAGE_SIZE, c.Storage.PageSize))
	}
	if c.Storage.BufferPoolSize < 8 {
		errs = append(errs, fmt.Errorf("storage.buffer_pool_size must be at least 8, got %d", c.Storage.BufferPoolSize))
	}
	if c.Storage.CompressionThreshold < 1 {
		errs = append(errs, fmt.Errorf("storage.compression_threshold must be positive, got %d", c.Storage.CompressionThreshold))
	}
	if c.Storage.ReplacerK < 1 {
		errs = append(errs, fmt.Errorf("storage.replacer_k must be at least 1, got %d", c.Storage.ReplacerK))
	}
	if c.Storage.FlushInterval < 0 || c.Storage.FlushPagesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("storage.flush_interval and flush_pages_per_second cannot be negative"))
	}
	if c.Cache.EnableQueryCache && c.Cache.QueryCacheSize < 1 {
		errs = append(errs, fmt.Errorf("cache.query_cache_size must be positive, got %d", c.Cache.QueryCacheSize))
	}
	if c.Cache.QueryCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.query_cache_ttl cannot be negative"))
	}
	if c.Indexing.BtreeNodeSize < 3 {
		errs = append(errs, fmt.Errorf("indexing.btree_node_size must be at least 3, got %d", c.Indexing.BtreeNodeSize))
	}
	if c.Performance.CompactThreshold < 0 || c.Performance.CompactThreshold > 100 {
		errs = append(errs, fmt.Errorf("performance.compact_threshold must be a percentage, got %d", c.Performance.CompactThreshold))
	}
	if c.Performance.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("performance.max_batch_size must be positive, got %d", c.Performance.MaxBatchSize))
	}

	return errors.Join(errs...)
}
