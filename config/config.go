package config

import (
	"errors"
	"time"
)

const (
	// MinWorkers and MaxWorkers bound the worker pool size.
	MinWorkers = 1
	MaxWorkers = 32
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int           `mapstructure:"worker_count"` // 0 = logical core count
	JobTimeout  time.Duration `mapstructure:"job_timeout"`  // 0 = no timeout

	// Default encode quality used when settings omit one.
	DefaultQuality int `mapstructure:"default_quality"`

	// Streaming / memory limits.
	MaxImageBytes int64 `mapstructure:"max_image_bytes"` // 0 = no limit
	ChunkSize     int   `mapstructure:"chunk_size"`

	Search  SearchConfig  `mapstructure:"search"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Preview PreviewConfig `mapstructure:"preview"`
	Output  OutputConfig  `mapstructure:"output"`

	// Logging.
	LogLevel  string `mapstructure:"log_level"`  // "debug", "info", "warn", "error"
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// SearchConfig controls the target-size quality search.
type SearchConfig struct {
	MinQuality    int `mapstructure:"min_quality"`
	MaxQuality    int `mapstructure:"max_quality"`
	MaxIterations int `mapstructure:"max_iterations"`
	// DefaultTolerance is the fraction of the target used when a request
	// carries no explicit tolerance.
	DefaultTolerance float64 `mapstructure:"default_tolerance"`
}

// CacheConfig sets the byte budget of each cache tier.
type CacheConfig struct {
	ThumbnailBytes     int64 `mapstructure:"thumbnail_bytes"`
	InputPreviewBytes  int64 `mapstructure:"input_preview_bytes"`
	OutputPreviewBytes int64 `mapstructure:"output_preview_bytes"`
	// MemoryFraction caps each tier at this share of the host's available
	// memory.  0 disables the cap.
	MemoryFraction float64 `mapstructure:"memory_fraction"`
}

// PreviewConfig sizes generated thumbnails and previews.
type PreviewConfig struct {
	ThumbnailHeight   int `mapstructure:"thumbnail_height"`
	ThumbnailMinWidth int `mapstructure:"thumbnail_min_width"`
	ThumbnailMaxWidth int `mapstructure:"thumbnail_max_width"`
	MaxWidth          int `mapstructure:"max_width"`
	MaxHeight         int `mapstructure:"max_height"`
}

// OutputConfig configures the local output writer.
type OutputConfig struct {
	RootDir     string `mapstructure:"root_dir"` // empty = paths are used as given
	Permissions uint32 `mapstructure:"permissions"`
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:    0, // resolved at runtime to the logical core count
		JobTimeout:     0,
		DefaultQuality: 85,
		ChunkSize:      32 * 1024,
		Search: SearchConfig{
			MinQuality:       1,
			MaxQuality:       100,
			MaxIterations:    12,
			DefaultTolerance: 0.05,
		},
		Cache: CacheConfig{
			ThumbnailBytes:     8 << 20,
			InputPreviewBytes:  128 << 20,
			OutputPreviewBytes: 64 << 20,
			MemoryFraction:     0.25,
		},
		Preview: PreviewConfig{
			ThumbnailHeight:   24,
			ThumbnailMinWidth: 20,
			ThumbnailMaxWidth: 80,
			MaxWidth:          1600,
			MaxHeight:         1200,
		},
		Output: OutputConfig{
			Permissions: 0o644,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.WorkerCount != 0 && (c.WorkerCount < MinWorkers || c.WorkerCount > MaxWorkers) {
		return errors.New("config: WorkerCount must be between 1 and 32 (0 = core count)")
	}
	if c.JobTimeout < 0 {
		return errors.New("config: JobTimeout must not be negative")
	}
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.Search.MinQuality < 1 || c.Search.MaxQuality > 100 || c.Search.MinQuality > c.Search.MaxQuality {
		return errors.New("config: Search quality range must satisfy 1 <= MinQuality <= MaxQuality <= 100")
	}
	if c.Search.MaxIterations < 1 {
		return errors.New("config: Search.MaxIterations must be at least 1")
	}
	if c.Search.DefaultTolerance < 0 || c.Search.DefaultTolerance >= 1 {
		return errors.New("config: Search.DefaultTolerance must be in [0, 1)")
	}
	if c.Cache.ThumbnailBytes <= 0 || c.Cache.InputPreviewBytes <= 0 || c.Cache.OutputPreviewBytes <= 0 {
		return errors.New("config: cache tier budgets must be positive")
	}
	if c.Cache.MemoryFraction < 0 || c.Cache.MemoryFraction > 1 {
		return errors.New("config: Cache.MemoryFraction must be in [0, 1]")
	}
	p := c.Preview
	if p.ThumbnailHeight <= 0 || p.ThumbnailMinWidth <= 0 || p.ThumbnailMinWidth > p.ThumbnailMaxWidth {
		return errors.New("config: invalid thumbnail geometry")
	}
	if p.MaxWidth <= 0 || p.MaxHeight <= 0 {
		return errors.New("config: preview box must be positive")
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return errors.New("config: LogFormat must be json or console")
	}
	return nil
}
