package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// IMGCONV_WORKER_COUNT or IMGCONV_CACHE_THUMBNAIL_BYTES.
const EnvPrefix = "IMGCONV"

// Load builds a Config from v, layering file values and environment variables
// over Default().  The result is validated.
func Load(v *viper.Viper) (Config, error) {
	def := Default()
	setDefaults(v, def)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("worker_count", c.WorkerCount)
	v.SetDefault("job_timeout", c.JobTimeout)
	v.SetDefault("default_quality", c.DefaultQuality)
	v.SetDefault("max_image_bytes", c.MaxImageBytes)
	v.SetDefault("chunk_size", c.ChunkSize)

	v.SetDefault("search.min_quality", c.Search.MinQuality)
	v.SetDefault("search.max_quality", c.Search.MaxQuality)
	v.SetDefault("search.max_iterations", c.Search.MaxIterations)
	v.SetDefault("search.default_tolerance", c.Search.DefaultTolerance)

	v.SetDefault("cache.thumbnail_bytes", c.Cache.ThumbnailBytes)
	v.SetDefault("cache.input_preview_bytes", c.Cache.InputPreviewBytes)
	v.SetDefault("cache.output_preview_bytes", c.Cache.OutputPreviewBytes)
	v.SetDefault("cache.memory_fraction", c.Cache.MemoryFraction)

	v.SetDefault("preview.thumbnail_height", c.Preview.ThumbnailHeight)
	v.SetDefault("preview.thumbnail_min_width", c.Preview.ThumbnailMinWidth)
	v.SetDefault("preview.thumbnail_max_width", c.Preview.ThumbnailMaxWidth)
	v.SetDefault("preview.max_width", c.Preview.MaxWidth)
	v.SetDefault("preview.max_height", c.Preview.MaxHeight)

	v.SetDefault("output.root_dir", c.Output.RootDir)
	v.SetDefault("output.permissions", c.Output.Permissions)

	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("log_format", c.LogFormat)
}
