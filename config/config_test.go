package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Skryldev/imgconv/config"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Validate(config.Default()); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"workers too many", func(c *config.Config) { c.WorkerCount = 33 }},
		{"workers negative", func(c *config.Config) { c.WorkerCount = -1 }},
		{"quality zero", func(c *config.Config) { c.DefaultQuality = 0 }},
		{"chunk zero", func(c *config.Config) { c.ChunkSize = 0 }},
		{"search range inverted", func(c *config.Config) { c.Search.MinQuality = 90; c.Search.MaxQuality = 10 }},
		{"search iterations", func(c *config.Config) { c.Search.MaxIterations = 0 }},
		{"tolerance", func(c *config.Config) { c.Search.DefaultTolerance = 1 }},
		{"cache budget", func(c *config.Config) { c.Cache.OutputPreviewBytes = 0 }},
		{"thumb widths", func(c *config.Config) { c.Preview.ThumbnailMinWidth = 100 }},
		{"log format", func(c *config.Config) { c.LogFormat = "xml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := config.Validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := config.Default()
	cfg.WorkerCount = 32
	if err := config.Validate(cfg); err != nil {
		t.Errorf("32 workers should be valid: %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imgconv.yaml")
	body := []byte("worker_count: 4\njob_timeout: 45s\nsearch:\n  max_iterations: 8\ncache:\n  thumbnail_bytes: 1024\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMGCONV_DEFAULT_QUALITY", "70")

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig: %v", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount: got %d, want 4", cfg.WorkerCount)
	}
	if cfg.JobTimeout != 45*time.Second {
		t.Errorf("JobTimeout: got %s, want 45s", cfg.JobTimeout)
	}
	if cfg.Search.MaxIterations != 8 {
		t.Errorf("MaxIterations: got %d, want 8", cfg.Search.MaxIterations)
	}
	if cfg.Search.MaxQuality != 100 {
		t.Errorf("unset keys must keep defaults, MaxQuality=%d", cfg.Search.MaxQuality)
	}
	if cfg.Cache.ThumbnailBytes != 1024 {
		t.Errorf("ThumbnailBytes: got %d", cfg.Cache.ThumbnailBytes)
	}
	if cfg.DefaultQuality != 70 {
		t.Errorf("env override: DefaultQuality=%d, want 70", cfg.DefaultQuality)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("worker_count", 64)
	if _, err := config.Load(v); err == nil {
		t.Error("expected error for worker_count=64")
	}
}
