package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	molerrors "github.com/labviz/molcache/pkg/errors"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "info" {
		t.Errorf("Expected LogLevel to be info, got %s", cfg.Global.LogLevel)
	}
	if cfg.Tiers.Edge.Backend != "disk" {
		t.Errorf("Expected edge backend disk, got %s", cfg.Tiers.Edge.Backend)
	}
	if cfg.Tiers.Durable.Backend != "sqlite" {
		t.Errorf("Expected durable backend sqlite, got %s", cfg.Tiers.Durable.Backend)
	}
	if cfg.Orchestrator.PrefetchConcurrency < 4 || cfg.Orchestrator.PrefetchConcurrency > 8 {
		t.Errorf("Expected modest prefetch fan-out, got %d", cfg.Orchestrator.PrefetchConcurrency)
	}
	if cfg.Tunables.Strategy.MaxCandidates != 30 {
		t.Errorf("Expected MaxCandidates 30, got %d", cfg.Tunables.Strategy.MaxCandidates)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "molcache.yaml")

	configContent := `
global:
  log_level: debug
  log_format: console
  environment: development
tiers:
  fast:
    enabled: true
    max_size: 64MB
    ttl: 2m
  edge:
    enabled: true
    backend: redis
    redis:
      addr: redis.internal:6379
origin:
  kind: http
  url_template: http://origin.local/{key}
  timeout: 5s
tunables:
  quality:
    window: 60
    min_samples: 20
    downgrade_below: 25
    upgrade_above: 50
`
	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load config from file: %v", err)
	}

	if cfg.Global.LogLevel != "debug" {
		t.Errorf("Expected LogLevel debug, got %s", cfg.Global.LogLevel)
	}
	if cfg.Tiers.Fast.TTL != 2*time.Minute {
		t.Errorf("Expected fast TTL 2m, got %v", cfg.Tiers.Fast.TTL)
	}
	if cfg.Tiers.Edge.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Expected redis addr from file, got %s", cfg.Tiers.Edge.Redis.Addr)
	}
	if cfg.Origin.Timeout != 5*time.Second {
		t.Errorf("Expected origin timeout 5s, got %v", cfg.Origin.Timeout)
	}
	if cfg.Tunables.Quality.DowngradeBelow != 25 {
		t.Errorf("Expected DowngradeBelow 25, got %v", cfg.Tunables.Quality.DowngradeBelow)
	}
	// Untouched sections keep their defaults.
	if cfg.Tunables.Profiler.MaxProfiles != 1000 {
		t.Errorf("Expected profiler defaults preserved, got %d", cfg.Tunables.Profiler.MaxProfiles)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded configuration should validate: %v", err)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var ce *molerrors.CacheError
	if !errors.As(err, &ce) || ce.Code != molerrors.ErrCodeConfigLoad {
		t.Errorf("expected CONFIG_LOAD_FAILED, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MOLCACHE_LOG_LEVEL", "warn")
	t.Setenv("MOLCACHE_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("MOLCACHE_WARMER_ENABLED", "true")
	t.Setenv("MOLCACHE_ORIGIN_TIMEOUT", "12s")
	t.Setenv("MOLCACHE_PREFETCH_CONCURRENCY", "8")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "warn" {
		t.Errorf("Expected LogLevel warn, got %s", cfg.Global.LogLevel)
	}
	if cfg.Tiers.Edge.Redis.Addr != "10.0.0.5:6379" {
		t.Errorf("Expected redis addr override, got %s", cfg.Tiers.Edge.Redis.Addr)
	}
	if !cfg.Warmer.Enabled {
		t.Error("Expected warmer enabled")
	}
	if cfg.Origin.Timeout != 12*time.Second {
		t.Errorf("Expected origin timeout 12s, got %v", cfg.Origin.Timeout)
	}
	if cfg.Orchestrator.PrefetchConcurrency != 8 {
		t.Errorf("Expected prefetch concurrency 8, got %d", cfg.Orchestrator.PrefetchConcurrency)
	}
}

func TestLoadFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("MOLCACHE_ORIGIN_TIMEOUT", "soon")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "molcache.yaml")

	cfg := NewDefault()
	cfg.Tiers.Durable.Backend = "s3"
	cfg.Tiers.Durable.S3.Bucket = "structures"
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Tiers.Durable.S3.Bucket != "structures" {
		t.Errorf("bucket = %q after round trip", loaded.Tiers.Durable.S3.Bucket)
	}
	if loaded.Orchestrator.OriginTimeout != cfg.Orchestrator.OriginTimeout {
		t.Errorf("origin timeout = %v, want %v", loaded.Orchestrator.OriginTimeout, cfg.Orchestrator.OriginTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr string
	}{
		{
			name:    "unknown log level",
			mutate:  func(c *Configuration) { c.Global.LogLevel = "verbose" },
			wantErr: "loglevel must be one of",
		},
		{
			name:    "unknown edge backend",
			mutate:  func(c *Configuration) { c.Tiers.Edge.Backend = "memcached" },
			wantErr: "backend must be one of",
		},
		{
			name:    "template without key placeholder",
			mutate:  func(c *Configuration) { c.Origin.URLTemplate = "https://files.rcsb.org/download/" },
			wantErr: "must contain {key}",
		},
		{
			name: "all weights zero",
			mutate: func(c *Configuration) {
				c.Tunables.Strategy.PopularityWeight = 0
				c.Tunables.Strategy.RecencyWeight = 0
				c.Tunables.Strategy.RelevanceWeight = 0
			},
			wantErr: "weights must not all be zero",
		},
		{
			name:    "negative budget",
			mutate:  func(c *Configuration) { c.Tunables.Strategy.MaxBudgetBytes = -1 },
			wantErr: "maxbudgetbytes must be at least 0",
		},
		{
			name:    "untracked tier metadata",
			mutate:  func(c *Configuration) { c.Orchestrator.MaxTrackedEntries = 0 },
			wantErr: "maxtrackedentries must be at least 1",
		},
		{
			name:    "inverted quality thresholds",
			mutate:  func(c *Configuration) { c.Tunables.Quality.DowngradeBelow = 60 },
			wantErr: "must be less than upgrade_above",
		},
		{
			name:    "bad size string",
			mutate:  func(c *Configuration) { c.Tiers.Fast.MaxSize = "lots" },
			wantErr: "invalid size",
		},
		{
			name: "s3 durable without bucket",
			mutate: func(c *Configuration) {
				c.Tiers.Durable.Backend = "s3"
				c.Tiers.Durable.S3.Bucket = ""
			},
			wantErr: "bucket is required",
		},
		{
			name: "disabled tier settings are not checked",
			mutate: func(c *Configuration) {
				c.Tiers.Edge.Enabled = false
				c.Tiers.Edge.Disk.Directory = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !errors.Is(err, molerrors.ErrInvalidConfig) {
				t.Errorf("expected INVALID_CONFIG, got %v", err)
			}
			if !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(tt.wantErr)) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		def     int64
		want    int64
		wantErr bool
	}{
		{"", 42, 42, false},
		{"1KB", 0, 1000, false},
		{"1KiB", 0, 1024, false},
		{"512MB", 0, 512 * 1000 * 1000, false},
		{"nonsense", 0, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in, tt.def)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
