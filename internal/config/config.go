package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	"github.com/labviz/molcache/internal/tuning"
	"github.com/labviz/molcache/pkg/errors"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global       GlobalConfig       `yaml:"global"`
	Server       ServerConfig       `yaml:"server"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Tiers        TiersConfig        `yaml:"tiers"`
	Origin       OriginConfig       `yaml:"origin"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Warmer       WarmerConfig       `yaml:"warmer"`
	Tunables     tuning.Tunables    `yaml:"tunables"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat   string `yaml:"log_format" validate:"oneof=json console"`
	Environment string `yaml:"environment" validate:"oneof=development production"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
	Path      string `yaml:"path" validate:"required_if=Enabled true"`
}

// TiersConfig configures the three cache tiers
type TiersConfig struct {
	Fast    FastTierConfig    `yaml:"fast"`
	Edge    EdgeTierConfig    `yaml:"edge"`
	Durable DurableTierConfig `yaml:"durable"`
}

// FastTierConfig configures the in-process memory tier
type FastTierConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxSize         string        `yaml:"max_size"`
	MaxEntries      int           `yaml:"max_entries" validate:"gte=0"`
	TTL             time.Duration `yaml:"ttl" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
}

// EdgeTierConfig configures the local or shared second tier
type EdgeTierConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend" validate:"oneof=disk redis"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	Disk    DiskConfig    `yaml:"disk"`
	Redis   RedisConfig   `yaml:"redis"`
}

// DiskConfig configures the on-disk edge backend
type DiskConfig struct {
	Directory   string `yaml:"directory"`
	MaxSize     string `yaml:"max_size"`
	Compression bool   `yaml:"compression"`
}

// RedisConfig configures the redis edge backend
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db" validate:"gte=0"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gte=0"`
}

// DurableTierConfig configures the slowest cache tier
type DurableTierConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend" validate:"oneof=sqlite s3"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	S3      S3Config      `yaml:"s3"`
}

// SQLiteConfig configures the sqlite durable backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// S3Config configures the object-store durable backend and the s3 origin
type S3Config struct {
	Bucket             string `yaml:"bucket"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	Prefix             string `yaml:"prefix"`
	ForcePathStyle     bool   `yaml:"force_path_style"`
	AccessKeyID        string `yaml:"access_key_id"`
	SecretAccessKey    string `yaml:"secret_access_key"`
	MultipartThreshold string `yaml:"multipart_threshold"`
	Concurrency        int    `yaml:"concurrency" validate:"gte=0"`
	MaxRetries         int    `yaml:"max_retries" validate:"gte=0"`
}

// OriginConfig configures where total misses are fetched from
type OriginConfig struct {
	Kind           string               `yaml:"kind" validate:"oneof=http s3"`
	URLTemplate    string               `yaml:"url_template"`
	UserAgent      string               `yaml:"user_agent"`
	Timeout        time.Duration        `yaml:"timeout" validate:"gt=0"`
	MaxBodySize    string               `yaml:"max_body_size"`
	S3             S3Config             `yaml:"s3"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings for origin calls
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=1"`
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gte=0"`
	MaxDelay     time.Duration `yaml:"max_delay" validate:"gte=0"`
	Multiplier   float64       `yaml:"multiplier" validate:"gte=1"`
}

// CircuitBreakerConfig represents circuit breaker settings for origin calls
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
}

// OrchestratorConfig configures the lookup path
type OrchestratorConfig struct {
	PrefetchConcurrency int           `yaml:"prefetch_concurrency" validate:"gte=1,lte=64"`
	OriginTimeout       time.Duration `yaml:"origin_timeout" validate:"gt=0"`
	HitRateWindow       time.Duration `yaml:"hit_rate_window" validate:"gt=0"`
	HitRateBuckets      int           `yaml:"hit_rate_buckets" validate:"gte=1"`
	MaxTrackedEntries   int           `yaml:"max_tracked_entries" validate:"gte=1"`
}

// WarmerConfig configures the periodic warming loop
type WarmerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval" validate:"gt=0"`
	CatalogueFile string        `yaml:"catalogue_file" validate:"required_if=Enabled true"`
	TargetHitRate float64       `yaml:"target_hit_rate" validate:"gte=0,lte=1"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			Environment: "production",
		},
		Server: ServerConfig{
			Address:         ":8420",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "molcache",
			Path:      "/metrics",
		},
		Tiers: TiersConfig{
			Fast: FastTierConfig{
				Enabled:         true,
				MaxSize:         "512MB",
				MaxEntries:      10000,
				TTL:             10 * time.Minute,
				CleanupInterval: time.Minute,
			},
			Edge: EdgeTierConfig{
				Enabled: true,
				Backend: "disk",
				TTL:     24 * time.Hour,
				Disk: DiskConfig{
					Directory:   "/var/cache/molcache/edge",
					MaxSize:     "4GB",
					Compression: true,
				},
				Redis: RedisConfig{
					Addr:        "localhost:6379",
					KeyPrefix:   "molcache:",
					DialTimeout: 5 * time.Second,
				},
			},
			Durable: DurableTierConfig{
				Enabled: true,
				Backend: "sqlite",
				TTL:     7 * 24 * time.Hour,
				SQLite: SQLiteConfig{
					Path: "/var/lib/molcache/durable.db",
				},
				S3: S3Config{
					Region:             "us-east-1",
					Prefix:             "molcache/",
					MultipartThreshold: "32MB",
					Concurrency:        4,
					MaxRetries:         3,
				},
			},
		},
		Origin: OriginConfig{
			Kind:        "http",
			URLTemplate: "https://files.rcsb.org/download/{key}.cif",
			UserAgent:   "molcache/1.0",
			Timeout:     30 * time.Second,
			MaxBodySize: "256MB",
			S3: S3Config{
				Region:     "us-east-1",
				MaxRetries: 3,
			},
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2.0,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
			},
		},
		Orchestrator: OrchestratorConfig{
			PrefetchConcurrency: 6,
			OriginTimeout:       30 * time.Second,
			HitRateWindow:       time.Minute,
			HitRateBuckets:      6,
			MaxTrackedEntries:   100000,
		},
		Warmer: WarmerConfig{
			Enabled:       false,
			Interval:      5 * time.Minute,
			TargetHitRate: 0.8,
		},
		Tunables: tuning.Default(),
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err)
	}

	return nil
}

// LoadFromEnv overrides settings from MOLCACHE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	str := map[string]*string{
		"MOLCACHE_LOG_LEVEL":        &c.Global.LogLevel,
		"MOLCACHE_LOG_FORMAT":       &c.Global.LogFormat,
		"MOLCACHE_ENVIRONMENT":      &c.Global.Environment,
		"MOLCACHE_SERVER_ADDRESS":   &c.Server.Address,
		"MOLCACHE_FAST_MAX_SIZE":    &c.Tiers.Fast.MaxSize,
		"MOLCACHE_EDGE_BACKEND":     &c.Tiers.Edge.Backend,
		"MOLCACHE_DISK_DIR":         &c.Tiers.Edge.Disk.Directory,
		"MOLCACHE_REDIS_ADDR":       &c.Tiers.Edge.Redis.Addr,
		"MOLCACHE_REDIS_PASSWORD":   &c.Tiers.Edge.Redis.Password,
		"MOLCACHE_DURABLE_BACKEND":  &c.Tiers.Durable.Backend,
		"MOLCACHE_SQLITE_PATH":      &c.Tiers.Durable.SQLite.Path,
		"MOLCACHE_S3_BUCKET":        &c.Tiers.Durable.S3.Bucket,
		"MOLCACHE_S3_REGION":        &c.Tiers.Durable.S3.Region,
		"MOLCACHE_S3_ENDPOINT":      &c.Tiers.Durable.S3.Endpoint,
		"MOLCACHE_ORIGIN_KIND":      &c.Origin.Kind,
		"MOLCACHE_ORIGIN_URL":       &c.Origin.URLTemplate,
		"MOLCACHE_ORIGIN_S3_BUCKET": &c.Origin.S3.Bucket,
		"MOLCACHE_CATALOGUE_FILE":   &c.Warmer.CatalogueFile,
	}
	for name, dst := range str {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}

	boolean := map[string]*bool{
		"MOLCACHE_METRICS_ENABLED": &c.Metrics.Enabled,
		"MOLCACHE_EDGE_ENABLED":    &c.Tiers.Edge.Enabled,
		"MOLCACHE_DURABLE_ENABLED": &c.Tiers.Durable.Enabled,
		"MOLCACHE_WARMER_ENABLED":  &c.Warmer.Enabled,
	}
	for name, dst := range boolean {
		if val := os.Getenv(name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				return errors.Newf(errors.ErrCodeConfigLoad, "%s: %v", name, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"MOLCACHE_ORIGIN_TIMEOUT":  &c.Origin.Timeout,
		"MOLCACHE_FAST_TTL":        &c.Tiers.Fast.TTL,
		"MOLCACHE_WARMER_INTERVAL": &c.Warmer.Interval,
	}
	for name, dst := range durations {
		if val := os.Getenv(name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				return errors.Newf(errors.ErrCodeConfigLoad, "%s: %v", name, err)
			}
			*dst = d
		}
	}

	if val := os.Getenv("MOLCACHE_PREFETCH_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.Newf(errors.ErrCodeConfigLoad, "MOLCACHE_PREFETCH_CONCURRENCY: %v", err)
		}
		c.Orchestrator.PrefetchConcurrency = n
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to create config directory", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to write config file", err)
	}

	return nil
}

// Validate checks struct tags first, then the rules that span fields.
func (c *Configuration) Validate() error {
	if err := validateStruct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, "configuration validation failed", err)
	}

	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	sizes := map[string]string{
		"tiers.fast.max_size":                  c.Tiers.Fast.MaxSize,
		"origin.max_body_size":                 c.Origin.MaxBodySize,
		"tiers.edge.disk.max_size":             c.Tiers.Edge.Disk.MaxSize,
		"tiers.durable.s3.multipart_threshold": c.Tiers.Durable.S3.MultipartThreshold,
	}
	for field, val := range sizes {
		if val == "" {
			continue
		}
		if _, err := humanize.ParseBytes(val); err != nil {
			add("%s: invalid size %q", field, val)
		}
	}

	if c.Tiers.Edge.Enabled {
		switch c.Tiers.Edge.Backend {
		case "disk":
			if c.Tiers.Edge.Disk.Directory == "" {
				add("tiers.edge.disk.directory is required for the disk backend")
			}
		case "redis":
			if c.Tiers.Edge.Redis.Addr == "" {
				add("tiers.edge.redis.addr is required for the redis backend")
			}
		}
	}
	if c.Tiers.Durable.Enabled {
		switch c.Tiers.Durable.Backend {
		case "sqlite":
			if c.Tiers.Durable.SQLite.Path == "" {
				add("tiers.durable.sqlite.path is required for the sqlite backend")
			}
		case "s3":
			if c.Tiers.Durable.S3.Bucket == "" {
				add("tiers.durable.s3.bucket is required for the s3 backend")
			}
		}
	}

	switch c.Origin.Kind {
	case "http":
		if !strings.Contains(c.Origin.URLTemplate, "{key}") {
			add("origin.url_template must contain {key}")
		}
	case "s3":
		if c.Origin.S3.Bucket == "" {
			add("origin.s3.bucket is required for the s3 origin")
		}
	}

	s := c.Tunables.Strategy
	if s.PopularityWeight+s.RecencyWeight+s.RelevanceWeight <= 0 {
		add("tunables.strategy weights must not all be zero")
	}
	if s.WeightFloor > s.WeightCeiling {
		add("tunables.strategy.weight_floor exceeds weight_ceiling")
	}
	q := c.Tunables.Quality
	if q.DowngradeBelow >= q.UpgradeAbove {
		add("tunables.quality.downgrade_below (%v) must be less than upgrade_above (%v)", q.DowngradeBelow, q.UpgradeAbove)
	}
	if q.MinSamples > q.Window {
		add("tunables.quality.min_samples (%d) exceeds window (%d)", q.MinSamples, q.Window)
	}

	if len(problems) > 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ParseSize converts a human size string like "512MB" to bytes. An empty
// string yields def.
func ParseSize(s string, def int64) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid size %q", s), err)
	}
	return int64(n), nil
}
