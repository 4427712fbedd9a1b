package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/cache"
	"github.com/labviz/molcache/internal/circuit"
	"github.com/labviz/molcache/internal/config"
	"github.com/labviz/molcache/internal/orchestrator"
	"github.com/labviz/molcache/internal/origin"
	"github.com/labviz/molcache/internal/storage/s3"
	"github.com/labviz/molcache/pkg/retry"
	"github.com/labviz/molcache/pkg/types"
)

// buildTiers opens every enabled tier. On error the tiers opened so far
// are closed.
func buildTiers(ctx context.Context, cfg *config.Configuration, logger *zap.Logger) (tiers orchestrator.Tiers, err error) {
	defer func() {
		if err != nil {
			closeTiers(tiers)
		}
	}()

	if fast := cfg.Tiers.Fast; fast.Enabled {
		size, err := config.ParseSize(fast.MaxSize, 0)
		if err != nil {
			return tiers, err
		}
		tiers.Fast = cache.NewMemoryTier(cache.MemoryConfig{
			MaxSize:         size,
			MaxEntries:      fast.MaxEntries,
			TTL:             fast.TTL,
			CleanupInterval: fast.CleanupInterval,
		})
	}

	if edge := cfg.Tiers.Edge; edge.Enabled {
		switch edge.Backend {
		case "disk":
			size, err := config.ParseSize(edge.Disk.MaxSize, 0)
			if err != nil {
				return tiers, err
			}
			disk, err := cache.NewDiskTier(cache.DiskConfig{
				Directory:   edge.Disk.Directory,
				MaxSize:     size,
				TTL:         edge.TTL,
				Compression: edge.Disk.Compression,
			})
			if err != nil {
				return tiers, err
			}
			tiers.Edge = disk
		case "redis":
			rt := cache.NewRedisTier(cache.RedisConfig{
				Addr:        edge.Redis.Addr,
				Password:    edge.Redis.Password,
				DB:          edge.Redis.DB,
				KeyPrefix:   edge.Redis.KeyPrefix,
				TTL:         edge.TTL,
				DialTimeout: edge.Redis.DialTimeout,
			})
			// An unreachable redis is not fatal: reads fall through and
			// health reports the tier.
			if err := rt.Ping(ctx); err != nil {
				logger.Warn("redis edge tier unreachable at startup",
					zap.String("addr", edge.Redis.Addr), zap.Error(err))
			}
			tiers.Edge = rt
		default:
			return tiers, fmt.Errorf("unknown edge backend %q", edge.Backend)
		}
	}

	if durable := cfg.Tiers.Durable; durable.Enabled {
		switch durable.Backend {
		case "sqlite":
			st, err := cache.NewSQLiteTier(durable.SQLite.Path, durable.TTL)
			if err != nil {
				return tiers, err
			}
			tiers.Durable = st
		case "s3":
			s3cfg, err := s3Config(durable.S3)
			if err != nil {
				return tiers, err
			}
			s3cfg.TTL = durable.TTL
			backend, err := s3.NewBackend(ctx, s3cfg, logger)
			if err != nil {
				return tiers, err
			}
			tiers.Durable = backend
		default:
			return tiers, fmt.Errorf("unknown durable backend %q", durable.Backend)
		}
	}
	return tiers, nil
}

func closeTiers(tiers orchestrator.Tiers) {
	for _, t := range []types.TierBackend{tiers.Fast, tiers.Edge, tiers.Durable} {
		if c, ok := t.(types.Closer); ok {
			_ = c.Close()
		}
	}
}

func tierTTLs(cfg *config.Configuration) map[types.Tier]time.Duration {
	return map[types.Tier]time.Duration{
		types.TierFast:    cfg.Tiers.Fast.TTL,
		types.TierEdge:    cfg.Tiers.Edge.TTL,
		types.TierDurable: cfg.Tiers.Durable.TTL,
	}
}

func s3Config(c config.S3Config) (*s3.Config, error) {
	threshold, err := config.ParseSize(c.MultipartThreshold, 0)
	if err != nil {
		return nil, err
	}
	out := s3.NewDefaultConfig()
	out.Bucket = c.Bucket
	out.Region = c.Region
	out.Endpoint = c.Endpoint
	out.Prefix = c.Prefix
	out.ForcePathStyle = c.ForcePathStyle
	out.AccessKeyID = c.AccessKeyID
	out.SecretAccessKey = c.SecretAccessKey
	if threshold > 0 {
		out.MultipartThreshold = threshold
	}
	if c.Concurrency > 0 {
		out.Concurrency = c.Concurrency
	}
	if c.MaxRetries > 0 {
		out.MaxRetries = c.MaxRetries
	}
	return out, nil
}

// buildOrigin returns the fetcher used on a total miss.
func buildOrigin(ctx context.Context, cfg *config.Configuration, logger *zap.Logger) (types.OriginFetcher, error) {
	oc := cfg.Origin
	switch oc.Kind {
	case "http":
		maxBody, err := config.ParseSize(oc.MaxBodySize, 0)
		if err != nil {
			return nil, err
		}
		rc := retry.DefaultConfig()
		rc.MaxAttempts = oc.Retry.MaxAttempts
		rc.InitialDelay = oc.Retry.InitialDelay
		rc.MaxDelay = oc.Retry.MaxDelay
		rc.Multiplier = oc.Retry.Multiplier

		cb := oc.CircuitBreaker
		return origin.NewHTTPFetcher(origin.HTTPConfig{
			URLTemplate:  oc.URLTemplate,
			UserAgent:    oc.UserAgent,
			Timeout:      oc.Timeout,
			MaxBodyBytes: maxBody,
			Retry:        rc,
			Breaker: circuit.Config{
				FailureThreshold: cb.FailureThreshold,
				MaxRequests:      cb.MaxRequests,
				Interval:         cb.Interval,
				Timeout:          cb.Timeout,
			},
			BreakerDisabled: !cb.Enabled,
		}, origin.WithLogger(logger))
	case "s3":
		s3cfg, err := s3Config(oc.S3)
		if err != nil {
			return nil, err
		}
		s3cfg.RequestTimeout = oc.Timeout
		return s3.NewBackend(ctx, s3cfg, logger.Named("origin"))
	default:
		return nil, fmt.Errorf("unknown origin kind %q", oc.Kind)
	}
}
