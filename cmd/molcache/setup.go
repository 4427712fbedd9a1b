package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/app"
	"github.com/labviz/molcache/internal/config"
	"github.com/labviz/molcache/internal/logging"
)

// loadConfig layers defaults, the config file and MOLCACHE_* variables,
// then the --log-level flag.
func loadConfig(flags *rootFlags) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if flags.configPath != "" {
		if err := cfg.LoadFromFile(flags.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Global.LogLevel = flags.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Global.LogLevel,
		Format:      cfg.Global.LogFormat,
		Environment: cfg.Global.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(ctx context.Context, flags *rootFlags, mutate func(*config.Configuration), fn func(*app.App) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if mutate != nil {
		mutate(cfg)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
