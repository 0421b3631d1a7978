package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Norgate-AV/testcache/internal/cache"
	"github.com/Norgate-AV/testcache/internal/config"
	"github.com/Norgate-AV/testcache/internal/logging"
)

// newLogger is swapped out in tests
var newLogger = logging.New

// app bundles what every command needs
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	cache *cache.Cache
}

// setup loads configuration for cmd and opens the workspace cache
func setup(cmd *cobra.Command, args []string) (*app, error) {
	a, err := setupConfig(cmd, args)
	if err != nil {
		return nil, err
	}

	c, err := a.openCache()
	if err != nil {
		_ = a.log.Sync()
		return nil, err
	}

	a.cache = c

	return a, nil
}

// setupConfig loads configuration and builds the logger without opening the cache
func setupConfig(cmd *cobra.Command, args []string) (*app, error) {
	cfg, err := config.NewLoader().LoadForCommand(cmd, args)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := newLogger(cfg.LogLevel, cfg.Verbose)
	if err != nil {
		return nil, err
	}

	log.Debug("Configuration loaded",
		zap.String("cache_dir", cfg.CacheDir),
		zap.String("backend", cfg.Backend),
		zap.Int("max_entries", cfg.MaxEntries),
		zap.Duration("max_age", cfg.MaxAge),
		zap.Bool("include_dependencies", cfg.IncludeDependencies),
		zap.Bool("enable_persistence", cfg.EnablePersistence),
	)

	return &app{cfg: cfg, log: log}, nil
}

// openCache opens the workspace cache, loading the latest saved snapshot
func (a *app) openCache() (*cache.Cache, error) {
	return cache.New(a.cfg, cache.WithLogger(a.log))
}

func (a *app) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("Failed to close cache", zap.Error(err))
		}
	}

	_ = a.log.Sync()
}
