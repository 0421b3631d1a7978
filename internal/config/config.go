package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultMaxEntries          = 1000
	DefaultMaxAge              = 24 * time.Hour
	DefaultIncludeDependencies = true
	DefaultEnablePersistence   = true
	DefaultCacheDir            = ".testcache"
	DefaultBackend             = BackendBolt
	DefaultLogLevel            = "info"
	DefaultVerbose             = false
)

// Snapshot backends
const (
	BackendBolt = "bolt"
	BackendJSON = "json"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Holds the configuration options for testcache
type Config struct {
	// Maximum number of cached test results before eviction
	MaxEntries int

	// Entries older than this are always treated as stale
	MaxAge time.Duration

	// Include direct relative imports in freshness checks
	IncludeDependencies bool

	// Save the cache to disk after every mutation and load it on startup
	EnablePersistence bool

	// Workspace-scoped directory holding the snapshot
	CacheDir string

	// Snapshot backend (bolt or json)
	Backend string

	// Command prefix used to run a single test file (e.g. npx jest)
	Runner []string

	// Glob patterns ignored by watch mode
	WatchExclude []string

	// Log level (debug, info, warn, error)
	LogLevel string

	// Enable verbose output
	Verbose bool
}

// Default returns a Config populated with the documented defaults
func Default() *Config {
	return &Config{
		MaxEntries:          DefaultMaxEntries,
		MaxAge:              DefaultMaxAge,
		IncludeDependencies: DefaultIncludeDependencies,
		EnablePersistence:   DefaultEnablePersistence,
		CacheDir:            DefaultCacheDir,
		Backend:             DefaultBackend,
		LogLevel:            DefaultLogLevel,
		Verbose:             DefaultVerbose,
	}
}

// Load builds a Config from viper. A relative cache_dir is resolved against
// the working directory.
func Load() (*Config, error) {
	return loadRelativeTo("")
}

// loadRelativeTo is Load with a relative cache_dir resolved against root
func loadRelativeTo(root string) (*Config, error) {
	cfg := &Config{
		MaxEntries:          viper.GetInt("max_entries"),
		MaxAge:              viper.GetDuration("max_age"),
		IncludeDependencies: viper.GetBool("include_dependencies"),
		EnablePersistence:   viper.GetBool("enable_persistence"),
		CacheDir:            viper.GetString("cache_dir"),
		Backend:             viper.GetString("backend"),
		Runner:              nonEmpty(runnerCommand(viper.Get("runner"))),
		WatchExclude:        nonEmpty(viper.GetStringSlice("watch_exclude")),
		LogLevel:            viper.GetString("log_level"),
		Verbose:             viper.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir
	}

	if cfg.Backend == "" {
		cfg.Backend = DefaultBackend
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if root != "" && !filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDir = filepath.Join(root, cfg.CacheDir)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("%w: max_entries must be positive, got %d", ErrInvalidConfig, c.MaxEntries)
	}

	if c.MaxAge <= 0 {
		return fmt.Errorf("%w: max_age must be positive, got %s", ErrInvalidConfig, c.MaxAge)
	}

	switch c.Backend {
	case BackendBolt, BackendJSON:
	default:
		return fmt.Errorf("%w: unsupported backend %q", ErrInvalidConfig, c.Backend)
	}

	// Resolve cache directory
	if c.CacheDir != "" {
		abs, err := filepath.Abs(c.CacheDir)
		if err != nil {
			return fmt.Errorf("invalid cache directory: %v", err)
		}

		c.CacheDir = abs
	}

	return nil
}

// runnerCommand accepts either a single command string or a list of arguments
func runnerCommand(v any) []string {
	switch r := v.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(r)
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, arg := range r {
			out = append(out, fmt.Sprint(arg))
		}

		return out
	default:
		return strings.Fields(fmt.Sprint(r))
	}
}

func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}

	return s
}
