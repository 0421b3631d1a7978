package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides (TESTCACHE_MAX_ENTRIES, ...)
const EnvPrefix = "TESTCACHE"

// localConfigName is the project config file name, without extension
const localConfigName = ".testcache"

var configExtensions = []string{"yml", "yaml", "json", "toml"}

// flagKeys maps command flags onto config keys
var flagKeys = map[string]string{
	"max-entries": "max_entries",
	"max-age":     "max_age",
	"no-deps":     "include_dependencies",
	"no-persist":  "enable_persistence",
	"cache-dir":   "cache_dir",
	"backend":     "backend",
	"runner":      "runner",
	"exclude":     "watch_exclude",
	"log-level":   "log_level",
	"verbose":     "verbose",
}

// userConfigDir is swapped out in tests
var userConfigDir = os.UserConfigDir

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForCommand loads configuration for any testcache command.
// Local config discovery starts at the first argument's directory, or the
// working directory when there are no arguments. The directory holding the
// local config file is the workspace root: a relative cache_dir is resolved
// against it unless --cache-dir was given on the command line.
func (l *Loader) LoadForCommand(cmd *cobra.Command, args []string) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	localPath := l.loadLocalConfig(args)
	l.bindEnv()
	l.bindCommandFlags(cmd)

	root := ""
	if localPath != "" && !flagChanged(cmd, "cache-dir") {
		root = filepath.Dir(localPath)
	}

	return loadRelativeTo(root)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("max_entries", DefaultMaxEntries)
	viper.SetDefault("max_age", DefaultMaxAge)
	viper.SetDefault("include_dependencies", DefaultIncludeDependencies)
	viper.SetDefault("enable_persistence", DefaultEnablePersistence)
	viper.SetDefault("cache_dir", DefaultCacheDir)
	viper.SetDefault("backend", DefaultBackend)
	viper.SetDefault("log_level", DefaultLogLevel)
	viper.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	base, err := userConfigDir()
	if err != nil || base == "" {
		return
	}

	globalDir := filepath.Join(base, "testcache")

	for _, ext := range configExtensions {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig merges the nearest project config over the global one and
// returns its path, or "" when there is none
func (l *Loader) loadLocalConfig(args []string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	if len(args) > 0 {
		absFirst, err := filepath.Abs(args[0])
		if err != nil {
			return "" // silently ignore, config.Load() will handle validation
		}

		if info, err := os.Stat(absFirst); err == nil && info.IsDir() {
			dir = absFirst
		} else {
			dir = filepath.Dir(absFirst)
		}
	}

	localPath := nearestLocalConfig(dir)
	if localPath == "" {
		return ""
	}

	viper.SetConfigFile(localPath)
	if err := viper.MergeInConfig(); err != nil {
		return ""
	}

	return localPath
}

// nearestLocalConfig returns the closest .testcache.<ext> file at or above dir.
// Extensions are tried in configExtensions order within each directory.
func nearestLocalConfig(dir string) string {
	for d := filepath.Clean(dir); ; d = filepath.Dir(d) {
		for _, ext := range configExtensions {
			candidate := filepath.Join(d, localConfigName+"."+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}

		if filepath.Dir(d) == d {
			return ""
		}
	}
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}

	flag := cmd.Flags().Lookup(name)

	return flag != nil && flag.Changed
}

// bindEnv enables TESTCACHE_* overrides
func (l *Loader) bindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindCommandFlags binds command flags to viper. Negative flags (--no-deps,
// --no-persist) only override when explicitly set.
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}

		switch name {
		case "no-deps", "no-persist":
			if flag.Changed && flag.Value.String() == "true" {
				viper.Set(key, false)
			}
		default:
			_ = viper.BindPFlag(key, flag)
		}
	}
}
