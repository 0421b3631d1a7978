package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/testcache/internal/config"
	"github.com/Norgate-AV/testcache/internal/version"
)

// Execute runs the testcache command tree
func Execute() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "testcache",
		Short: "Content-addressed test result cache",
		Long: `Skip re-running tests whose source and direct relative imports have not changed.

Results are keyed by the test file path and fingerprinted with SHA256 hashes of
the test and the files it imports. Statistics and entries persist per workspace.`,
		SilenceUsage: true,
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	flags := rootCmd.PersistentFlags()
	flags.Int("max-entries", config.DefaultMaxEntries, "Maximum number of cached results")
	flags.Duration("max-age", config.DefaultMaxAge, "Maximum age of a cached result")
	flags.Bool("no-deps", false, "Ignore imported files when checking freshness")
	flags.Bool("no-persist", false, "Keep the cache in memory only")
	flags.String("cache-dir", config.DefaultCacheDir, "Directory holding the cache snapshot")
	flags.String("backend", config.DefaultBackend, "Snapshot backend (bolt or json)")
	flags.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newRunCmd(),
		newRecordCmd(),
		newInvalidateCmd(),
		newClearCmd(),
		newStatsCmd(),
		newListCmd(),
		newWatchCmd(),
	)

	return rootCmd
}
