package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Norgate-AV/testcache/internal/cache"
	"github.com/Norgate-AV/testcache/internal/watch"
)

// Always ignored by watch mode
var defaultWatchExcludes = []string{
	"**/.git",
	"**/.git/**",
	"**/node_modules",
	"**/node_modules/**",
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dirs...]",
		Short: "Invalidate cached results as files change",
		Long: `Watch directories recursively. A changed test file drops its own cached
result; any other changed file drops the cached results of tests importing it.`,
		RunE: watchFiles,
	}

	cmd.Flags().StringSliceP("exclude", "e", nil, "Glob patterns to ignore (matched against absolute paths)")
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "Quiet period before a change is applied")

	return cmd
}

func watchFiles(cmd *cobra.Command, args []string) error {
	a, err := setupConfig(cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	dirs := args
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")

	excludes := append([]string{}, defaultWatchExcludes...)
	excludes = append(excludes, a.cfg.WatchExclude...)
	cacheDir := glob.QuoteMeta(filepath.ToSlash(a.cfg.CacheDir))
	excludes = append(excludes, cacheDir, cacheDir+"/**")

	w, err := watch.New(newWorkspaceInvalidator(a), watch.Options{
		Paths:    dirs,
		Exclude:  excludes,
		Debounce: debounce,
	}, a.log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}

// workspaceInvalidator opens the workspace cache for every change and closes
// it again. Other testcache processes keep writing to the same snapshot while
// watch mode runs, so nothing is held in memory between changes.
type workspaceInvalidator struct {
	mu  sync.Mutex
	app *app
}

func newWorkspaceInvalidator(a *app) *workspaceInvalidator {
	return &workspaceInvalidator{app: a}
}

func (w *workspaceInvalidator) Invalidate(testFile string) bool {
	var ok bool
	w.withCache(func(c *cache.Cache) {
		ok = c.Invalidate(testFile)
	})

	return ok
}

func (w *workspaceInvalidator) InvalidateDependents(sourceFile string) int {
	var n int
	w.withCache(func(c *cache.Cache) {
		n = c.InvalidateDependents(sourceFile)
	})

	return n
}

func (w *workspaceInvalidator) withCache(fn func(*cache.Cache)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, err := w.app.openCache()
	if err != nil {
		w.app.log.Warn("Failed to open cache", zap.Error(err))
		return
	}

	fn(c)

	if err := c.Close(); err != nil {
		w.app.log.Warn("Failed to close cache", zap.Error(err))
	}
}
