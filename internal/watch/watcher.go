// Package watch invalidates cached test results as files in the workspace
// change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a path must stay quiet before it is handled
const DefaultDebounce = 100 * time.Millisecond

var (
	ErrNoPaths        = errors.New("no paths to watch")
	ErrInvalidPattern = errors.New("invalid exclude pattern")
)

// Invalidator is the part of the cache the watcher drives
type Invalidator interface {
	Invalidate(testFile string) bool
	InvalidateDependents(sourceFile string) int
}

// Options configures a Watcher
type Options struct {
	// Directories watched recursively
	Paths []string

	// Glob patterns matched against absolute paths; matching directories are
	// not descended into
	Exclude []string

	// Quiet period per path before its change is applied
	Debounce time.Duration
}

// Watcher feeds file system changes into an Invalidator
type Watcher struct {
	opts     Options
	fsw      *fsnotify.Watcher
	excludes []glob.Glob
	target   Invalidator
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// New creates a watcher for the given directories. Nothing is watched until Run.
func New(target Invalidator, opts Options, log *zap.Logger) (*Watcher, error) {
	if len(opts.Paths) == 0 {
		return nil, ErrNoPaths
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	if log == nil {
		log = zap.NewNop()
	}

	paths := make([]string, 0, len(opts.Paths))
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve watch path %s: %w", p, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("cannot watch %s: %w", p, err)
		}

		if !info.IsDir() {
			return nil, fmt.Errorf("cannot watch %s: not a directory", p)
		}

		paths = append(paths, abs)
	}

	opts.Paths = paths

	excludes, err := compileExcludes(opts.Exclude)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		opts:     opts,
		excludes: excludes,
		target:   target,
		log:      log.Named("watch"),
		pending:  make(map[string]*time.Timer),
	}, nil
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	excludes := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
		}

		excludes = append(excludes, g)
	}

	return excludes, nil
}

// Run watches until ctx is cancelled or the underlying watcher fails
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	w.fsw = fsw
	defer w.stop()

	for _, p := range w.opts.Paths {
		if err := w.addRecursive(p); err != nil {
			return err
		}
	}

	w.log.Info("Watching for changes", zap.Strings("paths", w.opts.Paths))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			w.handleEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.log.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		if w.isExcluded(path) {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}

		return nil
	})
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.isExcluded(event.Name) {
		return
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.log.Warn("Failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
			}

			return
		}
	}

	w.schedule(event.Name)
}

// schedule applies path once it has been quiet for the debounce interval
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}

	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}

		delete(w.pending, path)
		w.mu.Unlock()

		w.apply(path)
	})
}

// apply invalidates path itself when it is a cached test, otherwise every
// cached test that imports it
func (w *Watcher) apply(path string) {
	if w.target.Invalidate(path) {
		w.log.Info("Invalidated changed test", zap.String("file", path))
		return
	}

	if n := w.target.InvalidateDependents(path); n > 0 {
		w.log.Info("Invalidated dependent tests", zap.String("file", path), zap.Int("count", n))
		return
	}

	w.log.Debug("Change affects no cached tests", zap.String("file", path))
}

func (w *Watcher) isExcluded(path string) bool {
	for _, g := range w.excludes {
		if g.Match(path) {
			return true
		}
	}

	return false
}

func (w *Watcher) stop() {
	w.mu.Lock()
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if w.fsw != nil {
		_ = w.fsw.Close()
	}
}
