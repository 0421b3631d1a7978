// Package cache provides test result caching for testcache.
//
// A cached result is keyed by the absolute path of its test file and is only
// served while it is still fresh:
//
//  1. The entry is younger than the configured max age
//  2. The SHA256 of the test file matches the one recorded at write time
//  3. With dependencies enabled, the sorted SHA256 list of every file the test
//     imports through a relative specifier matches as well
//
// Anything else is a miss and the test runs. The cache is strictly an
// optimization: a fault inside it falls back to running the test directly.
// Entries and statistics are persisted as a single snapshot per workspace,
// either in BoltDB or as a JSON file.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Norgate-AV/testcache/internal/config"
)

// Cache manages cached test results and their statistics
type Cache struct {
	maxEntries  int
	maxAge      time.Duration
	includeDeps bool

	fs        afero.Fs
	log       *zap.Logger
	now       func() time.Time
	persister Persister

	// de-duplicates concurrent runs of the same test file
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Entry
	stats   Stats
	// set when state changed since the last successful save
	dirty bool

	// serializes snapshot writes so the newest state is always saved last
	saveMu sync.Mutex
}

// Option customizes a Cache
type Option func(*Cache)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithFs sets the filesystem used for hashing, dependency resolution and the
// JSON backend. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(c *Cache) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPersister overrides the backend chosen from the configuration.
// It is ignored when persistence is disabled.
func WithPersister(p Persister) Option {
	return func(c *Cache) {
		c.persister = p
	}
}

// outcome is what a single get-or-run produced
type outcome struct {
	result     Result
	hit        bool
	durationMs int64
	// the result is (or already was) stored in the cache
	cached bool
}

// New creates a cache from cfg. When persistence is enabled the last saved
// snapshot is loaded; a missing or unreadable snapshot starts an empty cache.
func New(cfg *config.Config, opts ...Option) (*Cache, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	checked := *cfg
	if err := checked.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		maxEntries:  checked.MaxEntries,
		maxAge:      checked.MaxAge,
		includeDeps: checked.IncludeDependencies,
		fs:          afero.NewOsFs(),
		log:         zap.NewNop(),
		now:         time.Now,
		entries:     make(map[string]*Entry),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.Named("cache")

	if !checked.EnablePersistence {
		c.persister = nil
		return c, nil
	}

	if c.persister == nil {
		p, err := openPersister(&checked, c.fs)
		if err != nil {
			// Persistence is best effort; keep going in memory
			c.log.Warn("snapshot storage unavailable, cache will not persist",
				zap.String("dir", checked.CacheDir), zap.Error(err))
		} else {
			c.persister = p
		}
	}

	c.load()

	return c, nil
}

func openPersister(cfg *config.Config, fs afero.Fs) (Persister, error) {
	switch cfg.Backend {
	case config.BackendJSON:
		return NewFilePersister(fs, cfg.CacheDir), nil
	default:
		return NewBoltPersister(cfg.CacheDir)
	}
}

// load hydrates entries and statistics from the persisted snapshot
func (c *Cache) load() {
	if c.persister == nil {
		return
	}

	snap, err := c.persister.Load()
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			c.log.Debug("no snapshot found, starting empty")
		} else {
			c.log.Warn("failed to load snapshot, starting empty", zap.Error(err))
		}

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range snap.Entries {
		if rec.Key == "" {
			continue
		}

		entry := rec.Entry
		sort.Strings(entry.DependencyHashes)
		c.entries[rec.Key] = &entry
	}

	c.stats = snap.Stats
	if evicted := c.evictOldest(c.maxEntries); len(evicted) > 0 {
		c.dirty = true
	}
	c.stats.EntriesCount = len(c.entries)
	c.stats.updateHitRate()

	c.log.Debug("snapshot loaded", zap.Int("entries", len(c.entries)))
}

// Close flushes unsaved changes and releases the persistence backend.
// A cache that only served reads leaves the stored snapshot untouched.
func (c *Cache) Close() error {
	if c.persister == nil {
		return nil
	}

	c.mu.RLock()
	dirty := c.dirty
	c.mu.RUnlock()

	if dirty {
		c.save()
	}

	return c.persister.Close()
}

// GetOrRun returns the cached result for testFile when it is still fresh, or
// runs the test and caches what it produced. The second return value reports
// whether the result came from the cache; a hit never invokes run.
//
// Concurrent calls for the same test file share a single run.
func (c *Cache) GetOrRun(ctx context.Context, testFile string, run RunFunc) (Result, bool, error) {
	key := c.key(testFile)

	c.mu.Lock()
	c.stats.recordRequest()
	c.dirty = true
	c.mu.Unlock()

	leader := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		leader = true
		return c.lookupOrRun(ctx, key, run)
	})

	if err != nil {
		if !leader {
			c.mu.Lock()
			c.stats.recordMiss()
			c.dirty = true
			c.mu.Unlock()
		}

		return Result{}, false, err
	}

	out := v.(outcome)
	if !leader {
		// Joined an in-flight run. It only counts as a hit when the shared
		// result is one the cache will serve again.
		c.mu.Lock()
		if out.cached {
			c.stats.recordHit(out.durationMs)
		} else {
			c.stats.recordMiss()
		}
		c.dirty = true
		c.mu.Unlock()

		return out.result.clone(), out.cached, nil
	}

	return out.result.clone(), out.hit, nil
}

func (c *Cache) lookupOrRun(ctx context.Context, key string, run RunFunc) (out outcome, err error) {
	missRecorded := false

	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("cache fault, running test directly",
				zap.String("test", key), zap.Any("panic", r))
			out, err = c.runDirect(ctx, key, run, missRecorded)
		}
	}()

	if entry := c.freshEntry(key); entry != nil {
		c.mu.Lock()
		c.stats.recordHit(entry.DurationMs)
		c.dirty = true
		c.mu.Unlock()

		c.log.Debug("cache hit", zap.String("test", key), zap.Int64("saved_ms", entry.DurationMs))

		return outcome{result: entry.Result, hit: true, durationMs: entry.DurationMs, cached: true}, nil
	}

	c.mu.Lock()
	c.stats.recordMiss()
	c.dirty = true
	c.mu.Unlock()
	missRecorded = true

	c.log.Debug("cache miss", zap.String("test", key))

	start := c.now()
	result, err := run(ctx)
	if err != nil {
		c.log.Warn("test run failed, retrying once without cache",
			zap.String("test", key), zap.Error(err))

		return c.runDirect(ctx, key, run, missRecorded)
	}

	durationMs := c.now().Sub(start).Milliseconds()
	c.store(key, result, durationMs)

	return outcome{result: result, durationMs: durationMs, cached: true}, nil
}

// runDirect invokes run without touching cached entries. Its result is
// neither cached nor counted as a hit.
func (c *Cache) runDirect(ctx context.Context, key string, run RunFunc, missRecorded bool) (outcome, error) {
	if !missRecorded {
		c.mu.Lock()
		c.stats.recordMiss()
		c.dirty = true
		c.mu.Unlock()
	}

	start := c.now()
	result, err := run(ctx)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to run %s: %w", key, err)
	}

	return outcome{result: result, durationMs: c.now().Sub(start).Milliseconds()}, nil
}

// freshEntry returns a copy of the entry for key if it is still valid.
// A stale entry is removed.
func (c *Cache) freshEntry(key string) *Entry {
	c.mu.RLock()
	stored, ok := c.entries[key]
	var entry Entry
	if ok {
		entry = stored.clone()
	}
	c.mu.RUnlock()

	if !ok {
		return nil
	}

	reason := c.staleReason(&entry)
	if reason == "" {
		return &entry
	}

	c.log.Debug("stale entry", zap.String("test", key), zap.String("reason", reason))

	c.mu.Lock()
	// Only drop the entry we validated; a concurrent Record may have replaced it
	removed := c.entries[key] == stored
	if removed {
		delete(c.entries, key)
		c.stats.EntriesCount = len(c.entries)
		c.dirty = true
	}
	c.mu.Unlock()

	if removed {
		c.save()
	}

	return nil
}

// staleReason explains why entry can no longer be served, or returns ""
func (c *Cache) staleReason(entry *Entry) string {
	if c.now().Sub(entry.Timestamp) > c.maxAge {
		return "expired"
	}

	current := Fingerprint(c.fs, entry.TestFile)
	if current == "" {
		return "test file unreadable"
	}

	if current != entry.ContentHash {
		return "test file changed"
	}

	if !c.includeDeps {
		return ""
	}

	deps := DependencyFingerprints(c.fs, ExtractDependencies(c.fs, entry.TestFile))
	if slices.Contains(deps, "") {
		return "dependency unreadable"
	}

	if !slices.Equal(deps, entry.DependencyHashes) {
		return "dependencies changed"
	}

	return ""
}

// Record caches a result produced outside GetOrRun
func (c *Cache) Record(testFile string, result Result, duration time.Duration) {
	c.store(c.key(testFile), result, duration.Milliseconds())
}

// store fingerprints the test and its dependencies, inserts the entry,
// applies the capacity limit and persists
func (c *Cache) store(key string, result Result, durationMs int64) {
	entry := &Entry{
		TestFile:         key,
		ContentHash:      Fingerprint(c.fs, key),
		DependencyHashes: []string{},
		Result:           result.clone(),
		Timestamp:        c.now(),
		DurationMs:       durationMs,
	}

	if c.includeDeps {
		entry.DependencyHashes = DependencyFingerprints(c.fs, ExtractDependencies(c.fs, key))
	}

	c.mu.Lock()
	c.entries[key] = entry
	evicted := c.evictOldest(c.maxEntries)
	c.stats.EntriesCount = len(c.entries)
	c.dirty = true
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.log.Debug("evicted oldest entries", zap.Strings("tests", evicted))
	}

	c.save()
}

// Invalidate removes the entry for testFile, reporting whether one existed
func (c *Cache) Invalidate(testFile string) bool {
	key := c.key(testFile)

	c.mu.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.stats.EntriesCount = len(c.entries)
		c.dirty = true
	}
	c.mu.Unlock()

	if ok {
		c.log.Debug("invalidated", zap.String("test", key))
		c.save()
	}

	return ok
}

// InvalidateDependents removes every entry whose test currently imports
// sourceFile. Imports are re-read from disk rather than taken from stored
// fingerprints. It returns the number of entries removed.
func (c *Cache) InvalidateDependents(sourceFile string) int {
	source := c.key(sourceFile)

	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	var dependents []string
	for _, k := range keys {
		if slices.Contains(ExtractDependencies(c.fs, k), source) {
			dependents = append(dependents, k)
		}
	}

	if len(dependents) == 0 {
		return 0
	}

	c.mu.Lock()
	removed := 0
	for _, k := range dependents {
		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			removed++
		}
	}
	c.stats.EntriesCount = len(c.entries)
	if removed > 0 {
		c.dirty = true
	}
	c.mu.Unlock()

	if removed == 0 {
		return 0
	}

	c.log.Debug("invalidated dependents",
		zap.String("source", source), zap.Strings("tests", dependents))
	c.save()

	return removed
}

// Clear removes all entries. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.stats.EntriesCount = 0
	c.dirty = true
	c.mu.Unlock()

	c.save()
}

// ResetStats zeroes every counter while keeping the cached entries
func (c *Cache) ResetStats() {
	c.mu.Lock()
	c.stats = Stats{EntriesCount: len(c.entries)}
	c.dirty = true
	c.mu.Unlock()

	c.save()
}

// Stats returns a snapshot of the running statistics
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.stats
}

// Effectiveness analyzes the current statistics
func (c *Cache) Effectiveness() Effectiveness {
	return Analyze(c.Stats(), c.maxEntries)
}

// Entries returns copies of all cached entries ordered by test file
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TestFile < out[j].TestFile })

	return out
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// MaxEntries returns the configured capacity
func (c *Cache) MaxEntries() int {
	return c.maxEntries
}

// snapshot captures the current state, records ordered by key, and clears
// the dirty flag
func (c *Cache) snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirty = false

	snap := &Snapshot{
		Version: SnapshotVersion,
		Entries: make([]SnapshotRecord, 0, len(c.entries)),
		Stats:   c.stats,
	}

	for k, e := range c.entries {
		snap.Entries = append(snap.Entries, SnapshotRecord{Key: k, Entry: e.clone()})
	}

	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Key < snap.Entries[j].Key })

	return snap
}

// save persists the current state. Failures are logged, never returned.
func (c *Cache) save() {
	if c.persister == nil {
		return
	}

	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if err := c.persister.Save(c.snapshot()); err != nil {
		c.mu.Lock()
		c.dirty = true
		c.mu.Unlock()

		c.log.Warn("failed to save snapshot", zap.Error(err))
	}
}

// key normalizes a test file path into its cache key
func (c *Cache) key(testFile string) string {
	abs, err := filepath.Abs(testFile)
	if err != nil {
		return filepath.Clean(testFile)
	}

	return abs
}
