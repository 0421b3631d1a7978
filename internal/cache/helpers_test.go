package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/testcache/internal/config"
)

const workspace = "/ws"

var errBoom = errors.New("boom")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.t = f.t.Add(d)
}

// fakeRunner counts invocations and advances the clock by cost on every run
type fakeRunner struct {
	calls  atomic.Int32
	clock  *fakeClock
	cost   time.Duration
	result Result
	// fail decides per call (1-based) whether the run returns errBoom
	fail func(call int32) bool
}

func (r *fakeRunner) Run(_ context.Context) (Result, error) {
	n := r.calls.Add(1)
	if r.clock != nil {
		r.clock.Advance(r.cost)
	}

	if r.fail != nil && r.fail(n) {
		return Result{}, errBoom
	}

	return r.result, nil
}

func (r *fakeRunner) Calls() int {
	return int(r.calls.Load())
}

func passingRunner(clock *fakeClock) *fakeRunner {
	return &fakeRunner{
		clock:  clock,
		cost:   time.Second,
		result: Result{Passed: 3, DurationMs: 1000},
	}
}

// countingPersister keeps the last snapshot in memory
type countingPersister struct {
	mu      sync.Mutex
	saves   int
	last    *Snapshot
	loadErr error
	saveErr error
}

func (p *countingPersister) Load() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loadErr != nil {
		return nil, p.loadErr
	}

	if p.last == nil {
		return nil, ErrNoSnapshot
	}

	return p.last, nil
}

func (p *countingPersister) Save(s *Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.saves++
	if p.saveErr != nil {
		return p.saveErr
	}

	p.last = s

	return nil
}

func (p *countingPersister) Close() error { return nil }

func (p *countingPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.saves
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.EnablePersistence = false
	cfg.CacheDir = filepath.Join(workspace, ".testcache")

	return cfg
}

func newTestCache(t *testing.T, fs afero.Fs, clock *fakeClock, cfg *config.Config, opts ...Option) *Cache {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	opts = append([]Option{WithFs(fs), WithClock(clock.Now)}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)

	return c
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) string {
	t.Helper()

	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))

	return path
}

func wsPath(name string) string {
	return filepath.Join(workspace, name)
}

func entryKeys(entries []Entry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.TestFile)
	}

	return keys
}
