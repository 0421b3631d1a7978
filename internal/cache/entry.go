package cache

import (
	"context"
	"time"
)

// Failure describes one failing test case
type Failure struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// Result is the summary produced by a single test run.
// The cache never mutates a Result; it stores and hands out copies.
type Result struct {
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Failures   []Failure `json:"failures,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Success reports whether the run had no failing tests
func (r Result) Success() bool {
	return r.Failed == 0
}

func (r Result) clone() Result {
	if r.Failures != nil {
		r.Failures = append([]Failure(nil), r.Failures...)
	}

	return r
}

// RunFunc executes a test and returns its summary
type RunFunc func(ctx context.Context) (Result, error)

// Entry represents a cached test result
type Entry struct {
	// TestFile is the absolute path to the test file, also the cache key
	TestFile string `json:"test_file"`

	// ContentHash fingerprints the test file at write time
	ContentHash string `json:"content_hash"`

	// DependencyHashes fingerprints every resolved direct dependency, sorted
	DependencyHashes []string `json:"dependency_hashes"`

	// Result is the cached test summary
	Result Result `json:"result"`

	// Timestamp when this entry was written
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is the measured cost of the run that produced Result
	DurationMs int64 `json:"duration_ms"`
}

func (e *Entry) clone() Entry {
	out := *e
	out.DependencyHashes = append([]string(nil), e.DependencyHashes...)
	out.Result = e.Result.clone()

	return out
}
