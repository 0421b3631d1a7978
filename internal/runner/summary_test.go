package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Norgate-AV/testcache/internal/cache"
)

func TestParseSummary(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   cache.Result
	}{
		{
			name: "go test -v",
			output: `=== RUN   TestAdd
--- PASS: TestAdd (0.00s)
=== RUN   TestSub
--- FAIL: TestSub (0.00s)
    math_test.go:12: expected 1
=== RUN   TestSkip
--- SKIP: TestSkip (0.00s)
FAIL`,
			want: cache.Result{Passed: 1, Failed: 1, Skipped: 1, Failures: []cache.Failure{{Name: "TestSub"}}},
		},
		{
			name: "jest",
			output: `  ● math › subtracts

Test Suites: 1 failed, 1 total
Tests:       1 failed, 1 skipped, 4 passed, 6 total
Snapshots:   2 passed, 2 total`,
			want: cache.Result{Passed: 4, Failed: 1, Skipped: 1, Failures: []cache.Failure{{Name: "math › subtracts"}}},
		},
		{
			name: "vitest",
			output: ` Test Files  1 failed (1)
      Tests  2 failed | 5 passed | 1 todo (8)`,
			want: cache.Result{Passed: 5, Failed: 2, Skipped: 1},
		},
		{
			name: "pytest",
			output: `FAILED tests/test_math.py::test_div - ZeroDivisionError: division by zero
ERROR tests/test_io.py::test_read
========= 1 failed, 3 passed, 2 skipped, 1 error in 0.12s =========`,
			want: cache.Result{
				Passed:  3,
				Failed:  2,
				Skipped: 2,
				Failures: []cache.Failure{
					{Name: "tests/test_math.py::test_div", Message: "ZeroDivisionError: division by zero"},
					{Name: "tests/test_io.py::test_read"},
				},
			},
		},
		{
			name:   "nothing recognizable",
			output: "hello\nworld\n",
			want:   cache.Result{},
		},
		{
			name:   "jest console blocks are not failures",
			output: "  ● Console\n\nTests:       3 passed, 3 total",
			want:   cache.Result{Passed: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSummary(tt.output))
		})
	}
}
