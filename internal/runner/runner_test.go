package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/testcache/internal/config"
)

// mockCommander implements Commander interface for testing
type mockCommander struct {
	out []byte
	err error
}

func (m *mockCommander) CombinedOutput() ([]byte, error) {
	return m.out, m.err
}

// mockExitError carries an exit code like *exec.ExitError
type mockExitError struct {
	code int
}

func (e *mockExitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e *mockExitError) ExitCode() int { return e.code }

func newMockBuilder(out string, err error) (*CommandBuilder, *[]string) {
	var invoked []string

	cb := NewCommandBuilder()
	cb.execCommand = func(_ context.Context, name string, args ...string) Commander {
		invoked = append([]string{name}, args...)
		return &mockCommander{out: []byte(out), err: err}
	}

	tick := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time {
		tick = tick.Add(750 * time.Millisecond)
		return tick
	}

	return cb, &invoked
}

func TestCommandBuilder_BuildCommandArgs(t *testing.T) {
	tests := []struct {
		name     string
		runner   []string
		testFile string
		wantName string
		wantArgs []string
		wantErr  error
	}{
		{
			name:     "single word runner",
			runner:   []string{"pytest"},
			testFile: "tests/test_math.py",
			wantName: "pytest",
			wantArgs: func() []string {
				abs, _ := filepath.Abs("tests/test_math.py")
				return []string{abs}
			}(),
		},
		{
			name:     "runner with arguments",
			runner:   []string{"npx", "jest", "--ci"},
			testFile: "src/sum.test.ts",
			wantName: "npx",
			wantArgs: func() []string {
				abs, _ := filepath.Abs("src/sum.test.ts")
				return []string{"jest", "--ci", abs}
			}(),
		},
		{
			name:     "no runner configured",
			testFile: "a.test.ts",
			wantErr:  ErrNoRunner,
		},
		{
			name:     "empty command",
			runner:   []string{""},
			testFile: "a.test.ts",
			wantErr:  ErrNoRunner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Runner = tt.runner

			name, args, err := NewCommandBuilder().BuildCommandArgs(cfg, tt.testFile)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCommandBuilder_Run_Success(t *testing.T) {
	cb, invoked := newMockBuilder("Tests:       4 passed, 4 total\n", nil)
	cfg := config.Default()
	cfg.Runner = []string{"npx", "jest"}

	result, err := cb.Run(context.Background(), cfg, "/ws/sum.test.ts")
	require.NoError(t, err)

	assert.Equal(t, []string{"npx", "jest", "/ws/sum.test.ts"}, *invoked)
	assert.Equal(t, 4, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(750), result.DurationMs)
	assert.False(t, result.Timestamp.IsZero())
}

func TestCommandBuilder_Run_NoSummaryFallsBackToExitCode(t *testing.T) {
	t.Run("exit 0 counts one pass", func(t *testing.T) {
		cb, _ := newMockBuilder("ok\n", nil)
		cfg := config.Default()
		cfg.Runner = []string{"node"}

		result, err := cb.Run(context.Background(), cfg, "/ws/a.test.js")
		require.NoError(t, err)
		assert.Equal(t, 1, result.Passed)
		assert.True(t, result.Success())
	})

	t.Run("exit 1 counts one failure with output tail", func(t *testing.T) {
		cb, _ := newMockBuilder("boom\nassertion failed\n", &mockExitError{code: 1})
		cfg := config.Default()
		cfg.Runner = []string{"node"}

		result, err := cb.Run(context.Background(), cfg, "/ws/a.test.js")
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Failures, 1)
		assert.Equal(t, "a.test.js", result.Failures[0].Name)
		assert.Equal(t, "boom\nassertion failed", result.Failures[0].Message)
	})
}

func TestCommandBuilder_Run_FailingTestsAreAResult(t *testing.T) {
	out := "  ● math › adds\n\nTests:       1 failed, 2 passed, 3 total\n"
	cb, _ := newMockBuilder(out, &mockExitError{code: 1})
	cfg := config.Default()
	cfg.Runner = []string{"npx", "jest"}

	result, err := cb.Run(context.Background(), cfg, "/ws/math.test.ts")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "math › adds", result.Failures[0].Name)
}

func TestCommandBuilder_Run_RunnerErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "usage error", err: &mockExitError{code: 4}, wantCode: 4},
		{name: "interrupted", err: &mockExitError{code: 2}, wantCode: 2},
		{name: "command not found", err: &mockExitError{code: 127}, wantCode: 127},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := newMockBuilder("", tt.err)
			cfg := config.Default()
			cfg.Runner = []string{"pytest"}

			_, err := cb.Run(context.Background(), cfg, "/ws/test_a.py")
			require.Error(t, err)

			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, tt.wantCode, exitErr.Code)
		})
	}
}

func TestCommandBuilder_Run_StartFailure(t *testing.T) {
	cb, _ := newMockBuilder("", errors.New("exec: \"nope\": executable file not found in $PATH"))
	cfg := config.Default()
	cfg.Runner = []string{"nope"}

	_, err := cb.Run(context.Background(), cfg, "/ws/a.test.ts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start test runner")
}

func TestCommandBuilder_Run_EchoesOutput(t *testing.T) {
	cb, _ := newMockBuilder("3 passed in 0.02s\n", nil)
	var buf bytes.Buffer
	cb.SetOutput(&buf)

	cfg := config.Default()
	cfg.Runner = []string{"pytest"}

	result, err := cb.Run(context.Background(), cfg, "/ws/test_a.py")
	require.NoError(t, err)
	assert.Equal(t, 3, result.Passed)
	assert.Equal(t, "3 passed in 0.02s\n", buf.String())
}

func TestCommandBuilder_RunFunc(t *testing.T) {
	cb, invoked := newMockBuilder("1 passed\n", nil)
	cfg := config.Default()
	cfg.Runner = []string{"pytest", "-q"}

	run := cb.RunFunc(cfg, "/ws/test_b.py")
	result, err := run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, []string{"pytest", "-q", "/ws/test_b.py"}, *invoked)
}

func TestCommandBuilder_Run_RealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	cfg := config.Default()
	cfg.Runner = []string{"sh", "-c", `echo "--- FAIL: TestThing (0.00s)"; echo "--- PASS: TestOther (0.00s)"; exit 1`, "sh"}

	result, err := NewCommandBuilder().Run(context.Background(), cfg, "thing_test.go")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "TestThing", result.Failures[0].Name)
}

func TestNewCommandBuilder(t *testing.T) {
	cb := NewCommandBuilder()
	assert.NotNil(t, cb)
	assert.NotNil(t, cb.execCommand)
}
