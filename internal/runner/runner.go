// Package runner executes a single test file with the configured test command
// and turns its output into a cache.Result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Norgate-AV/testcache/internal/cache"
	"github.com/Norgate-AV/testcache/internal/codes"
	"github.com/Norgate-AV/testcache/internal/config"
)

// ErrNoRunner is returned when no test command has been configured
var ErrNoRunner = errors.New("no test runner configured")

// Commander interface for testing
type Commander interface {
	CombinedOutput() ([]byte, error)
}

// exitCoder is satisfied by *exec.ExitError
type exitCoder interface {
	ExitCode() int
}

// ExitError reports a runner exit code that does not describe a finished test run
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("test runner exited with code %d: %s", e.Code, e.Message)
}

// CommandBuilder handles building and running test commands
type CommandBuilder struct {
	execCommand func(ctx context.Context, name string, args ...string) Commander
	now         func() time.Time
	output      io.Writer
}

// NewCommandBuilder creates a new command builder
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		execCommand: func(ctx context.Context, name string, args ...string) Commander {
			return exec.CommandContext(ctx, name, args...)
		},
		now:    time.Now,
		output: io.Discard,
	}
}

// SetOutput echoes the test command's combined output to w
func (cb *CommandBuilder) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}

	cb.output = w
}

// BuildCommandArgs builds the command for running testFile: the configured
// runner prefix followed by the absolute test path
func (cb *CommandBuilder) BuildCommandArgs(cfg *config.Config, testFile string) (string, []string, error) {
	if len(cfg.Runner) == 0 || cfg.Runner[0] == "" {
		return "", nil, ErrNoRunner
	}

	absFile, err := filepath.Abs(testFile)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve absolute path for %s: %w", testFile, err)
	}

	args := make([]string, 0, len(cfg.Runner))
	args = append(args, cfg.Runner[1:]...)
	args = append(args, absFile)

	return cfg.Runner[0], args, nil
}

// Run executes the test file and summarizes the outcome. Failing tests are a
// valid result; only runs that did not complete return an error.
func (cb *CommandBuilder) Run(ctx context.Context, cfg *config.Config, testFile string) (cache.Result, error) {
	name, args, err := cb.BuildCommandArgs(cfg, testFile)
	if err != nil {
		return cache.Result{}, err
	}

	start := cb.now()
	out, err := cb.execCommand(ctx, name, args...).CombinedOutput()
	elapsed := cb.now().Sub(start)

	_, _ = cb.output.Write(out)

	code := codes.Success
	if err != nil {
		var ec exitCoder
		if !errors.As(err, &ec) {
			return cache.Result{}, fmt.Errorf("failed to start test runner %s: %w", name, err)
		}

		code = ec.ExitCode()
	}

	if !codes.IsCacheable(code) {
		return cache.Result{}, &ExitError{Code: code, Message: codes.GetErrorMessage(code)}
	}

	result := ParseSummary(string(out))
	if code == codes.TestsFailed && result.Failed == 0 {
		result.Failed = 1
		result.Failures = append(result.Failures, cache.Failure{
			Name:    filepath.Base(testFile),
			Message: tail(string(out), 20),
		})
	}

	if code == codes.Success && result.Passed+result.Failed+result.Skipped == 0 {
		result.Passed = 1
	}

	result.DurationMs = elapsed.Milliseconds()
	result.Timestamp = start

	return result, nil
}

// RunFunc binds a test file to Run for use with cache.GetOrRun
func (cb *CommandBuilder) RunFunc(cfg *config.Config, testFile string) cache.RunFunc {
	return func(ctx context.Context) (cache.Result, error) {
		return cb.Run(ctx, cfg, testFile)
	}
}

// tail returns the last n non-empty lines of s
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
