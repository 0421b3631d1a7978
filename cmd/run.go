package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/testcache/internal/cache"
	"github.com/Norgate-AV/testcache/internal/config"
	"github.com/Norgate-AV/testcache/internal/runner"
)

var errTestsFailed = errors.New("tests failed")

// testRunner is the part of runner.CommandBuilder used by run
type testRunner interface {
	RunFunc(cfg *config.Config, testFile string) cache.RunFunc
	SetOutput(w io.Writer)
}

// newTestRunner is swapped out in tests
var newTestRunner = func() testRunner {
	return runner.NewCommandBuilder()
}

type fileOutcome struct {
	file   string
	result cache.Result
	cached bool
	err    error
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <test files...>",
		Short: "Run test files, serving unchanged ones from the cache",
		Long: `Run each test file with the configured runner command unless a fresh cached
result exists. Failing tests are cached like passing ones; runner errors are not.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTests,
	}

	cmd.Flags().StringP("runner", "r", "", `Command used to run one test file (e.g. "npx jest")`)
	cmd.Flags().Bool("no-cache", false, "Run every test without reading or writing the cache")
	cmd.Flags().IntP("jobs", "j", 1, "Number of test files to run in parallel")

	return cmd
}

func runTests(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	if len(a.cfg.Runner) == 0 {
		return runner.ErrNoRunner
	}

	noCache, _ := cmd.Flags().GetBool("no-cache")
	jobs, _ := cmd.Flags().GetInt("jobs")
	if jobs < 1 {
		jobs = 1
	}

	tr := newTestRunner()
	if a.cfg.Verbose {
		tr.SetOutput(cmd.ErrOrStderr())
	}

	outcomes := make([]fileOutcome, len(args))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)

	for i, file := range args {
		i, file := i, file
		g.Go(func() error {
			outcomes[i] = runOne(ctx, a, tr, file, noCache)
			return nil
		})
	}

	_ = g.Wait()

	out := cmd.OutOrStdout()
	failed := 0

	for _, o := range outcomes {
		printOutcome(out, o)

		if o.err != nil || !o.result.Success() {
			failed++
		}
	}

	stats := a.cache.Stats()
	fmt.Fprintf(out, "\n%d files, %d failed | cache: %d hits, %d misses, %.1f%% hit rate\n",
		len(outcomes), failed, stats.CacheHits, stats.CacheMisses, stats.HitRate*100)

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d files", errTestsFailed, failed, len(outcomes))
	}

	return nil
}

func runOne(ctx context.Context, a *app, tr testRunner, file string, noCache bool) fileOutcome {
	run := tr.RunFunc(a.cfg, file)

	if noCache {
		result, err := run(ctx)
		return fileOutcome{file: file, result: result, err: err}
	}

	result, hit, err := a.cache.GetOrRun(ctx, file, run)
	if err != nil {
		a.log.Error("Test run failed", zap.String("file", file), zap.Error(err))
	}

	return fileOutcome{file: file, result: result, cached: hit, err: err}
}

func printOutcome(w io.Writer, o fileOutcome) {
	name := displayPath(o.file)

	if o.err != nil {
		fmt.Fprintf(w, "ERROR %s: %v\n", name, o.err)
		return
	}

	status := "PASS"
	if !o.result.Success() {
		status = "FAIL"
	}

	source := "ran"
	if o.cached {
		source = "cached"
	}

	fmt.Fprintf(w, "%s  %s  %d passed, %d failed, %d skipped in %dms (%s)\n",
		status, name, o.result.Passed, o.result.Failed, o.result.Skipped, o.result.DurationMs, source)

	for _, f := range o.result.Failures {
		fmt.Fprintf(w, "      ✗ %s\n", f.Name)
	}
}

// displayPath shortens path relative to the working directory when possible
func displayPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	wd, err := os.Getwd()
	if err != nil {
		return abs
	}

	rel, err := filepath.Rel(wd, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}

	return rel
}
