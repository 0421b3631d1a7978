package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/testcache/internal/cache"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <test file>",
		Short: "Store a result produced outside testcache",
		Long: `Record the outcome of a test file that was run by another tool so later
runs can be served from the cache.`,
		Args: cobra.ExactArgs(1),
		RunE: recordResult,
	}

	cmd.Flags().Int("passed", 0, "Number of passing tests")
	cmd.Flags().Int("failed", 0, "Number of failing tests")
	cmd.Flags().Int("skipped", 0, "Number of skipped tests")
	cmd.Flags().Duration("duration", 0, "How long the test file took to run")
	cmd.Flags().StringArray("failure", nil, "Name of a failing test (repeatable)")

	return cmd
}

func recordResult(cmd *cobra.Command, args []string) error {
	passed, _ := cmd.Flags().GetInt("passed")
	failed, _ := cmd.Flags().GetInt("failed")
	skipped, _ := cmd.Flags().GetInt("skipped")
	duration, _ := cmd.Flags().GetDuration("duration")
	failureNames, _ := cmd.Flags().GetStringArray("failure")

	if passed < 0 || failed < 0 || skipped < 0 {
		return fmt.Errorf("test counts cannot be negative")
	}

	if duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}

	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	result := cache.Result{
		Passed:     passed,
		Failed:     failed,
		Skipped:    skipped,
		DurationMs: duration.Milliseconds(),
		Timestamp:  time.Now(),
	}

	for _, name := range failureNames {
		result.Failures = append(result.Failures, cache.Failure{Name: name})
	}

	a.cache.Record(args[0], result, duration)

	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s (%d passed, %d failed, %d skipped)\n",
		displayPath(args[0]), passed, failed, skipped)

	return nil
}
