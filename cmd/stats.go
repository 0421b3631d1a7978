package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/testcache/internal/cache"
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics and recommendations",
		Args:  cobra.NoArgs,
		RunE:  showStats,
	}

	cmd.Flags().Bool("json", false, "Print statistics as JSON")

	return cmd
}

func showStats(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	stats := a.cache.Stats()
	eff := a.cache.Effectiveness()
	out := cmd.OutOrStdout()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(struct {
			Stats         cache.Stats         `json:"stats"`
			Effectiveness cache.Effectiveness `json:"effectiveness"`
		}{stats, eff})
	}

	fmt.Fprintf(out, "Entries:        %d / %d\n", stats.EntriesCount, a.cache.MaxEntries())
	fmt.Fprintf(out, "Requests:       %d\n", stats.TotalRequests)
	fmt.Fprintf(out, "Hits:           %d\n", stats.CacheHits)
	fmt.Fprintf(out, "Misses:         %d\n", stats.CacheMisses)
	fmt.Fprintf(out, "Hit rate:       %.1f%%\n", eff.HitRate*100)
	fmt.Fprintf(out, "Time saved:     %.1f min\n", eff.TimeSavedMinutes)
	fmt.Fprintf(out, "Space used:     %.1f MB\n", eff.SpaceSavedMB)

	if len(eff.Recommendations) > 0 {
		fmt.Fprintln(out, "\nRecommendations:")
		for _, r := range eff.Recommendations {
			fmt.Fprintf(out, "  - %s\n", r)
		}
	}

	return nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached results",
		Args:  cobra.NoArgs,
		RunE:  listEntries,
	}
}

func listEntries(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	entries := a.cache.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No cached results")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tPASSED\tFAILED\tSKIPPED\tDEPS\tDURATION\tAGE")

	for _, e := range entries {
		status := "pass"
		if !e.Result.Success() {
			status = "fail"
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			displayPath(e.TestFile), status, e.Result.Passed, e.Result.Failed, e.Result.Skipped,
			len(e.DependencyHashes),
			time.Duration(e.DurationMs)*time.Millisecond,
			time.Since(e.Timestamp).Truncate(time.Second),
		)
	}

	return tw.Flush()
}
