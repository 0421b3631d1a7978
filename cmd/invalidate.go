package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInvalidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invalidate <files...>",
		Short: "Drop cached results",
		Long: `Drop the cached result of each test file. With --dependents the arguments are
treated as source files and every cached test importing them is dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: invalidate,
	}

	cmd.Flags().BoolP("dependents", "d", false, "Invalidate tests that import the given files")

	return cmd
}

func invalidate(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	dependents, _ := cmd.Flags().GetBool("dependents")
	out := cmd.OutOrStdout()

	for _, file := range args {
		name := displayPath(file)

		if dependents {
			n := a.cache.InvalidateDependents(file)
			fmt.Fprintf(out, "%s: invalidated %d dependent tests\n", name, n)
			continue
		}

		if a.cache.Invalidate(file) {
			fmt.Fprintf(out, "%s: invalidated\n", name)
		} else {
			fmt.Fprintf(out, "%s: not cached\n", name)
		}
	}

	return nil
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached result",
		Args:  cobra.NoArgs,
		RunE:  clearCache,
	}

	cmd.Flags().Bool("stats", false, "Also reset hit and miss statistics")

	return cmd
}

func clearCache(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd, args)
	if err != nil {
		return err
	}
	defer a.close()

	n := a.cache.Len()
	a.cache.Clear()

	resetStats, _ := cmd.Flags().GetBool("stats")
	if resetStats {
		a.cache.ResetStats()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached results\n", n)
	if resetStats {
		fmt.Fprintln(cmd.OutOrStdout(), "Statistics reset")
	}

	return nil
}
