package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
)

func newCleanupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Repair blocking bookkeeping and remove orphaned mirrors",
		Long: `Bring relationships back in line with the stored events:

  - mirrors of source events that no longer exist are removed
  - relationship rows pointing at missing mirrors are dropped
  - mirror events no relationship refers to are deleted`,
		Args: cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			out := cmd.OutOrStdout()
			rep, err := a.Engine.Repair(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			printReport(out, rep)
			fmt.Fprintf(out, "Cleanup finished: %d mirrors removed, %d stale entries dropped\n", rep.Removed, len(rep.Skipped))
			if len(rep.Failures) > 0 {
				return fmt.Errorf("%d mirrors could not be removed", len(rep.Failures))
			}
			return nil
		}),
	}
}
