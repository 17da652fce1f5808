package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
)

func newDesyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "desync",
		Short: "Remove every mirror and forget all blocking relationships",
		Long: `Remove every mirror event from every calendar, including remote ones,
and drop the relationships that tracked them. Source events are kept.

Mirrors that cannot be removed stay recorded so a later desync or cleanup
can retry them.`,
		Args: cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "🚀 Starting calendar desynchronization...")

			rep, err := a.Engine.Desync(cmd.Context())
			if err != nil {
				return fmt.Errorf("desync: %w", err)
			}
			if !printReport(out, rep) {
				return fmt.Errorf("%d mirrors could not be removed", len(rep.Failures))
			}
			fmt.Fprintf(out, "Calendars desynced successfully, %d mirrors removed\n", rep.Removed)
			return nil
		}),
	}
}
