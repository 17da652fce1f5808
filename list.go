package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
)

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List calendars and the mirrors they hold",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			stats, err := a.Engine.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("list calendars: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "No calendars registered. Add one with: calblock add <name>")
				return nil
			}
			fmt.Fprintln(out, "📋 Here's the list of calendars you are blocking:")
			for _, s := range stats {
				cal := s.Calendar
				where := string(cal.Kind)
				if cal.Kind.IsRemote() {
					where = fmt.Sprintf("%s %s@%s", cal.Kind, cal.RemoteID, cal.ProviderConfig)
				}
				fmt.Fprintf(out, "  📅 %s [%s] (%s) blocking=%t receive=%t - %d\n",
					cal.Name, cal.ID, where, cal.EnableBlocking, cal.ReceiveBlocks, s.Mirrors)
			}
			return nil
		}),
	}
}
