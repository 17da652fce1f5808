package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
)

func newDeleteCmd(c *cli) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <calendar-id>",
		Short: "Delete a calendar and the mirrors tied to it",
		Long: `Delete a calendar together with its events.

Mirrors its events produced on other calendars are removed. Mirrors it holds
are removed too; for remote calendars that includes the copies in the
external service.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			out := cmd.OutOrStdout()
			cal, err := a.Engine.Calendar(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !yes && !confirm(cmd, fmt.Sprintf("⚠️  Are you sure you want to delete calendar %s?", cal.Name)) {
				fmt.Fprintln(out, "❌ Calendar deletion cancelled")
				return nil
			}

			rep, err := a.Engine.DeleteCalendar(cmd.Context(), cal.ID)
			printReport(out, rep)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✅ Calendar %s deleted, %d mirrors removed\n", cal.Name, rep.Removed)
			return nil
		}),
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
