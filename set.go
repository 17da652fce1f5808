package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
)

func newSetCmd(c *cli) *cobra.Command {
	var (
		name    string
		color   string
		block   bool
		receive bool
	)

	cmd := &cobra.Command{
		Use:   "set <calendar-id>",
		Short: "Change a calendar's name, color or blocking flags",
		Long: `Change a calendar's settings. Only the flags given are changed.

Mirrors that already exist are left alone; the new flags apply to events
written afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			cal, err := a.Engine.Calendar(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				cal.Name = name
			}
			if flags.Changed("color") {
				cal.Color = color
			}
			if flags.Changed("blocking") {
				cal.EnableBlocking = block
			}
			if flags.Changed("receive") {
				cal.ReceiveBlocks = receive
			}

			if err := a.Engine.UpdateCalendar(cmd.Context(), cal); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Calendar %s updated (blocking=%t, receive=%t)\n", cal.Name, cal.EnableBlocking, cal.ReceiveBlocks)
			return nil
		}),
	}

	cmd.Flags().StringVar(&name, "name", "", "New calendar name")
	cmd.Flags().StringVar(&color, "color", "", "New display color")
	cmd.Flags().BoolVar(&block, "blocking", false, "Mirror this calendar's events onto receiving calendars")
	cmd.Flags().BoolVar(&receive, "receive", false, "Receive mirrors from calendars with blocking enabled")
	return cmd
}
