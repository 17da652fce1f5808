package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobuk/calblock/internal/app"
	"github.com/bobuk/calblock/internal/blocking"
	"github.com/bobuk/calblock/internal/model"
)

// eventFlags are shared by event create and event update.
type eventFlags struct {
	title       string
	description string
	location    string
	start       string
	end         string
	duration    time.Duration
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Event title")
	cmd.Flags().StringVar(&f.description, "description", "", "Event description (never copied to mirrors)")
	cmd.Flags().StringVar(&f.location, "location", "", "Event location (never copied to mirrors)")
	cmd.Flags().StringVar(&f.start, "start", "", "Start time, RFC3339 or \"2006-01-02 15:04\" in local time")
	cmd.Flags().StringVar(&f.end, "end", "", "End time, same formats as --start")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "Length of the event, instead of --end")
}

// apply copies the flags that were given onto evt.
func (f *eventFlags) apply(cmd *cobra.Command, evt *model.CalendarEvent) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		evt.Title = f.title
	}
	if flags.Changed("description") {
		evt.Description = f.description
	}
	if flags.Changed("location") {
		evt.Location = f.location
	}

	length := evt.End.Sub(evt.Start)
	if flags.Changed("start") {
		t, err := parseTime(f.start)
		if err != nil {
			return err
		}
		evt.Start = t
		evt.End = t.Add(length)
	}
	switch {
	case flags.Changed("end") && flags.Changed("duration"):
		return fmt.Errorf("--end and --duration are mutually exclusive")
	case flags.Changed("end"):
		t, err := parseTime(f.end)
		if err != nil {
			return err
		}
		evt.End = t
	case flags.Changed("duration"):
		evt.End = evt.Start.Add(f.duration)
	}
	return nil
}

func newEventCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create, update, delete and list events",
	}
	cmd.AddCommand(
		newEventCreateCmd(c),
		newEventUpdateCmd(c),
		newEventDeleteCmd(c),
		newEventListCmd(c),
	)
	return cmd
}

func newEventCreateCmd(c *cli) *cobra.Command {
	var f eventFlags
	cmd := &cobra.Command{
		Use:     "create <calendar-id>",
		Short:   "Create an event and block its time on receiving calendars",
		Example: `  calblock event create 5f0c... --title Standup --start "2026-03-02 09:00" --duration 30m`,
		Args:    cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			if !cmd.Flags().Changed("start") {
				return fmt.Errorf("--start is required")
			}
			var evt model.CalendarEvent
			if err := f.apply(cmd, &evt); err != nil {
				return err
			}

			res, err := a.Engine.CreateEventWithBlocking(cmd.Context(), args[0], evt)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), "created", res)
			return nil
		}),
	}
	f.register(cmd)
	return cmd
}

func newEventUpdateCmd(c *cli) *cobra.Command {
	var f eventFlags
	cmd := &cobra.Command{
		Use:   "update <calendar-id> <event-id>",
		Short: "Update an event and its mirrors",
		Long: `Update an event. Only the flags given are changed; moving --start keeps
the event's length unless --end or --duration is also given.`,
		Args: cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			evt, err := a.Engine.Event(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if err := f.apply(cmd, &evt); err != nil {
				return err
			}

			res, err := a.Engine.UpdateEventWithBlocking(cmd.Context(), args[0], evt)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), "updated", res)
			return nil
		}),
	}
	f.register(cmd)
	return cmd
}

func newEventDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <calendar-id> <event-id>",
		Short: "Delete an event and its mirrors",
		Args:  cobra.ExactArgs(2),
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			out := cmd.OutOrStdout()
			rep, err := a.Engine.DeleteEventWithBlocking(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printReport(out, rep)
			fmt.Fprintf(out, "✅ Event %s deleted, %d mirrors removed\n", args[1], rep.Removed)
			return nil
		}),
	}
}

func newEventListCmd(c *cli) *cobra.Command {
	var calendarID, from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events overlapping a time range",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, a *app.App, args []string) error {
			now := time.Now()
			start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
			var err error
			if from != "" {
				if start, err = parseTime(from); err != nil {
					return err
				}
			}
			end := start.AddDate(0, 0, 7)
			if to != "" {
				if end, err = parseTime(to); err != nil {
					return err
				}
			}
			if !end.After(start) {
				return fmt.Errorf("--to must be after --from")
			}

			evs, err := a.Engine.EventsInRange(cmd.Context(), start, end, calendarID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range evs {
				marker := "📅"
				if e.IsBlockingEvent {
					marker = "🚫"
				}
				fmt.Fprintf(out, "  %s %s - %s %s [%s on %s]\n", marker,
					e.Start.Local().Format("2006-01-02 15:04"), e.End.Local().Format("15:04"), e.Title, e.ID, e.CalendarID)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&calendarID, "calendar", "", "Only list events of this calendar")
	cmd.Flags().StringVar(&from, "from", "", "Range start (default: today)")
	cmd.Flags().StringVar(&to, "to", "", "Range end (default: a week after --from)")
	return cmd
}

func printResult(w io.Writer, verb string, res blocking.Result) {
	printReport(w, &res.Report)
	fmt.Fprintf(w, "✅ Event %s %s on calendar %s\n", res.Event.ID, verb, res.Event.CalendarID)
}
