package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"portalcal/internal/model"
)

func newEventCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage local events in the persisted snapshot",
	}
	cmd.AddCommand(newEventAddCmd(a), newEventRmCmd(a), newEventListCmd(a))
	return cmd
}

func newEventAddCmd(a *app) *cobra.Command {
	var ev model.Event
	var typ string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a local event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.openSession(true)
			if err != nil {
				return err
			}
			defer sess.Close()

			ev.Type = model.EventType(typ)
			created, err := sess.CreateLocalEvent(ev)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(created)
		},
	}

	f := cmd.Flags()
	f.StringVar(&ev.ID, "id", "", "Event id (generated when empty)")
	f.StringVar(&ev.Title, "title", "", "Title")
	f.StringVar(&ev.Date, "date", "", "Date, YYYY-MM-DD")
	f.StringVar(&ev.Time, "time", "", "Time, HH:MM")
	f.StringVar(&typ, "type", string(model.EventMeeting), "Event type")
	f.StringVar(&ev.Description, "description", "", "Description")
	f.StringVar(&ev.Course, "course", "", "Course code")
	f.StringVar(&ev.Location, "location", "", "Location")
	f.StringVar(&ev.Recurrence, "recurrence", "", "RRULE, e.g. FREQ=WEEKLY;COUNT=12")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func newEventRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a local event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(true)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.DeleteLocalEvent(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newEventListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merged events from the persisted snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := a.openSession(true)
			if err != nil {
				return err
			}
			defer sess.Close()

			events := sess.Events()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTIME\tTYPE\tORIGIN\tTITLE")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ev.ID, ev.Date, ev.Time, ev.Type, ev.Origin, ev.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
