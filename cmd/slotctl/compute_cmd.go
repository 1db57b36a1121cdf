package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slot-scheduler/internal/slots"
)

const (
	dateFlag       = "date"
	windowFlag     = "window"
	eventFlag      = "event"
	durationFlag   = "duration"
	zoneFlag       = "zone"
	timezoneFlag   = "timezone"
	jsonOutputFlag = "json"
)

func initComputeCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Print the free chunks of one availability window",
		Example: `  slotctl compute --date 2025-04-07 --window 09:00-17:00 \
    --event 10:00-11:00 --event 14:00-15:00 --duration 30`,
		Args: cobra.NoArgs,
		RunE: compute,
	}

	flags := cmd.Flags()
	flags.String(dateFlag, time.Now().Format("2006-01-02"), "civil date, YYYY-MM-DD")
	flags.String(windowFlag, "", "availability window, HH:MM-HH:MM")
	flags.StringArray(eventFlag, nil, "booked event, HH:MM-HH:MM (repeatable)")
	flags.Int(durationFlag, slots.DefaultChunkMinutes, "chunk length in minutes")
	flags.String(zoneFlag, "UTC", "timezone the window and events are written in")
	flags.String(timezoneFlag, "", "timezone to render slots in (default --zone)")
	flags.Bool(jsonOutputFlag, false, "print slots as JSON")
	_ = cmd.MarkFlagRequired(windowFlag)
	return cmd
}

func compute(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	date, _ := flags.GetString(dateFlag)
	window, _ := flags.GetString(windowFlag)
	events, _ := flags.GetStringArray(eventFlag)
	duration, _ := flags.GetInt(durationFlag)
	zone, _ := flags.GetString(zoneFlag)
	display, _ := flags.GetString(timezoneFlag)
	asJSON, _ := flags.GetBool(jsonOutputFlag)
	if display == "" {
		display = zone
	}

	loc, err := slots.LoadLocation(zone)
	if err != nil {
		return err
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return fmt.Errorf("--%s must be YYYY-MM-DD: %w", dateFlag, err)
	}
	avail, err := parseSpan(day, window)
	if err != nil {
		return fmt.Errorf("--%s: %w", windowFlag, err)
	}
	booked := make([]slots.Interval, 0, len(events))
	for _, e := range events {
		iv, err := parseSpan(day, e)
		if err != nil {
			return fmt.Errorf("--%s %q: %w", eventFlag, e, err)
		}
		booked = append(booked, iv)
	}

	out, err := slots.Compute(avail, booked, duration, display)
	if err != nil {
		return err
	}
	return printSlots(cmd.OutOrStdout(), out, asJSON)
}

// parseSpan reads "HH:MM-HH:MM" on day, in day's location.
func parseSpan(day time.Time, s string) (slots.Interval, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return slots.Interval{}, fmt.Errorf("want HH:MM-HH:MM, got %q", s)
	}
	start, err := clockOn(day, from)
	if err != nil {
		return slots.Interval{}, err
	}
	end, err := clockOn(day, to)
	if err != nil {
		return slots.Interval{}, err
	}
	return slots.Interval{Start: start, End: end}, nil
}

func clockOn(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q", hhmm)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

func printSlots(w io.Writer, out []slots.Slot, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(out) == 0 {
		_, err := fmt.Fprintln(w, "no free slots")
		return err
	}
	for _, s := range out {
		if _, err := fmt.Fprintf(w, "%s-%s\n", s.Start, s.End); err != nil {
			return err
		}
	}
	return nil
}
