package slots

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// BreakDuration is the buffer kept free after every booked event.
const BreakDuration = 15 * time.Minute

// DefaultChunkMinutes is the slot length used when the caller does not ask for one.
const DefaultChunkMinutes = 30

var ErrInvalidArgument = errors.New("invalid argument")

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Slot is a free chunk rendered as wall-clock HH:mm in the display timezone.
type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Compute returns the bookable chunks of chunkMinutes inside availability,
// keeping clear of every booked interval plus BreakDuration after it.
// booked does not need to be sorted. Output is chronological.
func Compute(availability Interval, booked []Interval, chunkMinutes int, displayTimezone string) ([]Slot, error) {
	loc, err := LoadLocation(displayTimezone)
	if err != nil {
		return nil, err
	}
	free, err := FreeIntervals(availability, booked, chunkMinutes)
	if err != nil {
		return nil, err
	}
	return Render(free, loc), nil
}

// FreeIntervals is Compute without rendering: the chunks as absolute instants.
func FreeIntervals(availability Interval, booked []Interval, chunkMinutes int) ([]Interval, error) {
	if chunkMinutes <= 0 {
		return nil, fmt.Errorf("%w: chunk duration must be positive, got %d", ErrInvalidArgument, chunkMinutes)
	}
	if !availability.End.After(availability.Start) {
		return nil, fmt.Errorf("%w: availability end %s is not after start %s",
			ErrInvalidArgument, availability.End.Format(time.RFC3339), availability.Start.Format(time.RFC3339))
	}
	chunk := time.Duration(chunkMinutes) * time.Minute

	events := slices.Clone(booked)
	slices.SortStableFunc(events, func(a, b Interval) int {
		return a.Start.Compare(b.Start)
	})

	out := []Interval{}
	cursor := availability.Start
	for i := 0; i <= len(events); i++ {
		regionEnd := availability.End
		if i < len(events) && events[i].Start.Before(regionEnd) {
			regionEnd = events[i].Start
		}

		for start := cursor; !start.Add(chunk).After(regionEnd); start = start.Add(chunk) {
			c := Interval{Start: start, End: start.Add(chunk)}
			if overlapsAny(c, events) {
				continue
			}
			out = append(out, c)
		}

		if i < len(events) {
			// never move left: an event nested in an earlier one keeps the earlier break
			if next := events[i].End.Add(BreakDuration); next.After(cursor) {
				cursor = next
			}
		}
	}
	return out, nil
}

// Render formats each interval's bounds as HH:mm in loc.
func Render(free []Interval, loc *time.Location) []Slot {
	out := make([]Slot, 0, len(free))
	for _, f := range free {
		out = append(out, Slot{
			Start: f.Start.In(loc).Format("15:04"),
			End:   f.End.In(loc).Format("15:04"),
		})
	}
	return out
}

// LoadLocation resolves an IANA timezone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidArgument, name)
	}
	return loc, nil
}

func overlapsAny(c Interval, events []Interval) bool {
	for _, e := range events {
		if c.overlaps(e) {
			return true
		}
	}
	return false
}
