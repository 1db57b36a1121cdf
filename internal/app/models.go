package app

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday is a day of week stored as 0-6 (Sunday=0). JSON accepts either the
// English name or the number and always writes the name.
type Weekday time.Weekday

func (d Weekday) String() string { return time.Weekday(d).String() }

func (d Weekday) Valid() bool { return d >= 0 && d <= 6 }

func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Weekday) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		if n < 0 || n > 6 {
			return fmt.Errorf("day_of_week %d out of range 0-6", n)
		}
		*d = Weekday(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("day_of_week must be a weekday name or 0-6")
	}
	w, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*d = w
	return nil
}

func ParseWeekday(s string) (Weekday, error) {
	s = strings.TrimSpace(s)
	for i := time.Sunday; i <= time.Saturday; i++ {
		if strings.EqualFold(s, i.String()) || strings.EqualFold(s, i.String()[:3]) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// AvailabilityRule is a recurring weekly window. StartTime and EndTime are
// wall-clock HH:MM[:SS] in Timezone.
type AvailabilityRule struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DayOfWeek Weekday   `json:"day_of_week"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Timezone  string    `json:"timezone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Window anchors the rule on the given civil date in the rule's timezone.
func (r AvailabilityRule) Window(date time.Time) (start, end time.Time, err error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	startTOD, err := parseHHMM(r.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endTOD, err := parseHHMM(r.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d := date.Date()
	start = time.Date(y, m, d, startTOD.Hour(), startTOD.Minute(), startTOD.Second(), 0, loc)
	end = time.Date(y, m, d, endTOD.Hour(), endTOD.Minute(), endTOD.Second(), 0, loc)
	return start, end, nil
}

// Event is a booked meeting hosted by HostID.
type Event struct {
	ID          string    `json:"id"`
	HostID      string    `json:"host_id"`
	GuestEmail  string    `json:"guest_email,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	MeetingURL  string    `json:"meeting_url,omitempty"`
	Source      string    `json:"source"`
	ExternalID  string    `json:"external_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

const (
	SourceAPI     = "api"
	SourceBooking = "booking"
	SourceGoogle  = "google"
)

// parseHHMM accepts "HH:MM" or "HH:MM:SS"; only the clock fields of the result matter.
func parseHHMM(s string) (time.Time, error) {
	layout := "15:04"
	if len(s) > 5 {
		layout = "15:04:05"
	}
	tt, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q", s)
	}
	return tt, nil
}
