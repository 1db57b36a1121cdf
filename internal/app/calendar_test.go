package app

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/calendar/v3"
)

func TestToCalendarEvent(t *testing.T) {
	timed := toCalendarEvent(&calendar.Event{
		Id:      "g1",
		Summary: "Standup",
		Status:  "confirmed",
		Start:   &calendar.EventDateTime{DateTime: "2025-04-07T09:00:00+02:00"},
		End:     &calendar.EventDateTime{DateTime: "2025-04-07T09:15:00+02:00"},
		Creator: &calendar.EventCreator{Email: "boss@example.com"},
	})
	if timed.AllDay || !timed.Busy || timed.Creator != "boss@example.com" {
		t.Errorf("timed = %+v", timed)
	}
	if want := time.Date(2025, 4, 7, 7, 0, 0, 0, time.UTC); !timed.StartTime.Equal(want) {
		t.Errorf("start = %v, want %v", timed.StartTime, want)
	}

	allDay := toCalendarEvent(&calendar.Event{
		Id:           "g2",
		Transparency: "transparent",
		Start:        &calendar.EventDateTime{Date: "2025-04-07"},
		End:          &calendar.EventDateTime{Date: "2025-04-08"},
	})
	if !allDay.AllDay || allDay.Busy {
		t.Errorf("allDay = %+v", allDay)
	}
}

func TestBusyEvents(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2025, 4, 7, h, m, 0, 0, time.UTC) }
	items := []CalendarEvent{
		{ID: "a", Summary: "Standup", StartTime: at(9, 0), EndTime: at(9, 15), Busy: true},
		{ID: "b", Summary: "Holiday", StartTime: at(0, 0), EndTime: at(0, 0).AddDate(0, 0, 1), AllDay: true, Busy: true},
		{ID: "c", Summary: "Focus (free)", StartTime: at(10, 0), EndTime: at(11, 0)},
		{ID: "d", StartTime: at(12, 0), EndTime: at(12, 30), Busy: true},
		{ID: "e", Summary: "Broken", StartTime: at(13, 0), EndTime: at(13, 0), Busy: true},
		{ID: "f", Summary: "Review\r\nBcc: all@example.com", StartTime: at(14, 0), EndTime: at(14, 30), Busy: true},
	}

	got := busyEvents("host-1", items)
	want := []Event{
		{HostID: "host-1", Title: "Standup", StartTime: at(9, 0), EndTime: at(9, 15), Source: SourceGoogle, ExternalID: "a"},
		{HostID: "host-1", Title: "Busy", StartTime: at(12, 0), EndTime: at(12, 30), Source: SourceGoogle, ExternalID: "d"},
		{HostID: "host-1", Title: "Review Bcc: all@example.com", StartTime: at(14, 0), EndTime: at(14, 30), Source: SourceGoogle, ExternalID: "f"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("busyEvents (-want +got):\n%s", diff)
	}
}

func TestCalendarNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signup(t, "host@example.com")

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/calendar/auth"},
		{http.MethodGet, "/api/calendar/events"},
		{http.MethodGet, "/api/calendar/calendars"},
	}
	for _, p := range paths {
		var body map[string]string
		if code := env.do(t, p.method, p.path, token, nil, &body); code != http.StatusInternalServerError {
			t.Errorf("%s %s: status %d, want 500", p.method, p.path, code)
		}
		if body["error"] != "Google Calendar not configured" {
			t.Errorf("%s %s: error %q", p.method, p.path, body["error"])
		}
	}

	env.app.Google = NewGoogleConfig("id", "secret", "http://localhost/oauth2callback")
	var auth map[string]string
	if code := env.do(t, http.MethodGet, "/api/calendar/auth", token, nil, &auth); code != http.StatusOK {
		t.Fatalf("auth: status %d", code)
	}
	if auth["auth_url"] == "" || auth["state"] == "" {
		t.Errorf("auth = %v", auth)
	}
	if code := env.do(t, http.MethodGet, "/api/calendar/events", token, nil, nil); code != http.StatusBadRequest {
		t.Errorf("events without google token: status %d, want 400", code)
	}
	bad := gin.H{"time_min": "2025-04-08T00:00:00Z", "time_max": "2025-04-07T00:00:00Z"}
	if code := env.do(t, http.MethodPost, "/api/calendar/import", token, bad, nil); code != http.StatusBadRequest {
		t.Errorf("import with inverted range: status %d, want 400", code)
	}
}
