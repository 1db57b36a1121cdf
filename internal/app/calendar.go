package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const googleTokenHeader = "X-Google-Token"

// NewGoogleConfig returns the OAuth2 client used for read-only calendar access.
func NewGoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{calendar.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

var errCalendarDisabled = errors.New("Google Calendar not configured")

// calendarService builds a Calendar client from the caller's X-Google-Token
// header (the JSON returned by the OAuth callback).
func (a *App) calendarService(c *gin.Context) (*calendar.Service, error) {
	if a.Google == nil {
		return nil, errCalendarDisabled
	}
	tokenStr := c.GetHeader(googleTokenHeader)
	if tokenStr == "" {
		return nil, invalid("Google token required in " + googleTokenHeader + " header")
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(tokenStr), &token); err != nil {
		return nil, invalid("invalid token format")
	}

	ctx := c.Request.Context()
	client := a.Google.Client(ctx, &token)
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return srv, nil
}

func (a *App) calendarFail(c *gin.Context, err error) {
	if errors.Is(err, errCalendarDisabled) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	a.fail(c, err)
}

// GET /api/calendar/auth
func (a *App) GoogleAuthHandler(c *gin.Context) {
	if a.Google == nil {
		a.calendarFail(c, errCalendarDisabled)
		return
	}
	state := fmt.Sprintf("user_%s_%d", currentUserID(c), a.now().Unix())
	c.JSON(http.StatusOK, gin.H{
		"auth_url": a.Google.AuthCodeURL(state, oauth2.AccessTypeOffline),
		"state":    state,
	})
}

// GET /oauth2callback
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if a.Google == nil {
		a.calendarFail(c, errCalendarDisabled)
		return
	}
	code := c.Query("code")
	if code == "" {
		a.fail(c, invalid("authorization code required"))
		return
	}

	token, err := a.Google.Exchange(c.Request.Context(), code)
	if err != nil {
		a.Log.Warn("google code exchange failed", zap.Error(err))
		a.fail(c, invalid("failed to exchange code for token"))
		return
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Authorization successful",
		"state":   c.Query("state"),
		"token":   string(tokenJSON),
	})
}

// CalendarEvent is the trimmed view of a Google Calendar event.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	AllDay      bool      `json:"all_day"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status"`
	Creator     string    `json:"creator,omitempty"`
	Busy        bool      `json:"busy"`
}

func parseEventTime(dt *calendar.EventDateTime) (t time.Time, allDay bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, _ = time.Parse(time.RFC3339, dt.DateTime)
		return t, false
	}
	if dt.Date != "" {
		t, _ = time.Parse(dateLayout, dt.Date)
		return t, true
	}
	return time.Time{}, false
}

func toCalendarEvent(item *calendar.Event) CalendarEvent {
	ev := CalendarEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
		Busy:        item.Status != "cancelled" && item.Transparency != "transparent",
	}
	if item.Creator != nil {
		ev.Creator = item.Creator.Email
	}
	ev.StartTime, ev.AllDay = parseEventTime(item.Start)
	ev.EndTime, _ = parseEventTime(item.End)
	return ev
}

func (a *App) fetchCalendarEvents(ctx context.Context, srv *calendar.Service, calendarID, timeMin, timeMax string) ([]CalendarEvent, error) {
	call := srv.Events.List(calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
	if timeMin != "" {
		call = call.TimeMin(timeMin)
	}
	if timeMax != "" {
		call = call.TimeMax(timeMax)
	}

	out := []CalendarEvent{}
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			out = append(out, toCalendarEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve calendar events: %w", err)
	}
	return out, nil
}

func validRFC3339(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// GET /api/calendar/events?calendar_id=primary&time_min=RFC3339&time_max=RFC3339
func (a *App) GetGoogleCalendarEvents(c *gin.Context) {
	srv, err := a.calendarService(c)
	if err != nil {
		a.calendarFail(c, err)
		return
	}
	timeMin, timeMax := c.Query("time_min"), c.Query("time_max")
	if !validRFC3339(timeMin) || !validRFC3339(timeMax) {
		a.fail(c, invalid("time_min and time_max must be RFC3339"))
		return
	}

	events, err := a.fetchCalendarEvents(c.Request.Context(), srv, c.DefaultQuery("calendar_id", "primary"), timeMin, timeMax)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

type CalendarInfo struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary"`
	AccessRole  string `json:"access_role"`
}

// GET /api/calendar/calendars
func (a *App) GetGoogleCalendarList(c *gin.Context) {
	srv, err := a.calendarService(c)
	if err != nil {
		a.calendarFail(c, err)
		return
	}
	list, err := srv.CalendarList.List().Context(c.Request.Context()).Do()
	if err != nil {
		a.fail(c, fmt.Errorf("retrieve calendars: %w", err))
		return
	}

	calendars := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		calendars = append(calendars, CalendarInfo{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Primary:     item.Primary,
			AccessRole:  item.AccessRole,
		})
	}
	c.JSON(http.StatusOK, gin.H{"calendars": calendars, "count": len(calendars)})
}

type importCalendarReq struct {
	CalendarID string    `json:"calendar_id"`
	TimeMin    time.Time `json:"time_min"`
	TimeMax    time.Time `json:"time_max"`
}

// busyEvents keeps timed, busy events and converts them to host events.
// All-day entries are skipped: they would block whole days of availability.
func busyEvents(hostID string, items []CalendarEvent) []Event {
	var out []Event
	for _, it := range items {
		if !it.Busy || it.AllDay || it.StartTime.IsZero() || !it.StartTime.Before(it.EndTime) {
			continue
		}
		title := strings.Join(strings.Fields(it.Summary), " ")
		if title == "" {
			title = "Busy"
		}
		out = append(out, Event{
			HostID:      hostID,
			Title:       title,
			Description: it.Description,
			StartTime:   it.StartTime.UTC(),
			EndTime:     it.EndTime.UTC(),
			Source:      SourceGoogle,
			ExternalID:  it.ID,
		})
	}
	return out
}

// POST /api/calendar/import
// Copies busy Google events in [time_min, time_max) into the caller's events
// so they block slots. Events clashing with existing ones are skipped.
func (a *App) ImportGoogleEventsHandler(c *gin.Context) {
	var req importCalendarReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	if err := validateSpan(req.TimeMin, req.TimeMax); err != nil {
		a.fail(c, invalid("time_min must be before time_max (RFC3339)"))
		return
	}
	if req.CalendarID == "" {
		req.CalendarID = "primary"
	}
	srv, err := a.calendarService(c)
	if err != nil {
		a.calendarFail(c, err)
		return
	}

	ctx := c.Request.Context()
	items, err := a.fetchCalendarEvents(ctx, srv, req.CalendarID,
		req.TimeMin.Format(time.RFC3339), req.TimeMax.Format(time.RFC3339))
	if err != nil {
		a.fail(c, err)
		return
	}

	imported := []Event{}
	skipped := 0
	for _, ev := range busyEvents(currentUserID(c), items) {
		if err := a.createEvent(ctx, &ev); err != nil {
			if errors.Is(err, ErrConflict) {
				skipped++
				continue
			}
			a.fail(c, err)
			return
		}
		imported = append(imported, ev)
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported, "skipped": skipped})
}
