package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"slot-scheduler/internal/slots"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, invalid("date must be YYYY-MM-DD")
	}
	return d, nil
}

// dayWindow resolves the active window for date and the bounds of that
// calendar day, both in the availability rule's timezone. ok is false when
// the day has no active availability.
func (a *App) dayWindow(ctx context.Context, userID string, date time.Time) (window slots.Interval, dayStart, dayEnd time.Time, ok bool, err error) {
	rule, err := a.Availability.ActiveForDay(ctx, userID, Weekday(date.Weekday()))
	if err != nil {
		return slots.Interval{}, time.Time{}, time.Time{}, false, fmt.Errorf("load availability: %w", err)
	}
	if rule == nil {
		return slots.Interval{}, time.Time{}, time.Time{}, false, nil
	}

	start, end, err := rule.Window(date)
	if err != nil {
		return slots.Interval{}, time.Time{}, time.Time{}, false, err
	}
	y, m, d := date.Date()
	dayStart = time.Date(y, m, d, 0, 0, 0, 0, start.Location())
	return slots.Interval{Start: start, End: end}, dayStart, dayStart.AddDate(0, 0, 1), true, nil
}

func bookedIntervals(events []Event) []slots.Interval {
	out := make([]slots.Interval, 0, len(events))
	for _, e := range events {
		out = append(out, slots.Interval{Start: e.StartTime, End: e.EndTime})
	}
	return out
}

func (a *App) computeSlots(ctx context.Context, userID string, day time.Time, duration int, timezone string) ([]slots.Slot, error) {
	window, dayStart, dayEnd, ok, err := a.dayWindow(ctx, userID, day)
	if err != nil || !ok {
		return []slots.Slot{}, err
	}
	events, err := a.Events.ListEventsBetween(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return slots.Compute(window, bookedIntervals(events), duration, timezone)
}

// FreeSlotsForDate lists the bookable chunks of userID on date (YYYY-MM-DD)
// rendered in timezone. A day without active availability yields an empty list.
func (a *App) FreeSlotsForDate(ctx context.Context, userID, date string, duration int, timezone string) ([]slots.Slot, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %d", slots.ErrInvalidArgument, duration)
	}
	if _, err := slots.LoadLocation(timezone); err != nil {
		return nil, err
	}

	// The version is read before the inputs so a list computed across an
	// invalidation is stored under the old version and never served.
	ver, err := a.Cache.Version(ctx, userID)
	cacheable := err == nil
	if err != nil {
		a.Log.Warn("slot cache version read failed", zap.String("user_id", userID), zap.Error(err))
	}
	key := SlotKey{UserID: userID, Version: ver, Date: date, Duration: duration, Timezone: timezone}
	if cacheable {
		if cached, ok, err := a.Cache.Get(ctx, key); err != nil {
			a.Log.Warn("slot cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	out, err := a.computeSlots(ctx, userID, day, duration, timezone)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := a.Cache.Set(ctx, key, out); err != nil {
			a.Log.Warn("slot cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return out, nil
}

func (a *App) queryDuration(c *gin.Context) (int, error) {
	raw := c.Query("duration")
	if raw == "" {
		return slots.DefaultChunkMinutes, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, invalid("duration must be a positive number of minutes")
	}
	return n, nil
}

func (a *App) queryTimezone(c *gin.Context) string {
	if tz := strings.TrimSpace(c.Query("timezone")); tz != "" {
		return tz
	}
	return a.DefaultTimezone
}

// GET /api/slots/:userId?date=YYYY-MM-DD&duration=30&timezone=UTC
func (a *App) GetSlotsHandler(c *gin.Context) {
	userID := c.Param("userId")
	if _, err := uuid.Parse(userID); err != nil {
		a.fail(c, invalid("invalid user id"))
		return
	}
	date := c.Query("date")
	if date == "" {
		a.fail(c, invalid("date is required (YYYY-MM-DD)"))
		return
	}
	duration, err := a.queryDuration(c)
	if err != nil {
		a.fail(c, err)
		return
	}

	out, err := a.FreeSlotsForDate(c.Request.Context(), userID, date, duration, a.queryTimezone(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": out})
}

type bookSlotReq struct {
	GuestEmail  string `json:"guest_email" binding:"required,email"`
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
	Date        string `json:"date" binding:"required"`
	Start       string `json:"start" binding:"required"`
	Duration    int    `json:"duration" binding:"omitempty,min=1"`
	Timezone    string `json:"timezone"`
}

// slotMatcher accepts either an RFC3339 instant or an HH:mm label as shown by
// GetSlotsHandler in loc.
func slotMatcher(start string, loc *time.Location) (func(time.Time) bool, error) {
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		return t.Equal, nil
	}
	tod, err := parseHHMM(start)
	if err != nil || len(start) != len("15:04") {
		return nil, invalid("start must be HH:mm or an RFC3339 timestamp")
	}
	label := tod.Format("15:04")
	return func(t time.Time) bool { return t.In(loc).Format("15:04") == label }, nil
}

// POST /api/slots/:userId/book
// A guest books one of the free chunks returned by GetSlotsHandler for the
// same date, duration and timezone. date is the host's availability day.
func (a *App) BookSlotHandler(c *gin.Context) {
	hostID := c.Param("userId")
	if _, err := uuid.Parse(hostID); err != nil {
		a.fail(c, invalid("invalid user id"))
		return
	}
	var req bookSlotReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	if err := validTitle(req.Title); err != nil {
		a.fail(c, err)
		return
	}
	if req.Duration == 0 {
		req.Duration = slots.DefaultChunkMinutes
	}
	if req.Timezone == "" {
		req.Timezone = a.DefaultTimezone
	}

	day, err := parseDate(req.Date)
	if err != nil {
		a.fail(c, err)
		return
	}
	loc, err := slots.LoadLocation(req.Timezone)
	if err != nil {
		a.fail(c, err)
		return
	}
	matches, err := slotMatcher(req.Start, loc)
	if err != nil {
		a.fail(c, err)
		return
	}

	ctx := c.Request.Context()
	window, dayStart, dayEnd, ok, err := a.dayWindow(ctx, hostID, day)
	if err != nil {
		a.fail(c, err)
		return
	}
	unavailable := fmt.Errorf("%w: slot not available", ErrConflict)
	if !ok {
		a.fail(c, unavailable)
		return
	}

	ev := Event{
		HostID:      hostID,
		GuestEmail:  req.GuestEmail,
		Title:       req.Title,
		Description: req.Description,
		Source:      SourceBooking,
	}
	a.stampNewEvent(&ev)
	err = a.Events.BookEvent(ctx, &ev, dayStart, dayEnd, func(existing []Event) error {
		free, err := slots.FreeIntervals(window, bookedIntervals(existing), req.Duration)
		if err != nil {
			return err
		}
		for _, f := range free {
			if matches(f.Start) {
				ev.StartTime, ev.EndTime = f.Start.UTC(), f.End.UTC()
				return nil
			}
		}
		return unavailable
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	a.eventCreated(ctx, &ev)
	c.JSON(http.StatusCreated, ev)
}
