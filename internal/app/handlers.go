package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// afterChange drops the user's cached slots and announces the mutation.
// Both are best effort: the write already succeeded.
func (a *App) afterChange(ctx context.Context, userID, eventType string, payload any) {
	if err := a.Cache.Invalidate(ctx, userID); err != nil {
		a.Log.Warn("slot cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
	ev := DomainEvent{Type: eventType, Key: userID, OccurredAt: a.now().UTC(), Payload: payload}
	if err := a.Publisher.Publish(ctx, ev); err != nil {
		a.Log.Warn("publish domain event failed", zap.String("type", eventType), zap.Error(err))
	}
}

func pathID(c *gin.Context, name string) (string, error) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		return "", invalid("invalid " + name)
	}
	return id, nil
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// availability

type availabilityReq struct {
	DayOfWeek *Weekday `json:"day_of_week" binding:"required"`
	StartTime string   `json:"start_time" binding:"required"`
	EndTime   string   `json:"end_time" binding:"required"`
	Timezone  string   `json:"timezone"`
	IsActive  *bool    `json:"is_active"`
}

type createAvailabilityReq struct {
	Availabilities []availabilityReq `json:"availabilities" binding:"required,min=1,max=7,dive"`
}

func validateWindow(startTime, endTime, timezone string) error {
	start, err := parseHHMM(startTime)
	if err != nil {
		return invalid(err.Error())
	}
	end, err := parseHHMM(endTime)
	if err != nil {
		return invalid(err.Error())
	}
	if !end.After(start) {
		return invalid("end_time must be after start_time")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return invalid(fmt.Sprintf("unknown timezone %q", timezone))
	}
	return nil
}

// POST /api/availabilities
func (a *App) CreateAvailabilityHandler(c *gin.Context) {
	var req createAvailabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	userID := currentUserID(c)
	now := a.now().UTC()

	seen := map[Weekday]bool{}
	rules := make([]AvailabilityRule, 0, len(req.Availabilities))
	for _, p := range req.Availabilities {
		day := *p.DayOfWeek
		if seen[day] {
			a.fail(c, invalid(fmt.Sprintf("duplicate day_of_week %s", day)))
			return
		}
		seen[day] = true

		tz := p.Timezone
		if tz == "" {
			tz = a.DefaultTimezone
		}
		if err := validateWindow(p.StartTime, p.EndTime, tz); err != nil {
			a.fail(c, err)
			return
		}
		active := true
		if p.IsActive != nil {
			active = *p.IsActive
		}
		rules = append(rules, AvailabilityRule{
			ID:        newID(),
			UserID:    userID,
			DayOfWeek: day,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			Timezone:  tz,
			IsActive:  active,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	ctx := c.Request.Context()
	if err := a.Availability.InsertAvailabilityRules(ctx, rules); err != nil {
		a.fail(c, err)
		return
	}
	a.afterChange(ctx, userID, AvailabilityChanged, rules)
	c.JSON(http.StatusCreated, rules)
}

// GET /api/availabilities/:userId
func (a *App) ListAvailabilityHandler(c *gin.Context) {
	userID, err := pathID(c, "userId")
	if err != nil {
		a.fail(c, err)
		return
	}
	rules, err := a.Availability.ListAvailabilityRules(c.Request.Context(), userID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// ownedRule loads a rule and hides rules of other users behind ErrNotFound.
func (a *App) ownedRule(c *gin.Context) (AvailabilityRule, error) {
	id, err := pathID(c, "availabilityId")
	if err != nil {
		return AvailabilityRule{}, err
	}
	r, err := a.Availability.AvailabilityRule(c.Request.Context(), id)
	if err != nil {
		return AvailabilityRule{}, err
	}
	if r.UserID != currentUserID(c) {
		return AvailabilityRule{}, fmt.Errorf("availability %w", ErrNotFound)
	}
	return r, nil
}

type updateAvailabilityReq struct {
	DayOfWeek *Weekday `json:"day_of_week"`
	StartTime *string  `json:"start_time"`
	EndTime   *string  `json:"end_time"`
	Timezone  *string  `json:"timezone"`
	IsActive  *bool    `json:"is_active"`
}

// PUT /api/availabilities/:availabilityId
func (a *App) UpdateAvailabilityHandler(c *gin.Context) {
	var req updateAvailabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	if req.DayOfWeek == nil && req.StartTime == nil && req.EndTime == nil && req.Timezone == nil && req.IsActive == nil {
		a.fail(c, invalid("no fields to update"))
		return
	}

	r, err := a.ownedRule(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	if req.DayOfWeek != nil {
		r.DayOfWeek = *req.DayOfWeek
	}
	if req.StartTime != nil {
		r.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		r.EndTime = *req.EndTime
	}
	if req.Timezone != nil {
		r.Timezone = *req.Timezone
	}
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	if err := validateWindow(r.StartTime, r.EndTime, r.Timezone); err != nil {
		a.fail(c, err)
		return
	}
	r.UpdatedAt = a.now().UTC()

	ctx := c.Request.Context()
	if err := a.Availability.UpdateAvailabilityRule(ctx, &r); err != nil {
		a.fail(c, err)
		return
	}
	a.afterChange(ctx, r.UserID, AvailabilityChanged, r)
	c.JSON(http.StatusOK, r)
}

// DELETE /api/availabilities/:availabilityId?softDelete=true
// Soft delete (the default) keeps the rule but deactivates it.
func (a *App) DeleteAvailabilityHandler(c *gin.Context) {
	r, err := a.ownedRule(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	soft := c.DefaultQuery("softDelete", "true") == "true"

	ctx := c.Request.Context()
	if err := a.Availability.DeleteAvailabilityRule(ctx, r.ID, soft); err != nil {
		a.fail(c, err)
		return
	}
	a.afterChange(ctx, r.UserID, AvailabilityChanged, gin.H{"id": r.ID, "deleted": true, "soft": soft})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// events

type createEventReq struct {
	GuestEmail  string    `json:"guest_email" binding:"required,email"`
	Title       string    `json:"title" binding:"required,max=200"`
	Description string    `json:"description" binding:"max=2000"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	MeetingURL  string    `json:"meeting_url" binding:"omitempty,url"`
}

func validateSpan(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return invalid("start_time and end_time are required (RFC3339)")
	}
	if !start.Before(end) {
		return invalid("start_time must be before end_time")
	}
	return nil
}

// validTitle rejects line breaks; titles end up in mail headers.
func validTitle(title string) error {
	if strings.ContainsAny(title, "\r\n") {
		return invalid("title must be a single line")
	}
	return nil
}

func (a *App) stampNewEvent(e *Event) {
	now := a.now().UTC()
	e.ID = newID()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Source == "" {
		e.Source = SourceAPI
	}
}

// createEvent assigns identity, persists e and notifies the guest.
func (a *App) createEvent(ctx context.Context, e *Event) error {
	a.stampNewEvent(e)
	if err := a.Events.CreateEvent(ctx, e); err != nil {
		return err
	}
	a.eventCreated(ctx, e)
	return nil
}

func (a *App) eventCreated(ctx context.Context, e *Event) {
	a.afterChange(ctx, e.HostID, EventCreated, e)

	if e.GuestEmail != "" {
		body := fmt.Sprintf("You have been invited to %q from %s to %s (UTC).",
			e.Title, e.StartTime.UTC().Format(time.RFC1123), e.EndTime.UTC().Format(time.RFC1123))
		if e.MeetingURL != "" {
			body += "\nJoin: " + e.MeetingURL
		}
		if err := a.Mailer.Send(e.GuestEmail, "Invitation: "+e.Title, body); err != nil {
			a.Log.Warn("invitation email failed", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
}

// POST /api/events
func (a *App) CreateEventHandler(c *gin.Context) {
	var req createEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	if err := validTitle(req.Title); err != nil {
		a.fail(c, err)
		return
	}
	if err := validateSpan(req.StartTime, req.EndTime); err != nil {
		a.fail(c, err)
		return
	}

	ev := Event{
		HostID:      currentUserID(c),
		GuestEmail:  req.GuestEmail,
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
		MeetingURL:  req.MeetingURL,
	}
	if err := a.createEvent(c.Request.Context(), &ev); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// GET /api/events
func (a *App) ListEventsHandler(c *gin.Context) {
	events, err := a.Events.ListEventsByHost(c.Request.Context(), currentUserID(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (a *App) ownedEvent(c *gin.Context) (Event, error) {
	id, err := pathID(c, "eventId")
	if err != nil {
		return Event{}, err
	}
	e, err := a.Events.Event(c.Request.Context(), id)
	if err != nil {
		return Event{}, err
	}
	if e.HostID != currentUserID(c) {
		return Event{}, fmt.Errorf("event %w", ErrNotFound)
	}
	return e, nil
}

// GET /api/events/:eventId
func (a *App) GetEventHandler(c *gin.Context) {
	e, err := a.ownedEvent(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type updateEventReq struct {
	GuestEmail  *string    `json:"guest_email" binding:"omitempty,email"`
	Title       *string    `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string    `json:"description" binding:"omitempty,max=2000"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	MeetingURL  *string    `json:"meeting_url" binding:"omitempty,url"`
}

// PUT /api/events/:eventId
func (a *App) UpdateEventHandler(c *gin.Context) {
	var req updateEventReq
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, invalid(err.Error()))
		return
	}
	if req.GuestEmail == nil && req.Title == nil && req.Description == nil &&
		req.StartTime == nil && req.EndTime == nil && req.MeetingURL == nil {
		a.fail(c, invalid("no fields to update"))
		return
	}

	e, err := a.ownedEvent(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	if req.GuestEmail != nil {
		e.GuestEmail = *req.GuestEmail
	}
	if req.Title != nil {
		if err := validTitle(*req.Title); err != nil {
			a.fail(c, err)
			return
		}
		e.Title = *req.Title
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.StartTime != nil {
		e.StartTime = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		e.EndTime = req.EndTime.UTC()
	}
	if req.MeetingURL != nil {
		e.MeetingURL = *req.MeetingURL
	}
	if err := validateSpan(e.StartTime, e.EndTime); err != nil {
		a.fail(c, err)
		return
	}
	e.UpdatedAt = a.now().UTC()

	ctx := c.Request.Context()
	if err := a.Events.UpdateEvent(ctx, &e); err != nil {
		a.fail(c, err)
		return
	}
	a.afterChange(ctx, e.HostID, EventUpdated, e)
	c.JSON(http.StatusOK, e)
}

// DELETE /api/events/:eventId
func (a *App) DeleteEventHandler(c *gin.Context) {
	e, err := a.ownedEvent(c)
	if err != nil {
		a.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := a.Events.DeleteEvent(ctx, e.ID); err != nil {
		a.fail(c, err)
		return
	}
	a.afterChange(ctx, e.HostID, EventDeleted, gin.H{"id": e.ID})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
