package app

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrEmailTaken = errors.New("email is already registered")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
}

// AvailabilityStore persists weekly windows. A user has at most one rule per day.
type AvailabilityStore interface {
	InsertAvailabilityRules(ctx context.Context, rules []AvailabilityRule) error
	ListAvailabilityRules(ctx context.Context, userID string) ([]AvailabilityRule, error)
	AvailabilityRule(ctx context.Context, id string) (AvailabilityRule, error)
	UpdateAvailabilityRule(ctx context.Context, r *AvailabilityRule) error
	DeleteAvailabilityRule(ctx context.Context, id string, soft bool) error
	// ActiveForDay returns nil without error when the day has no active rule.
	ActiveForDay(ctx context.Context, userID string, day Weekday) (*AvailabilityRule, error)
}

// EventStore persists booked events. CreateEvent and UpdateEvent return
// ErrConflict when the event would overlap another event of the same host.
type EventStore interface {
	CreateEvent(ctx context.Context, e *Event) error
	// BookEvent inserts e only if check accepts the host's events in
	// [from, to). The read, check and insert are atomic per host; check may
	// adjust e's times before the insert.
	BookEvent(ctx context.Context, e *Event, from, to time.Time, check func(existing []Event) error) error
	Event(ctx context.Context, id string) (Event, error)
	ListEventsByHost(ctx context.Context, hostID string) ([]Event, error)
	// ListEventsBetween returns events overlapping [from, to) ordered by start.
	ListEventsBetween(ctx context.Context, hostID string, from, to time.Time) ([]Event, error)
	UpdateEvent(ctx context.Context, e *Event) error
	DeleteEvent(ctx context.Context, id string) error
}
