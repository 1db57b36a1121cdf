package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PGStore implements UserStore, AvailabilityStore and EventStore on PostgreSQL.
type PGStore struct {
	DB *pgxpool.Pool
}

func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// users

func (s *PGStore) CreateUser(ctx context.Context, u *User) error {
	q := `INSERT INTO users (id, name, email, password_hash, phone_number, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.DB.Exec(ctx, q, u.ID, u.Name, u.Email, u.PasswordHash, u.PhoneNumber, u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

const userColumns = `id::text, name, email, password_hash, phone_number, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.PhoneNumber, &u.CreatedAt)
	return u, notFound(err)
}

func (s *PGStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email))
}

func (s *PGStore) UserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *PGStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.DB.Exec(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, passwordHash, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.DB.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// availability

func (s *PGStore) InsertAvailabilityRules(ctx context.Context, rules []AvailabilityRule) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO user_availability
	      (id, user_id, day_of_week, start_time, end_time, timezone, is_active, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for _, r := range rules {
		_, err := tx.Exec(ctx, q, r.ID, r.UserID, int(r.DayOfWeek), r.StartTime, r.EndTime,
			r.Timezone, r.IsActive, r.CreatedAt, r.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: availability already exists for %s", ErrConflict, r.DayOfWeek)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const ruleColumns = `id::text, user_id::text, day_of_week, start_time::text, end_time::text,
	timezone, is_active, created_at, updated_at`

func scanRule(row pgx.Row) (AvailabilityRule, error) {
	var r AvailabilityRule
	var day int
	err := row.Scan(&r.ID, &r.UserID, &day, &r.StartTime, &r.EndTime,
		&r.Timezone, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	r.DayOfWeek = Weekday(day)
	r.StartTime, r.EndTime = trimZeroSeconds(r.StartTime), trimZeroSeconds(r.EndTime)
	return r, err
}

// trimZeroSeconds turns Postgres "09:00:00" back into the "09:00" clients send.
func trimZeroSeconds(t string) string {
	if len(t) == len("15:04:05") && strings.HasSuffix(t, ":00") {
		return t[:len("15:04")]
	}
	return t
}

func (s *PGStore) ListAvailabilityRules(ctx context.Context, userID string) ([]AvailabilityRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM user_availability WHERE user_id=$1 ORDER BY day_of_week`
	rows, err := s.DB.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AvailabilityRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) AvailabilityRule(ctx context.Context, id string) (AvailabilityRule, error) {
	r, err := scanRule(s.DB.QueryRow(ctx, `SELECT `+ruleColumns+` FROM user_availability WHERE id=$1`, id))
	return r, notFound(err)
}

func (s *PGStore) UpdateAvailabilityRule(ctx context.Context, r *AvailabilityRule) error {
	q := `UPDATE user_availability
	      SET day_of_week=$1, start_time=$2, end_time=$3, timezone=$4, is_active=$5, updated_at=$6
	      WHERE id=$7`
	res, err := s.DB.Exec(ctx, q, int(r.DayOfWeek), r.StartTime, r.EndTime, r.Timezone, r.IsActive, r.UpdatedAt, r.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: availability already exists for %s", ErrConflict, r.DayOfWeek)
	}
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) DeleteAvailabilityRule(ctx context.Context, id string, soft bool) error {
	q := `DELETE FROM user_availability WHERE id=$1`
	if soft {
		q = `UPDATE user_availability SET is_active=false, updated_at=now() WHERE id=$1`
	}
	res, err := s.DB.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ActiveForDay(ctx context.Context, userID string, day Weekday) (*AvailabilityRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM user_availability
	      WHERE user_id=$1 AND day_of_week=$2 AND is_active LIMIT 1`
	r, err := scanRule(s.DB.QueryRow(ctx, q, userID, int(day)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// events

const eventColumns = `id::text, host_id::text, guest_email, title, description, start_time, end_time,
	meeting_url, source, external_id, created_at, updated_at`

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.HostID, &e.GuestEmail, &e.Title, &e.Description, &e.StartTime, &e.EndTime,
		&e.MeetingURL, &e.Source, &e.ExternalID, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// lockHost serializes event writers per host on the users row.
func lockHost(ctx context.Context, tx pgx.Tx, hostID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id::text FROM users WHERE id=$1 FOR UPDATE`, hostID).Scan(&id)
	return notFound(err)
}

// checkOverlap looks for any other event of the host intersecting [start, end).
func checkOverlap(ctx context.Context, tx pgx.Tx, e *Event) error {
	checkQ := `SELECT id::text FROM events
	           WHERE host_id=$1 AND start_time < $3 AND end_time > $2 AND id <> $4
	           LIMIT 1`
	var existingID string
	err := tx.QueryRow(ctx, checkQ, e.HostID, e.StartTime.UTC(), e.EndTime.UTC(), e.ID).Scan(&existingID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if existingID != "" {
		return fmt.Errorf("%w: overlaps event %s", ErrConflict, existingID)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	insertQ := `INSERT INTO events
		(id, host_id, guest_email, title, description, start_time, end_time, meeting_url, source, external_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := tx.Exec(ctx, insertQ, e.ID, e.HostID, e.GuestEmail, e.Title, e.Description,
		e.StartTime.UTC(), e.EndTime.UTC(), e.MeetingURL, e.Source, e.ExternalID, e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: event already imported", ErrConflict)
	}
	return err
}

func (s *PGStore) CreateEvent(ctx context.Context, e *Event) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockHost(ctx, tx, e.HostID); err != nil {
		return err
	}
	if err := checkOverlap(ctx, tx, e); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BookEvent runs check against the host's events in [from, to) and inserts e
// in the same transaction, with the host row locked throughout.
func (s *PGStore) BookEvent(ctx context.Context, e *Event, from, to time.Time, check func(existing []Event) error) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockHost(ctx, tx, e.HostID); err != nil {
		return err
	}
	existing, err := queryEvents(ctx, tx, eventsBetweenQuery, e.HostID, from.UTC(), to.UTC())
	if err != nil {
		return err
	}
	if err := check(existing); err != nil {
		return err
	}
	if err := checkOverlap(ctx, tx, e); err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Event(ctx context.Context, id string) (Event, error) {
	e, err := scanEvent(s.DB.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, id))
	return e, notFound(err)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryEvents(ctx context.Context, db querier, q string, args ...any) ([]Event, error) {
	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) ListEventsByHost(ctx context.Context, hostID string) ([]Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE host_id=$1 ORDER BY start_time`
	return queryEvents(ctx, s.DB, q, hostID)
}

const eventsBetweenQuery = `SELECT ` + eventColumns + ` FROM events
	WHERE host_id=$1 AND start_time < $3 AND end_time > $2
	ORDER BY start_time`

func (s *PGStore) ListEventsBetween(ctx context.Context, hostID string, from, to time.Time) ([]Event, error) {
	return queryEvents(ctx, s.DB, eventsBetweenQuery, hostID, from.UTC(), to.UTC())
}

func (s *PGStore) UpdateEvent(ctx context.Context, e *Event) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockHost(ctx, tx, e.HostID); err != nil {
		return err
	}
	if err := checkOverlap(ctx, tx, e); err != nil {
		return err
	}

	q := `UPDATE events
	      SET guest_email=$1, title=$2, description=$3, start_time=$4, end_time=$5, meeting_url=$6, updated_at=$7
	      WHERE id=$8`
	res, err := tx.Exec(ctx, q, e.GuestEmail, e.Title, e.Description, e.StartTime.UTC(), e.EndTime.UTC(),
		e.MeetingURL, e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PGStore) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.DB.Exec(ctx, `DELETE FROM events WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
