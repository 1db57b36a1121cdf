package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"slot-scheduler/internal/slots"
)

// memStore is an in-memory UserStore, AvailabilityStore and EventStore with
// the same conflict rules as the Postgres schema.
type memStore struct {
	mu     sync.Mutex
	users  map[string]User
	rules  map[string]AvailabilityRule
	events map[string]Event

	// beforeBook, when set, runs once at the start of the next BookEvent,
	// before the store is locked.
	beforeBook func()
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]User{},
		rules:  map[string]AvailabilityRule{},
		events: map[string]Event{},
	}
}

func (s *memStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrEmailTaken
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *memStore) UserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *memStore) UserByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *memStore) UpdatePassword(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	s.users[id] = u
	return nil
}

func (s *memStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for rid, r := range s.rules {
		if r.UserID == id {
			delete(s.rules, rid)
		}
	}
	for eid, e := range s.events {
		if e.HostID == id {
			delete(s.events, eid)
		}
	}
	return nil
}

func (s *memStore) dayTaken(userID string, day Weekday, exceptID string) bool {
	for _, r := range s.rules {
		if r.UserID == userID && r.DayOfWeek == day && r.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *memStore) InsertAvailabilityRules(_ context.Context, rules []AvailabilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		if s.dayTaken(r.UserID, r.DayOfWeek, "") {
			return fmt.Errorf("%w: availability already exists for %s", ErrConflict, r.DayOfWeek)
		}
	}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	return nil
}

func (s *memStore) ListAvailabilityRules(_ context.Context, userID string) ([]AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []AvailabilityRule{}
	for _, r := range s.rules {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out, nil
}

func (s *memStore) AvailabilityRule(_ context.Context, id string) (AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return AvailabilityRule{}, ErrNotFound
	}
	return r, nil
}

func (s *memStore) UpdateAvailabilityRule(_ context.Context, r *AvailabilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return ErrNotFound
	}
	if s.dayTaken(r.UserID, r.DayOfWeek, r.ID) {
		return fmt.Errorf("%w: availability already exists for %s", ErrConflict, r.DayOfWeek)
	}
	s.rules[r.ID] = *r
	return nil
}

func (s *memStore) DeleteAvailabilityRule(_ context.Context, id string, soft bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return ErrNotFound
	}
	if soft {
		r.IsActive = false
		s.rules[id] = r
		return nil
	}
	delete(s.rules, id)
	return nil
}

func (s *memStore) ActiveForDay(_ context.Context, userID string, day Weekday) (*AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.UserID == userID && r.DayOfWeek == day && r.IsActive {
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memStore) checkEvent(e *Event) error {
	if _, ok := s.users[e.HostID]; !ok {
		return ErrNotFound
	}
	for _, other := range s.events {
		if other.HostID != e.HostID || other.ID == e.ID {
			continue
		}
		if e.ExternalID != "" && other.ExternalID == e.ExternalID {
			return fmt.Errorf("%w: event already imported", ErrConflict)
		}
		if other.StartTime.Before(e.EndTime) && e.StartTime.Before(other.EndTime) {
			return fmt.Errorf("%w: overlaps event %s", ErrConflict, other.ID)
		}
	}
	return nil
}

func (s *memStore) CreateEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkEvent(e); err != nil {
		return err
	}
	s.events[e.ID] = *e
	return nil
}

func (s *memStore) BookEvent(_ context.Context, e *Event, from, to time.Time, check func([]Event) error) error {
	s.mu.Lock()
	hook := s.beforeBook
	s.beforeBook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.eventsLocked(func(x Event) bool {
		return x.HostID == e.HostID && x.StartTime.Before(to) && x.EndTime.After(from)
	})
	if err := check(existing); err != nil {
		return err
	}
	if err := s.checkEvent(e); err != nil {
		return err
	}
	s.events[e.ID] = *e
	return nil
}

func (s *memStore) Event(_ context.Context, id string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return e, nil
}

func (s *memStore) filterEvents(keep func(Event) bool) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventsLocked(keep)
}

func (s *memStore) eventsLocked(keep func(Event) bool) []Event {
	out := []Event{}
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *memStore) ListEventsByHost(_ context.Context, hostID string) ([]Event, error) {
	return s.filterEvents(func(e Event) bool { return e.HostID == hostID }), nil
}

func (s *memStore) ListEventsBetween(_ context.Context, hostID string, from, to time.Time) ([]Event, error) {
	return s.filterEvents(func(e Event) bool {
		return e.HostID == hostID && e.StartTime.Before(to) && e.EndTime.After(from)
	}), nil
}

func (s *memStore) UpdateEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return ErrNotFound
	}
	if err := s.checkEvent(e); err != nil {
		return err
	}
	s.events[e.ID] = *e
	return nil
}

func (s *memStore) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return ErrNotFound
	}
	delete(s.events, id)
	return nil
}

type sentMail struct {
	To, Subject, Body string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

type recordPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (p *recordPublisher) Publish(_ context.Context, ev DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// memCache mirrors RedisSlotCache semantics: Invalidate bumps the user's
// version, so keys built from an older version no longer match.
type memCache struct {
	mu       sync.Mutex
	entries  map[SlotKey][]slots.Slot
	versions map[string]int64
	hits     int
}

func newMemCache() *memCache {
	return &memCache{entries: map[SlotKey][]slots.Slot{}, versions: map[string]int64{}}
}

func (c *memCache) Version(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *memCache) Get(_ context.Context, k SlotKey) ([]slots.Slot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[k]
	if ok {
		c.hits++
	}
	return s, ok, nil
}

func (c *memCache) Set(_ context.Context, k SlotKey, s []slots.Slot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k] = s
	return nil
}

func (c *memCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[userID]++
	for k := range c.entries {
		if k.UserID == userID {
			delete(c.entries, k)
		}
	}
	return nil
}

// testNow is a Monday.
var testNow = time.Date(2025, 4, 7, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	app    *App
	store  *memStore
	mail   *captureMailer
	pub    *recordPublisher
	cache  *memCache
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		store: newMemStore(),
		mail:  &captureMailer{},
		pub:   &recordPublisher{},
		cache: newMemCache(),
	}
	now := func() time.Time { return testNow }
	env.app = &App{
		Users:        env.store,
		Availability: env.store,
		Events:       env.store,
		Cache:        env.cache,
		Mailer:       env.mail,
		Publisher:    env.pub,
		Tokens: &Tokens{
			Secret:   []byte("test-secret"),
			TTL:      time.Hour,
			ResetTTL: 15 * time.Minute,
			Now:      now,
		},
		Log:             zap.NewNop(),
		DefaultTimezone: "UTC",
		FrontendURL:     "http://frontend.test",
		Now:             now,
	}
	env.router = gin.New()
	env.app.RegisterRoutes(env.router)
	return env
}

// do sends a JSON request and decodes the JSON response into out when non-nil.
func (env *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

// signup registers a user and returns its id and an access token.
func (env *testEnv) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	var created struct {
		UserID string `json:"user_id"`
	}
	code := env.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"name": "Test User", "email": email, "password": "correct-horse",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("signup %s: status %d", email, code)
	}
	u, err := env.store.UserByID(context.Background(), created.UserID)
	if err != nil {
		t.Fatalf("user not stored: %v", err)
	}
	token, err := env.app.Tokens.Issue(u)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return created.UserID, token
}

func (env *testEnv) addMondayWindow(t *testing.T, token, from, to string) AvailabilityRule {
	t.Helper()
	var rules []AvailabilityRule
	code := env.do(t, http.MethodPost, "/api/availabilities", token, gin.H{
		"availabilities": []gin.H{{"day_of_week": "Monday", "start_time": from, "end_time": to}},
	}, &rules)
	if code != http.StatusCreated || len(rules) != 1 {
		t.Fatalf("create availability: status %d, rules %v", code, rules)
	}
	return rules[0]
}

func (env *testEnv) addEvent(t *testing.T, hostID string, start, end time.Time) Event {
	t.Helper()
	e := Event{HostID: hostID, Title: "busy", StartTime: start, EndTime: end}
	if err := env.app.createEvent(context.Background(), &e); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return e
}
