package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/presence"
	"github.com/spec-kit/queue-router/internal/repository"
	"github.com/spec-kit/queue-router/internal/repository/memory"
	"github.com/spec-kit/queue-router/internal/snapshot"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock      *testClock
	sessions   *memory.SessionStore
	operators  *memory.OperatorStore
	oracle     *presence.StaticOracle
	snapshots  *snapshot.MemoryStore
	metrics    *observability.Metrics
	lifecycle  *SessionService
	assignment *AssignmentService
	reaper     *Reaper

	mu        sync.Mutex
	published []events.Event
}

func newHarness(t *testing.T, cfg config.EngineConfig) *harness {
	return newHarnessWithRepo(t, cfg, nil)
}

// newHarnessWithRepo lets a test wrap the session store; nil uses the memory store directly.
func newHarnessWithRepo(t *testing.T, cfg config.EngineConfig, wrap func(*memory.SessionStore) repository.SessionRepository) *harness {
	t.Helper()
	h := &harness{
		clock:     &testClock{now: baseTime},
		sessions:  memory.NewSessionStore(),
		operators: memory.NewOperatorStore(),
		oracle:    presence.NewStaticOracle(),
		snapshots: snapshot.NewMemoryStore(),
		metrics:   observability.NewMetrics(),
	}
	var repo repository.SessionRepository = h.sessions
	if wrap != nil {
		repo = wrap(h.sessions)
	}

	dispatcher := events.NewInMemoryDispatcher()
	record := func(_ context.Context, event events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.published = append(h.published, event)
		return nil
	}
	for _, eventType := range []events.EventType{
		events.EventSessionCreated,
		events.EventSessionWaiting,
		events.EventSessionAssigned,
		events.EventSessionCompleted,
		events.EventSessionCancelled,
	} {
		dispatcher.Subscribe(eventType, record)
	}

	h.lifecycle = NewSessionService(SessionDependencies{
		SessionRepo: repo,
		Dispatcher:  dispatcher,
		Metrics:     h.metrics,
		Clock:       h.clock.Now,
	})
	h.assignment = NewAssignmentService(AssignmentDependencies{
		SessionRepo:  repo,
		OperatorRepo: h.operators,
		Oracle:       h.oracle,
		Snapshots:    h.snapshots,
		Lifecycle:    h.lifecycle,
		Dispatcher:   dispatcher,
		Metrics:      h.metrics,
		Clock:        h.clock.Now,
		Config:       cfg,
	})
	h.reaper = NewReaper(ReaperDependencies{
		SessionRepo: repo,
		Lifecycle:   h.lifecycle,
		Metrics:     h.metrics,
		Clock:       h.clock.Now,
		Config:      cfg,
	})
	return h
}

func (h *harness) eventsOf(eventType events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, event := range h.published {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// addOperator registers a regular operator; order follows the offset from baseTime.
func (h *harness) addOperator(id string, dept domain.Department, order int, online bool) {
	h.operators.Put(domain.Operator{
		ID:         id,
		Name:       "Operator " + id,
		Department: dept,
		Profile:    domain.ProfileOperator,
		Active:     true,
		Listable:   true,
		CreatedAt:  baseTime.Add(time.Duration(order) * time.Hour),
	})
	h.oracle.Set(id, online)
}

func (h *harness) addSupervisor(id string, dept domain.Department, order int) {
	h.operators.Put(domain.Operator{
		ID:         id,
		Name:       "Supervisor " + id,
		Department: dept,
		Profile:    domain.ProfileSupervisor,
		Active:     true,
		Listable:   true,
		CreatedAt:  baseTime.Add(time.Duration(order) * time.Hour),
	})
}

// waitingSession creates an inbound session and completes its automated flow.
func (h *harness) waitingSession(t *testing.T, id, customer string, dept domain.Department, requested *string) *domain.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := h.lifecycle.CreateSession(ctx, CreateSessionInput{SessionID: id, CustomerID: customer}); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	session, err := h.lifecycle.RecordAutomatedCompletion(ctx, id, dept, requested)
	if err != nil {
		t.Fatalf("automated completion %s: %v", id, err)
	}
	return session
}

func strPtr(v string) *string { return &v }
