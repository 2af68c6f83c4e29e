package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/repository"
	"github.com/spec-kit/queue-router/internal/repository/memory"
)

func reaperConfig() config.EngineConfig {
	return config.EngineConfig{InactivityTimeout: 30 * time.Minute, ReapPageSize: 2, ReapMaxPages: 10}
}

func TestReaperCancelsOnlyStaleAutomatedSessions(t *testing.T) {
	h := newHarness(t, reaperConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := h.lifecycle.CreateSession(ctx, CreateSessionInput{SessionID: fmt.Sprintf("stale-%d", i), CustomerID: fmt.Sprintf("cust-%d", i)}); err != nil {
			t.Fatalf("create stale %d: %v", i, err)
		}
	}
	h.waitingSession(t, "waiting", "cust-w", domain.DepartmentFiscal, nil)

	h.clock.Advance(time.Hour)
	if _, err := h.lifecycle.CreateSession(ctx, CreateSessionInput{SessionID: "fresh", CustomerID: "cust-f"}); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	result, err := h.reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Reaped != 5 || result.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Pages != 3 {
		t.Fatalf("expected 3 pages of 2, got %d", result.Pages)
	}

	for i := 0; i < 5; i++ {
		session, err := h.lifecycle.GetSession(ctx, fmt.Sprintf("stale-%d", i))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if session.Status != domain.SessionStatusCancelled || session.CancelReason == nil || *session.CancelReason != domain.CancelReasonTimeout {
			t.Fatalf("stale-%d not reaped: %+v", i, session)
		}
	}
	for _, id := range []string{"waiting", "fresh"} {
		session, err := h.lifecycle.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if session.Status.Terminal() {
			t.Fatalf("%s should be untouched, got %s", id, session.Status)
		}
	}

	again, err := h.reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Reaped != 0 {
		t.Fatalf("second sweep should find nothing, got %+v", again)
	}
}

// racingStore runs advance once, after the first page is read and before the
// reaper acts on it.
type racingStore struct {
	*memory.SessionStore
	once    sync.Once
	advance func()
}

func (r *racingStore) ListStaleAutomated(ctx context.Context, filter repository.StaleFilter) ([]domain.Session, error) {
	page, err := r.SessionStore.ListStaleAutomated(ctx, filter)
	if err == nil && len(page) > 0 {
		r.once.Do(r.advance)
	}
	return page, err
}

func TestReaperSkipsSessionThatProgressedDuringSweep(t *testing.T) {
	var racer *racingStore
	h := newHarnessWithRepo(t, reaperConfig(), func(store *memory.SessionStore) repository.SessionRepository {
		racer = &racingStore{SessionStore: store}
		return racer
	})
	ctx := context.Background()
	racer.advance = func() {
		if _, err := h.lifecycle.RecordAutomatedCompletion(ctx, "racer", domain.DepartmentFiscal, nil); err != nil {
			t.Errorf("advance racer: %v", err)
		}
	}

	if _, err := h.lifecycle.CreateSession(ctx, CreateSessionInput{SessionID: "racer", CustomerID: "cust-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.lifecycle.CreateSession(ctx, CreateSessionInput{SessionID: "idle", CustomerID: "cust-2"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.clock.Advance(time.Hour)

	result, err := h.reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Reaped != 1 || result.Skipped != 1 {
		t.Fatalf("expected 1 reaped and 1 skipped, got %+v", result)
	}

	racerSession, err := h.lifecycle.GetSession(ctx, "racer")
	if err != nil {
		t.Fatalf("get racer: %v", err)
	}
	if racerSession.Status != domain.SessionStatusWaiting {
		t.Fatalf("session that moved on must stay waiting, got %s", racerSession.Status)
	}
}

func TestConcurrentSweepsReapEachSessionOnce(t *testing.T) {
	h := newHarness(t, reaperConfig())
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := h.lifecycle.CreateSession(ctx, CreateSessionInput{SessionID: fmt.Sprintf("s-%d", i), CustomerID: fmt.Sprintf("cust-%d", i)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	h.clock.Advance(time.Hour)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.reaper.Sweep(ctx)
			if err != nil {
				t.Errorf("sweep: %v", err)
				return
			}
			mu.Lock()
			total += result.Reaped
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 6 {
		t.Fatalf("expected 6 reaps across sweeps, got %d", total)
	}
}
