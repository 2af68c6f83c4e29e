package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/repository"
	"github.com/spec-kit/queue-router/internal/repository/memory"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// contendedStore loses every compare-and-set, as if another writer always got there first.
type contendedStore struct {
	*memory.SessionStore
	applies atomic.Int32
}

func (s *contendedStore) Apply(context.Context, repository.Transition) error {
	s.applies.Add(1)
	return repository.ErrStateMismatch
}

func TestTransitionReportsRetryableErrorWhenContentionPersists(t *testing.T) {
	var contended *contendedStore
	h := newHarnessWithRepo(t, config.EngineConfig{}, func(store *memory.SessionStore) repository.SessionRepository {
		contended = &contendedStore{SessionStore: store}
		return contended
	})
	ctx := context.Background()
	if _, err := h.lifecycle.CreateSession(ctx, CreateSessionInput{SessionID: "s-1", CustomerID: "cust-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := h.lifecycle.MarkCancelled(ctx, "s-1", CancelInput{})
	if code := apperrors.CodeOf(err); code != apperrors.CodeInternal {
		t.Fatalf("expected %s, got %q (%v)", apperrors.CodeInternal, code, err)
	}
	if errors.Is(err, apperrors.ErrConflictState) {
		t.Fatal("a session that never finished must not be reported as finished")
	}
	if !errors.Is(err, repository.ErrStateMismatch) {
		t.Fatalf("expected the compare-and-set cause to be kept, got %v", err)
	}
	if got := contended.applies.Load(); got != maxTransitionAttempts {
		t.Fatalf("expected %d attempts, got %d", maxTransitionAttempts, got)
	}
	if got := len(h.eventsOf(events.EventSessionCancelled)); got != 0 {
		t.Fatalf("expected no cancelled event, got %d", got)
	}
}

func TestCompleteAndCancelRaceHasOneWinner(t *testing.T) {
	h := newHarness(t, config.EngineConfig{})
	h.addOperator("op-1", domain.DepartmentFiscal, 0, true)
	ctx := context.Background()

	const rounds = 20
	for i := 0; i < rounds; i++ {
		id := fmt.Sprintf("s-%d", i)
		h.waitingSession(t, id, fmt.Sprintf("cust-%d", i), domain.DepartmentFiscal, nil)
		if _, err := h.assignment.Assign(ctx, id); err != nil {
			t.Fatalf("assign %s: %v", id, err)
		}

		var (
			start              = make(chan struct{})
			wg                 sync.WaitGroup
			completeErr, cxErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, completeErr = h.lifecycle.MarkCompleted(ctx, id, CompleteInput{By: domain.OperatorRef("op-1")})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, cxErr = h.lifecycle.MarkCancelled(ctx, id, CancelInput{})
		}()
		close(start)
		wg.Wait()

		if (completeErr == nil) == (cxErr == nil) {
			t.Fatalf("%s: expected exactly one winner, got complete=%v cancel=%v", id, completeErr, cxErr)
		}
		loser := completeErr
		if loser == nil {
			loser = cxErr
		}
		if !errors.Is(loser, apperrors.ErrConflictState) {
			t.Fatalf("%s: expected the loser to see a finished session, got %v", id, loser)
		}

		session, err := h.lifecycle.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		want := domain.SessionStatusCompleted
		if completeErr != nil {
			want = domain.SessionStatusCancelled
		}
		if session.Status != want {
			t.Fatalf("%s: expected %s, got %s", id, want, session.Status)
		}
		outcome, err := h.lifecycle.GetOutcome(ctx, id)
		if err != nil {
			t.Fatalf("outcome %s: %v", id, err)
		}
		if string(outcome.Outcome) != string(want) {
			t.Fatalf("%s: outcome %s does not match status %s", id, outcome.Outcome, want)
		}
	}

	terminal := append(h.eventsOf(events.EventSessionCompleted), h.eventsOf(events.EventSessionCancelled)...)
	if len(terminal) != rounds {
		t.Fatalf("expected one terminal event per session, got %d", len(terminal))
	}
	outbox := h.sessions.Outbox()
	if len(outbox) != rounds {
		t.Fatalf("expected one outbox row per session, got %d", len(outbox))
	}
	perSession := map[string]string{}
	for _, row := range outbox {
		if _, dup := perSession[row.SessionID]; dup {
			t.Fatalf("duplicate outbox row for %s", row.SessionID)
		}
		perSession[row.SessionID] = row.ID
	}
	for _, event := range terminal {
		if perSession[event.SessionID] != event.ID {
			t.Fatalf("event %s for %s does not carry the outbox id %s", event.ID, event.SessionID, perSession[event.SessionID])
		}
	}
}
