package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/queue-router/internal/messaging"
	"github.com/spec-kit/queue-router/internal/service"
)

type capturePublisher struct {
	mu       sync.Mutex
	keys     []string
	envs     []messaging.Envelope
	failures int
}

func (p *capturePublisher) Publish(_ context.Context, key string, env messaging.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, env)
	return nil
}

func (p *capturePublisher) delivered() []messaging.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messaging.Envelope, len(p.envs))
	copy(out, p.envs)
	return out
}

func (p *capturePublisher) Close() error { return nil }

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSweeper) Sweep(context.Context) (service.ReapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return service.ReapResult{Reaped: 1, Pages: 1}, nil
}

func TestNewReaperWorkerRejectsZeroInterval(t *testing.T) {
	if _, err := NewReaperWorker(&countingSweeper{}, 0, nil); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestReaperWorkerRunSweeps(t *testing.T) {
	sweeper := &countingSweeper{}
	w, err := NewReaperWorker(sweeper, time.Minute, nil)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	w.run()
	w.run()
	if sweeper.calls != 2 {
		t.Fatalf("expected 2 sweeps, got %d", sweeper.calls)
	}

	w.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}
