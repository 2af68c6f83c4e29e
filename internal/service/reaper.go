package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/repository"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// ReapResult summarises one sweep.
type ReapResult struct {
	Reaped  int `json:"reaped"`
	Skipped int `json:"skipped"`
	Pages   int `json:"pages"`
}

// Reaper cancels automated sessions the customer abandoned before picking a
// department. Each cancellation is its own compare-and-set, so sweeps may
// overlap with each other and with live traffic.
type Reaper struct {
	sessions  repository.SessionRepository
	lifecycle *SessionService
	logger    *zap.Logger
	metrics   *observability.Metrics
	clock     func() time.Time
	cfg       config.EngineConfig
}

// ReaperDependencies bundles collaborators.
type ReaperDependencies struct {
	SessionRepo repository.SessionRepository
	Lifecycle   *SessionService
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Clock       func() time.Time
	Config      config.EngineConfig
}

func NewReaper(deps ReaperDependencies) *Reaper {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Reaper{
		sessions:  deps.SessionRepo,
		lifecycle: deps.Lifecycle,
		logger:    logger,
		metrics:   deps.Metrics,
		clock:     clock,
		cfg:       deps.Config.WithDefaults(),
	}
}

// Sweep pages through stale automated sessions and cancels them with reason
// timeout. It stops after MaxPages pages; the next sweep picks up the rest.
func (r *Reaper) Sweep(ctx context.Context) (ReapResult, error) {
	var result ReapResult
	cutoff := r.clock().UTC().Add(-r.cfg.InactivityTimeout)
	filter := repository.StaleFilter{CreatedBefore: cutoff, Limit: r.cfg.ReapPageSize}

	defer func() {
		r.metrics.RecordReap(result.Reaped, result.Skipped)
	}()

	for result.Pages < r.cfg.ReapMaxPages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		page, err := r.sessions.ListStaleAutomated(ctx, filter)
		if err != nil {
			return result, apperrors.MapError(err)
		}
		if len(page) == 0 {
			break
		}
		result.Pages++

		for _, session := range page {
			cancelled, err := r.lifecycle.expireStale(ctx, session.ID, cutoff)
			if err != nil {
				r.logger.Warn("reap failed", zap.String("session_id", session.ID), zap.Error(err))
				result.Skipped++
				continue
			}
			if cancelled {
				result.Reaped++
			} else {
				result.Skipped++
			}
		}

		last := page[len(page)-1]
		createdAt := last.CreatedAt
		filter.AfterCreatedAt = &createdAt
		filter.AfterID = last.ID
		if len(page) < filter.Limit {
			break
		}
	}

	r.logger.Info("reaper sweep finished",
		zap.Int("reaped", result.Reaped),
		zap.Int("skipped", result.Skipped),
		zap.Int("pages", result.Pages),
		zap.Time("cutoff", cutoff))
	return result, nil
}
