package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/queue-router/internal/domain"
	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/presence"
	"github.com/spec-kit/queue-router/internal/repository"
	apperrors "github.com/spec-kit/queue-router/pkg/util/errorutil"
)

// candidateSource builds availability-annotated operator lists. Directory and
// presence failures never abort a routing call: they degrade to "nobody" and
// "offline" respectively.
type candidateSource struct {
	operators   repository.OperatorRepository
	sessions    repository.SessionRepository
	oracle      presence.Oracle
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// eligible returns the department's eligible operators of one profile in directory order.
func (c candidateSource) eligible(ctx context.Context, department domain.Department, profile domain.ProfileTier) []domain.Operator {
	lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ops, err := c.operators.List(lookupCtx, repository.EligibleFilter(department, profile))
	if err != nil {
		c.dependencyFailed("operator_directory", err, zap.String("department", string(department)))
		return nil
	}
	out := ops[:0]
	for _, op := range ops {
		if op.Eligible() && op.Department == department && op.Profile == profile {
			out = append(out, op)
		}
	}
	return out
}

// candidates lists the department's operators and probes their presence concurrently.
func (c candidateSource) candidates(ctx context.Context, department domain.Department) []domain.Candidate {
	ops := c.eligible(ctx, department, domain.ProfileOperator)
	out := make([]domain.Candidate, len(ops))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, op := range ops {
		i, op := i, op
		out[i] = domain.Candidate{Operator: op}
		g.Go(func() error {
			out[i].Online = c.isOnline(gctx, op.ID)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c candidateSource) isOnline(ctx context.Context, operatorID string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	online, err := c.oracle.IsOnline(probeCtx, operatorID)
	if err != nil {
		c.dependencyFailed("availability_oracle", err, zap.String("operator_id", operatorID))
		return false
	}
	return online
}

// supervisors lists escalation targets with their in-service load when the store can tell.
func (c candidateSource) supervisors(ctx context.Context, department domain.Department) []SupervisorCandidate {
	ops := c.eligible(ctx, department, domain.ProfileSupervisor)
	if len(ops) == 0 {
		return nil
	}
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}

	loadCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	counts, err := c.sessions.CountInService(loadCtx, ids)
	if err != nil {
		c.logger.Warn("supervisor load unavailable", zap.String("department", string(department)), zap.Error(err))
		counts = nil
	}

	out := make([]SupervisorCandidate, len(ops))
	for i, op := range ops {
		out[i] = SupervisorCandidate{Operator: op}
		if counts != nil {
			load := counts[op.ID]
			out[i].Load = &load
		}
	}
	return out
}

func (c candidateSource) dependencyFailed(dependency string, err error, fields ...zap.Field) {
	c.metrics.RecordDependencyTimeout(dependency)
	fields = append(fields,
		zap.String("code", apperrors.CodeDependencyTimeout),
		zap.String("dependency", dependency),
		zap.Error(err))
	c.logger.Warn("dependency degraded", fields...)
}
