package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/service"
)

// Sweeper runs one reap pass.
type Sweeper interface {
	Sweep(ctx context.Context) (service.ReapResult, error)
}

// ReaperWorker schedules sweeps on a fixed interval. A sweep still running
// when the next tick fires causes that tick to be skipped.
type ReaperWorker struct {
	cron    *cron.Cron
	sweeper Sweeper
	timeout time.Duration
	logger  *zap.Logger
}

// NewReaperWorker registers the sweep job. Each run gets at most one interval
// to finish.
func NewReaperWorker(sweeper Sweeper, interval time.Duration, logger *zap.Logger) (*ReaperWorker, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reap interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &ReaperWorker{
		cron:    newCron(logger),
		sweeper: sweeper,
		timeout: interval,
		logger:  logger,
	}
	if _, err := w.cron.AddFunc(fmt.Sprintf("@every %s", interval), w.run); err != nil {
		return nil, fmt.Errorf("schedule reaper: %w", err)
	}
	return w, nil
}

func (w *ReaperWorker) Start() {
	w.cron.Start()
	w.logger.Info("reaper scheduled", zap.Duration("interval", w.timeout))
}

// Stop halts the schedule and waits for an in-flight sweep or ctx.
func (w *ReaperWorker) Stop(ctx context.Context) {
	done := w.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		w.logger.Warn("reaper stop timed out")
	}
}

func (w *ReaperWorker) run() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	started := time.Now()
	result, err := w.sweeper.Sweep(ctx)
	fields := []zap.Field{
		zap.Int("reaped", result.Reaped),
		zap.Int("skipped", result.Skipped),
		zap.Int("pages", result.Pages),
		zap.Duration("took", time.Since(started)),
	}
	if err != nil {
		w.logger.Error("reap sweep failed", append(fields, zap.Error(err))...)
		return
	}
	w.logger.Info("reap sweep finished", fields...)
}

// newCron builds a scheduler that recovers panics and skips overlapping runs.
func newCron(logger *zap.Logger) *cron.Cron {
	cronLogger := zapCronLogger{logger: logger.Named("cron")}
	return cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
}

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
