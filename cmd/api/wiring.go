package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/queue-router/internal/api/http/handlers"
	"github.com/spec-kit/queue-router/internal/config"
	"github.com/spec-kit/queue-router/internal/events"
	"github.com/spec-kit/queue-router/internal/messaging"
	"github.com/spec-kit/queue-router/internal/observability"
	"github.com/spec-kit/queue-router/internal/persistence"
	"github.com/spec-kit/queue-router/internal/presence"
	"github.com/spec-kit/queue-router/internal/repository"
	"github.com/spec-kit/queue-router/internal/repository/gormstore"
	"github.com/spec-kit/queue-router/internal/repository/memory"
	"github.com/spec-kit/queue-router/internal/service"
	"github.com/spec-kit/queue-router/internal/snapshot"
	"github.com/spec-kit/queue-router/internal/worker"
)

// services holds everything the commands share once the backends are connected.
type services struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	sessions  repository.SessionRepository
	operators repository.OperatorRepository
	outbox    repository.OutboxRepository

	lifecycle   *service.SessionService
	assignments *service.AssignmentService
	reaper      *service.Reaper
	relay       *worker.OutboxRelay

	dependencies map[string]handlers.Pinger
	closers      []func()
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func buildServices(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*services, error) {
	s := &services{
		cfg:          cfg,
		logger:       logger,
		metrics:      observability.NewMetrics(),
		dependencies: map[string]handlers.Pinger{},
	}
	if err := s.openStore(ctx); err != nil {
		s.Close()
		return nil, err
	}

	var redisConn *persistence.Redis
	if cfg.Store.PresenceSource == "redis" || cfg.Store.SnapshotStore == "redis" {
		redisConn = persistence.NewRedis(ctx, cfg.Redis, logger)
		s.closers = append(s.closers, redisConn.Close)
		s.dependencies["redis"] = redisConn
	}

	var oracle presence.Oracle
	switch cfg.Store.PresenceSource {
	case "redis":
		oracle = presence.NewRedisOracle(redisConn.Client)
	case "directory":
		oracle = presence.NewDirectoryOracle(s.operators)
	default:
		s.Close()
		return nil, fmt.Errorf("invalid PRESENCE_SOURCE %q", cfg.Store.PresenceSource)
	}

	var snapshots snapshot.Store
	switch cfg.Store.SnapshotStore {
	case "redis":
		snapshots = snapshot.NewRedisStore(redisConn.Client)
	case "memory":
		snapshots = snapshot.NewMemoryStore()
	default:
		s.Close()
		return nil, fmt.Errorf("invalid SNAPSHOT_STORE %q", cfg.Store.SnapshotStore)
	}

	publisher, err := s.openPublisher()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.relay, err = worker.NewOutboxRelay(s.outbox, publisher, worker.OutboxRelayConfig{
		Producer: cfg.Messaging.Producer,
		Interval: cfg.Messaging.OutboxInterval,
		Batch:    cfg.Messaging.OutboxBatch,
	}, logger.Named("outbox"))
	if err != nil {
		s.Close()
		return nil, err
	}
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartHistoryWorker(dispatcher, s.relay, logger.Named("history"))

	s.lifecycle = service.NewSessionService(service.SessionDependencies{
		SessionRepo: s.sessions,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     s.metrics,
	})
	s.assignments = service.NewAssignmentService(service.AssignmentDependencies{
		SessionRepo:  s.sessions,
		OperatorRepo: s.operators,
		Oracle:       oracle,
		Snapshots:    snapshots,
		Lifecycle:    s.lifecycle,
		Dispatcher:   dispatcher,
		Logger:       logger,
		Metrics:      s.metrics,
		Config:       cfg.Engine,
	})
	s.reaper = service.NewReaper(service.ReaperDependencies{
		SessionRepo: s.sessions,
		Lifecycle:   s.lifecycle,
		Logger:      logger.Named("reaper"),
		Metrics:     s.metrics,
		Config:      cfg.Engine,
	})
	return s, nil
}

func (s *services) openStore(ctx context.Context) error {
	switch s.cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := persistence.NewPostgres(ctx, s.cfg.Postgres, s.logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, pg.Close)
		if pg.Pool == nil {
			return persistence.ErrPostgresNotConfigured
		}
		if s.cfg.Postgres.RunMigrations {
			if _, err := persistence.RunMigrations(ctx, pg.Pool, s.cfg.Postgres.MigrationsDir, s.logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		s.sessions = repository.NewSessionRepository(pg.Pool)
		s.operators = repository.NewOperatorRepository(pg.Pool)
		s.outbox = repository.NewOutboxRepository(pg.Pool)
		s.dependencies["postgres"] = pg
	case config.StoreDriverGormPostgres, config.StoreDriverSQLite:
		driver, dsn := "postgres", s.cfg.Postgres.DSN
		if s.cfg.Store.Driver == config.StoreDriverSQLite {
			driver, dsn = "sqlite", s.cfg.Store.SQLiteDSN
		}
		store, err := gormstore.New(driver, dsn)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() { _ = store.Close() })
		sessions := store.Sessions()
		s.sessions = sessions
		s.outbox = sessions
		s.operators = store.Operators()
		s.dependencies[driver] = store
	case config.StoreDriverMemory:
		s.logger.Warn("using in-memory session store; state is lost on restart")
		sessions := memory.NewSessionStore()
		s.sessions = sessions
		s.outbox = sessions
		s.operators = memory.NewOperatorStore()
	default:
		return fmt.Errorf("invalid SESSION_STORE_DRIVER %q", s.cfg.Store.Driver)
	}
	s.logger.Info("session store ready", zap.String("driver", s.cfg.Store.Driver))
	return nil
}

func (s *services) openPublisher() (messaging.Publisher, error) {
	if s.cfg.Messaging.AMQPURL == "" {
		s.logger.Warn("AMQP_URL not provided; completion events are only logged")
		return messaging.NewLogPublisher(s.logger.Named("history")), nil
	}
	timeout := time.Duration(s.cfg.Messaging.ConnTimeoutSeconds) * time.Second
	publisher, err := messaging.NewAMQPPublisher(s.cfg.Messaging.AMQPURL, s.cfg.Messaging.Exchange, timeout, s.logger.Named("amqp"))
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	s.closers = append(s.closers, func() { _ = publisher.Close() })
	return publisher, nil
}

// Close releases backends in reverse order of opening.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
