package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/queue-router/internal/api/http"
	"github.com/spec-kit/queue-router/internal/api/http/handlers"
	"github.com/spec-kit/queue-router/internal/auth"
	"github.com/spec-kit/queue-router/internal/worker"
)

func init() {
	serveCmd.Flags().Bool("no-reaper", false, "do not schedule the reaper in this instance")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the background schedules",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	var tokens *auth.TokenManager
	if cfg.Auth.Enabled() {
		tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	} else {
		logger.Warn("AUTH_JWT_SECRET not provided; internal API is unauthenticated")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name, ReadTimeout: cfg.App.RequestTimeout()})
	httptransport.RegisterMiddlewares(app, logger, svc.metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, svc.dependencies),
		Sessions:       handlers.NewSessionsHandler(svc.lifecycle, svc.assignments),
		Operators:      handlers.NewOperatorsHandler(svc.assignments),
		Admin:          handlers.NewAdminHandler(svc.reaper, svc.metrics),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	svc.relay.Start()

	var reaper *worker.ReaperWorker
	if noReaper, _ := cmd.Flags().GetBool("no-reaper"); !noReaper {
		reaper, err = worker.NewReaperWorker(svc.reaper, cfg.Engine.ReapInterval, logger.Named("reaper"))
		if err != nil {
			return err
		}
		reaper.Start()
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-listenErr:
		if err != nil {
			logger.Error("fiber listen", zap.Error(err))
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if reaper != nil {
		reaper.Stop(shutdownCtx)
	}
	svc.relay.Stop(shutdownCtx)
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
