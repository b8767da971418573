package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/app"
	"schoolattend/internal/config"
	"schoolattend/internal/device"
	"schoolattend/internal/handler"
	"schoolattend/internal/logging"
	"schoolattend/internal/scheduler"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "api")
	slog.SetDefault(logger)

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.AdminAPIKey == "" {
		logger.Warn("ADMIN_API_KEY not set; admin token issue is disabled")
	}

	// Single-binary dev mode: no worker can see an in-memory queue.
	if a.InProcess() {
		a.StartConsumer(ctx)
		sched := scheduler.New(a.Clock.Location(), a.Settings, a.Sweeper, logger)
		a.Settings.OnChange(sched.OnSettingsChange)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	health := []handler.HealthCheck{{Name: "db", Check: a.Backend.Ping}}
	if a.Redis != nil {
		health = append(health, handler.HealthCheck{Name: "redis", Check: a.Redis.Ping})
	}

	h := &handler.Handler{
		Clock:     a.Clock,
		Parser:    device.NewParser(a.Clock),
		Queue:     a.Queue,
		Devices:   a.Backend,
		Settings:  a.Settings,
		Rollup:    a.Rollup,
		Corrector: a.Corrector,
		Sweeper:   a.Sweeper,
		Auth: handler.AuthConfig{
			Issuer:      cfg.JWTIssuer,
			SigningKey:  cfg.JWTSigningKey,
			AccessTTL:   cfg.AccessTTL,
			RefreshTTL:  cfg.RefreshTTL,
			AdminAPIKey: cfg.AdminAPIKey,
		},
		RateLimit: cfg.RateLimitPerMin,
		Health:    health,
		Logger:    logger,
	}
	defer h.Wait()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "timezone", cfg.Timezone, "queue", cfg.QueueBackend, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}

	logger.Info("server exited")
	return nil
}
