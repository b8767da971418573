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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolattend/internal/app"
	"schoolattend/internal/config"
	"schoolattend/internal/logging"
	"schoolattend/internal/scheduler"
)

// Worker consumes queued scans, reconciles them, and owns the absence sweep.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("service", "worker")
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, logger *slog.Logger) error {
	if cfg.QueueBackend == "memory" {
		return errors.New("worker needs QUEUE_BACKEND=redis; in memory mode the api process consumes scans itself")
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Check notification gateway health on startup
	if !a.Notifier.Skip {
		if err := a.Notifier.Health(ctx); err != nil {
			logger.Warn("notification gateway not available; notifications will fail until it is", "error", err)
		} else {
			logger.Info("notification gateway connected")
		}
	}

	sched := scheduler.New(a.Clock.Location(), a.Settings, a.Sweeper, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()
	a.Broadcaster.Subscribe(ctx, sched.OnSettingsChange)

	metricsSrv := startMetrics(cfg.MetricsPort, a, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started, waiting for scans", "queue", cfg.QueueKey, "next_sweep", sched.Next())
	if err := a.Processor.Run(ctx, a.Queue); err != nil {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

func startMetrics(port string, a *app.App, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Backend.Ping(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := a.Redis.Ping(r.Context()); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
