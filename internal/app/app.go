// Package app wires the attendance components shared by the api and worker
// binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"schoolattend/internal/attendance"
	"schoolattend/internal/civiltime"
	"schoolattend/internal/config"
	"schoolattend/internal/notify"
	"schoolattend/internal/pipeline"
	"schoolattend/internal/queue"
	"schoolattend/internal/settings"
	"schoolattend/internal/store"
	"schoolattend/internal/subject"
)

// Backend is everything the attendance store must provide.
type Backend interface {
	attendance.Store
	subject.Directory
	TouchDevice(ctx context.Context, serial string) error
	Ping(ctx context.Context) error
}

// App holds wired components. Close releases connections.
type App struct {
	Config      config.App
	Logger      *slog.Logger
	Clock       *civiltime.Normalizer
	DB          *store.DB
	Redis       *store.Redis
	Backend     Backend
	Queue       queue.Queue
	Settings    *settings.Service
	Broadcaster *settings.Broadcaster
	Notifier    *notify.Client
	Rollup      *attendance.Rollup
	Reconciler  *attendance.Reconciler
	Sweeper     *attendance.Sweeper
	Corrector   *attendance.Corrector
	Processor   *pipeline.Processor

	stopConsumer context.CancelFunc
	consumerDone chan struct{}
}

// InProcess reports whether the queue consumer runs inside the api process.
func (a *App) InProcess() bool {
	return a.Config.QueueBackend == "memory"
}

// StartConsumer runs the queue consumer in this process until ctx ends or
// Close is called.
func (a *App) StartConsumer(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.stopConsumer, a.consumerDone = cancel, done
	go func() {
		defer close(done)
		if err := a.Processor.Run(cctx, a.Queue); err != nil {
			a.Logger.Error("in-process consumer failed", "error", err)
		}
	}()
}

// New connects the configured backends and builds every component.
func New(ctx context.Context, cfg config.App, logger *slog.Logger) (*App, error) {
	clock, err := civiltime.Load(cfg.Timezone, time.Now)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	a := &App{Config: cfg, Logger: logger, Clock: clock}

	var settingsStore settings.Store
	switch cfg.StoreBackend {
	case "memory":
		a.Backend = attendance.NewMemoryStore()
		settingsStore = settings.NewMemoryStore()
		logger.Warn("using in-memory attendance store; data is lost on restart")
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.DB = db
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		a.Backend = attendance.NewRepository(db.Client)
		settingsStore = settings.NewPostgresStore(db.Client)
	}

	switch cfg.QueueBackend {
	case "memory":
		a.Queue = queue.NewInMemory(256)
	default:
		a.Redis = store.NewRedis(cfg.RedisAddr)
		if !a.Redis.Healthy(ctx) {
			logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr)
		}
		a.Queue = queue.NewRedisQueue(a.Redis.Client, cfg.QueueKey, logger)
		a.Broadcaster = settings.NewBroadcaster(a.Redis.Client, cfg.SettingsChannel, logger)
	}

	a.Settings = settings.NewService(settingsStore, logger)
	if a.Broadcaster != nil {
		a.Settings.OnChange(a.Broadcaster.Publish)
	}

	a.Notifier = notify.New(cfg.NotifyURL, cfg.NotifyToken, cfg.NotifyTimeout, cfg.NotifySkip)
	a.Rollup = attendance.NewRollup(a.Backend, a.Settings, clock)
	a.Reconciler = attendance.NewReconciler(a.Backend, a.Settings, clock, a.Rollup, a.Notifier, logger, attendance.Options{
		ScanDedupWindow: cfg.ScanDedupWindow,
		NotifyTimeout:   cfg.NotifyTimeout,
	})
	a.Sweeper = attendance.NewSweeper(a.Backend, clock, a.Rollup, logger)
	a.Corrector = attendance.NewCorrector(a.Backend, a.Rollup)
	a.Processor = pipeline.NewProcessor(subject.NewResolver(a.Backend), a.Reconciler, logger)
	return a, nil
}

// Close stops the in-process consumer, waits for detached notifications and
// releases connections. The consumer must be gone before the reconciler is
// drained so no scan starts a notification during the wait.
func (a *App) Close() {
	if a.stopConsumer != nil {
		a.stopConsumer()
		<-a.consumerDone
	}
	if a.Reconciler != nil {
		a.Reconciler.Wait()
	}
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("redis close failed", "error", err)
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("db close failed", "error", err)
	}
}
