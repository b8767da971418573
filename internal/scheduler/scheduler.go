// Package scheduler owns the daily absence-sweep trigger.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schoolattend/internal/settings"
)

const minutesPerDay = 24 * 60

// Trigger is a wall-clock time of day in the civil zone.
type Trigger struct {
	Hour   int
	Minute int
}

// Spec renders the trigger as a five-field cron expression.
func (t Trigger) Spec() string {
	return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
}

func (t Trigger) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ComputeSchedule returns the sweep time for s: the student checkout
// threshold plus the absence marking delay, wrapped past midnight.
func ComputeSchedule(s settings.Settings) Trigger {
	m := (s.Student.Checkout() + s.AbsenceMarkingDelayMinutes) % minutesPerDay
	return Trigger{Hour: m / 60, Minute: m % 60}
}

// DefaultTrigger is used when settings cannot be read.
var DefaultTrigger = ComputeSchedule(settings.Default())

// Job is the work run at each trigger.
type Job interface {
	Run(ctx context.Context) (int, error)
}

// SettingsSource supplies the settings a schedule is derived from.
type SettingsSource interface {
	Current(ctx context.Context) (settings.Settings, error)
}

// Scheduler holds exactly one cron entry for the job and replaces it when
// the trigger changes.
type Scheduler struct {
	cron    *cron.Cron
	src     SettingsSource
	job     Job
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	entry   cron.EntryID
	trigger Trigger
}

// New creates a scheduler firing in loc.
func New(loc *time.Location, src SettingsSource, job Job, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sweep-scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		src:     src,
		job:     job,
		logger:  logger,
		timeout: 5 * time.Minute,
	}
}

// Start installs the schedule from current settings and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.Reschedule(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reschedule re-reads settings and installs the resulting trigger. When the
// settings store is unreachable it falls back to DefaultTrigger.
func (s *Scheduler) Reschedule(ctx context.Context) (Trigger, error) {
	t := DefaultTrigger
	cfg, err := s.src.Current(ctx)
	if err != nil {
		s.logger.Warn("settings unavailable, using default sweep time", "trigger", t.String(), "error", err)
	} else {
		t = ComputeSchedule(cfg)
	}
	return t, s.Apply(t)
}

// OnSettingsChange is a settings.ChangeFunc.
func (s *Scheduler) OnSettingsChange(_ context.Context, cfg settings.Settings) {
	if err := s.Apply(ComputeSchedule(cfg)); err != nil {
		s.logger.Error("reschedule failed", "error", err)
	}
}

// Apply replaces the current entry with one firing at t.
func (s *Scheduler) Apply(t Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 && s.trigger == t {
		return nil
	}
	id, err := s.cron.AddFunc(t.Spec(), s.fire)
	if err != nil {
		return fmt.Errorf("add sweep entry %q: %w", t.Spec(), err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry, s.trigger = id, t
	s.logger.Info("absence sweep scheduled", "trigger", t.String())
	return nil
}

// Trigger returns the installed trigger.
func (s *Scheduler) Trigger() Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trigger
}

// Next returns the next fire time, zero if the loop is not running.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	return s.cron.Entry(id).Next
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.job.Run(ctx)
	if err != nil {
		s.logger.Error("absence sweep failed", "error", err)
		return
	}
	s.logger.Info("absence sweep ran", "inserted", n)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
