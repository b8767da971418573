// Package settings holds the single attendance-threshold configuration row.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Thresholds parameterize one subject kind.
type Thresholds struct {
	WorkStartHour           int `json:"work_start_hour"`
	WorkStartMinute         int `json:"work_start_minute"`
	LateThresholdHour       int `json:"late_threshold_hour"`
	LateThresholdMinute     int `json:"late_threshold_minute"`
	CheckoutThresholdHour   int `json:"checkout_threshold_hour"`
	CheckoutThresholdMinute int `json:"checkout_threshold_minute"`
}

// WorkStart returns the work start as minutes since midnight.
func (t Thresholds) WorkStart() int { return t.WorkStartHour*60 + t.WorkStartMinute }

// Late returns the late threshold as minutes since midnight.
func (t Thresholds) Late() int { return t.LateThresholdHour*60 + t.LateThresholdMinute }

// Checkout returns the checkout threshold as minutes since midnight.
func (t Thresholds) Checkout() int { return t.CheckoutThresholdHour*60 + t.CheckoutThresholdMinute }

func (t Thresholds) validate(prefix string) error {
	pairs := []struct {
		name         string
		hour, minute int
	}{
		{"work_start", t.WorkStartHour, t.WorkStartMinute},
		{"late_threshold", t.LateThresholdHour, t.LateThresholdMinute},
		{"checkout_threshold", t.CheckoutThresholdHour, t.CheckoutThresholdMinute},
	}
	for _, p := range pairs {
		if p.hour < 0 || p.hour > 23 || p.minute < 0 || p.minute > 59 {
			return fmt.Errorf("%w: %s.%s out of range", ErrInvalid, prefix, p.name)
		}
	}
	return nil
}

// Settings is the attendance configuration singleton.
type Settings struct {
	Student                    Thresholds `json:"student"`
	Employee                   Thresholds `json:"employee"`
	AbsenceMarkingDelayMinutes int        `json:"absence_marking_delay_minutes"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}

// Validate checks ranges on every field.
func (s Settings) Validate() error {
	if err := s.Student.validate("student"); err != nil {
		return err
	}
	if err := s.Employee.validate("employee"); err != nil {
		return err
	}
	if s.AbsenceMarkingDelayMinutes < 0 || s.AbsenceMarkingDelayMinutes > 24*60 {
		return fmt.Errorf("%w: absence_marking_delay_minutes out of range", ErrInvalid)
	}
	return nil
}

// Default returns the factory configuration.
func Default() Settings {
	return Settings{
		Student: Thresholds{
			WorkStartHour:         8,
			LateThresholdHour:     15,
			CheckoutThresholdHour: 15,
		},
		Employee: Thresholds{
			WorkStartHour:         8,
			LateThresholdHour:     8,
			LateThresholdMinute:   15,
			CheckoutThresholdHour: 15,
		},
		AbsenceMarkingDelayMinutes: 1,
	}
}

// ErrInvalid marks a rejected update.
var ErrInvalid = errors.New("settings: invalid value")

// Store persists the singleton. Get must create the default row when absent.
type Store interface {
	Get(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) (Settings, error)
}

// ThresholdsPatch carries optional field updates for one subject kind.
type ThresholdsPatch struct {
	WorkStartHour           *int `json:"work_start_hour" binding:"omitempty,min=0,max=23"`
	WorkStartMinute         *int `json:"work_start_minute" binding:"omitempty,min=0,max=59"`
	LateThresholdHour       *int `json:"late_threshold_hour" binding:"omitempty,min=0,max=23"`
	LateThresholdMinute     *int `json:"late_threshold_minute" binding:"omitempty,min=0,max=59"`
	CheckoutThresholdHour   *int `json:"checkout_threshold_hour" binding:"omitempty,min=0,max=23"`
	CheckoutThresholdMinute *int `json:"checkout_threshold_minute" binding:"omitempty,min=0,max=59"`
}

func (p *ThresholdsPatch) apply(t *Thresholds) {
	if p == nil {
		return
	}
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&t.WorkStartHour, p.WorkStartHour)
	set(&t.WorkStartMinute, p.WorkStartMinute)
	set(&t.LateThresholdHour, p.LateThresholdHour)
	set(&t.LateThresholdMinute, p.LateThresholdMinute)
	set(&t.CheckoutThresholdHour, p.CheckoutThresholdHour)
	set(&t.CheckoutThresholdMinute, p.CheckoutThresholdMinute)
}

// Patch is a partial update request.
type Patch struct {
	Student                    *ThresholdsPatch `json:"student"`
	Employee                   *ThresholdsPatch `json:"employee"`
	AbsenceMarkingDelayMinutes *int             `json:"absence_marking_delay_minutes" binding:"omitempty,min=0,max=1440"`
}

// ChangeFunc is invoked after a successful update.
type ChangeFunc func(ctx context.Context, s Settings)

// Service reads settings fresh on every call and fans out change hooks.
type Service struct {
	store  Store
	logger *slog.Logger

	mu    sync.RWMutex
	hooks []ChangeFunc
}

// NewService wraps a store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger.With("component", "settings")}
}

// OnChange registers a hook run after every successful update.
func (s *Service) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Current returns the stored settings, creating defaults on first use.
func (s *Service) Current(ctx context.Context) (Settings, error) {
	return s.store.Get(ctx)
}

// Update applies a patch, persists it and notifies hooks.
func (s *Service) Update(ctx context.Context, patch Patch) (Settings, error) {
	cur, err := s.store.Get(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	patch.Student.apply(&cur.Student)
	patch.Employee.apply(&cur.Employee)
	if patch.AbsenceMarkingDelayMinutes != nil {
		cur.AbsenceMarkingDelayMinutes = *patch.AbsenceMarkingDelayMinutes
	}
	if err := cur.Validate(); err != nil {
		return Settings{}, err
	}
	saved, err := s.store.Save(ctx, cur)
	if err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	s.logger.Info("attendance settings updated",
		"student_checkout", saved.Student.Checkout(),
		"delay_minutes", saved.AbsenceMarkingDelayMinutes)

	s.mu.RLock()
	hooks := append([]ChangeFunc(nil), s.hooks...)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, saved)
	}
	return saved, nil
}
