package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"schoolattend/internal/civiltime"
	"schoolattend/internal/metrics"
)

// Sweeper marks every active student without a record today as Absent.
type Sweeper struct {
	store  Store
	clock  *civiltime.Normalizer
	rollup *Rollup
	logger *slog.Logger
}

// NewSweeper creates a sweeper. rollup may be nil.
func NewSweeper(store Store, clock *civiltime.Normalizer, rollup *Rollup, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, clock: clock, rollup: rollup, logger: logger.With("component", "absence-sweep")}
}

// Run sweeps the current civil day and returns how many rows it inserted.
// Running it again the same day inserts nothing for students who already
// have a row, whoever wrote it.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	n, err := s.sweep(ctx, s.clock.DayBounds(s.clock.Now()))
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return 0, err
	}
	metrics.SweepRuns.WithLabelValues("ok").Inc()
	return n, nil
}

func (s *Sweeper) sweep(ctx context.Context, day civiltime.Window) (int, error) {
	students, err := s.store.ActiveStudents(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active students: %w", err)
	}
	records, err := s.store.StudentRecordsForDay(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("load day records: %w", err)
	}
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		seen[rec.StudentID] = struct{}{}
	}

	var missing []StudentRecord
	classes := map[string]struct{}{}
	for _, st := range students {
		if _, ok := seen[st.ID]; ok {
			continue
		}
		missing = append(missing, StudentRecord{
			StudentID:   st.ID,
			ClassID:     st.ClassID,
			Day:         day.Start,
			Status:      StudentAbsent,
			IsAutomated: true,
		})
		classes[st.ClassID] = struct{}{}
	}

	inserted, err := s.store.InsertAbsences(ctx, missing)
	if err != nil {
		return 0, fmt.Errorf("insert absences: %w", err)
	}
	metrics.AbsencesMarked.Add(float64(inserted))
	s.logger.Info("absence sweep finished",
		"day", day.Start.Format(civiltime.DateLayout),
		"active_students", len(students),
		"existing_records", len(records),
		"inserted", inserted)

	if s.rollup != nil {
		ids := make([]string, 0, len(classes))
		for id := range classes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if _, err := s.rollup.Recompute(ctx, id, day); err != nil {
				s.logger.Warn("class rollup after sweep failed", "class_id", id, "error", err)
			}
		}
	}
	return inserted, nil
}
