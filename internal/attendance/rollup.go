package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoolattend/internal/civiltime"
)

// Rollup rebuilds DailyClassSummary rows from scratch. It never patches a
// summary incrementally, so running it again is always safe.
type Rollup struct {
	store    Store
	settings SettingsSource
	clock    *civiltime.Normalizer
	now      func() time.Time
}

// NewRollup creates a rollup.
func NewRollup(store Store, src SettingsSource, clock *civiltime.Normalizer) *Rollup {
	return &Rollup{store: store, settings: src, clock: clock, now: time.Now}
}

// Recompute classifies every active student of the class for the day and
// upserts the summary.
func (r *Rollup) Recompute(ctx context.Context, classID string, day civiltime.Window) (ClassSummary, error) {
	students, err := r.store.ActiveStudentsInClass(ctx, classID)
	if err != nil {
		return ClassSummary{}, fmt.Errorf("load class students: %w", err)
	}
	records, err := r.store.StudentRecordsForClass(ctx, classID, day)
	if err != nil {
		return ClassSummary{}, fmt.Errorf("load class records: %w", err)
	}
	cfg, err := r.settings.Current(ctx)
	if err != nil {
		return ClassSummary{}, fmt.Errorf("load settings: %w", err)
	}

	byStudent := make(map[string]StudentRecord, len(records))
	for _, rec := range records {
		byStudent[rec.StudentID] = rec
	}

	summary := ClassSummary{
		ClassID:            classID,
		Day:                day.Start,
		TotalStudents:      len(students),
		PresentStudents:    []PresentEntry{},
		AbsentStudents:     []StudentRef{},
		LateStudents:       []LateEntry{},
		EarlyLeaveStudents: []EarlyLeaveEntry{},
		PermissionStudents: []StudentRef{},
		UpdatedAt:          r.now().UTC(),
	}
	workStart := cfg.Student.WorkStart()
	for _, st := range students {
		rec, ok := byStudent[st.ID]
		if !ok {
			summary.AbsentStudents = append(summary.AbsentStudents, StudentRef{StudentID: st.ID})
			continue
		}
		switch rec.Status {
		case StudentLate:
			late := 0
			if rec.EntryTime != nil {
				late = max(r.clock.MinuteOfDay(*rec.EntryTime)-workStart, 0)
			}
			summary.LateStudents = append(summary.LateStudents, LateEntry{StudentID: st.ID, EntryTime: rec.EntryTime, MinutesLate: late})
		case StudentEarlyLeave:
			summary.EarlyLeaveStudents = append(summary.EarlyLeaveStudents, EarlyLeaveEntry{StudentID: st.ID, ExitTime: rec.ExitTime, Reason: lastReason(rec)})
		case StudentPermission:
			summary.PermissionStudents = append(summary.PermissionStudents, StudentRef{StudentID: st.ID})
		case StudentAbsent:
			summary.AbsentStudents = append(summary.AbsentStudents, StudentRef{StudentID: st.ID})
		default:
			summary.PresentStudents = append(summary.PresentStudents, PresentEntry{StudentID: st.ID, EntryTime: rec.EntryTime, ExitTime: rec.ExitTime})
		}
	}

	if err := r.store.UpsertClassSummary(ctx, summary); err != nil {
		return ClassSummary{}, fmt.Errorf("save class summary: %w", err)
	}
	return summary, nil
}

// Summary returns the stored summary, recomputing it when none exists yet.
func (r *Rollup) Summary(ctx context.Context, classID string, day civiltime.Window) (ClassSummary, error) {
	s, err := r.store.ClassSummary(ctx, classID, day.Start)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ClassSummary{}, err
	}
	return r.Recompute(ctx, classID, day)
}

func lastReason(rec StudentRecord) string {
	if n := len(rec.ModificationHistory); n > 0 {
		return rec.ModificationHistory[n-1].Reason
	}
	return ""
}
