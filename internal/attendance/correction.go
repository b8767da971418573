package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoolattend/internal/civiltime"
)

// Correction is a manual status change made by an administrator.
type Correction struct {
	StudentID  string
	Day        civiltime.Window
	Status     StudentStatus
	Reason     string
	ModifiedBy string
}

// Corrector applies manual corrections and keeps the rollup in step.
type Corrector struct {
	store  Store
	rollup *Rollup
	now    func() time.Time
}

// NewCorrector creates a corrector.
func NewCorrector(store Store, rollup *Rollup) *Corrector {
	return &Corrector{store: store, rollup: rollup, now: time.Now}
}

// Apply sets the record's status and appends to its modification history.
// When the student has no record for the day a manual one is created.
func (c *Corrector) Apply(ctx context.Context, corr Correction) (StudentRecord, error) {
	if !corr.Status.Valid() {
		return StudentRecord{}, fmt.Errorf("invalid status %q", corr.Status)
	}
	st, err := c.store.Student(ctx, corr.StudentID)
	if err != nil {
		return StudentRecord{}, err
	}
	entry := Modification{
		NewStatus:  corr.Status,
		Reason:     corr.Reason,
		ModifiedBy: corr.ModifiedBy,
		ModifiedAt: c.now().UTC(),
	}
	for attempt := 1; ; attempt++ {
		rec, err := c.apply(ctx, st, corr.Day, entry)
		if !errors.Is(err, ErrConflict) || attempt == maxWriteAttempts {
			return rec, err
		}
	}
}

func (c *Corrector) apply(ctx context.Context, st Student, day civiltime.Window, entry Modification) (StudentRecord, error) {
	rec, err := c.store.StudentRecord(ctx, st.ID, day)
	if errors.Is(err, ErrNotFound) {
		created, cerr := c.store.CreateStudentRecord(ctx, StudentRecord{
			StudentID:           st.ID,
			ClassID:             st.ClassID,
			Day:                 day.Start,
			Status:              entry.NewStatus,
			ModificationHistory: []Modification{entry},
		})
		if cerr == nil {
			return c.finish(ctx, created, day)
		}
		if !errors.Is(cerr, ErrDuplicate) {
			return StudentRecord{}, cerr
		}
		rec, err = c.store.StudentRecord(ctx, st.ID, day)
	}
	if err != nil {
		return StudentRecord{}, err
	}

	entry.PreviousStatus = rec.Status
	rec.Status = entry.NewStatus
	rec.ModificationHistory = append(rec.ModificationHistory, entry)
	if rec, err = c.store.UpdateStudentRecord(ctx, rec); err != nil {
		return StudentRecord{}, err
	}
	return c.finish(ctx, rec, day)
}

func (c *Corrector) finish(ctx context.Context, rec StudentRecord, day civiltime.Window) (StudentRecord, error) {
	if c.rollup != nil {
		if _, err := c.rollup.Recompute(ctx, rec.ClassID, day); err != nil {
			return rec, fmt.Errorf("recompute rollup: %w", err)
		}
	}
	return rec, nil
}
