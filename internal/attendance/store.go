package attendance

import (
	"context"
	"time"

	"schoolattend/internal/civiltime"
)

// StudentStore persists student attendance. Lookups return ErrNotFound on a
// miss; creates return ErrDuplicate when (student, day) already exists.
// Updates only apply when rec.Version still matches the stored row and fail
// with ErrConflict otherwise; the returned record carries the new version.
type StudentStore interface {
	StudentRecord(ctx context.Context, studentID string, day civiltime.Window) (StudentRecord, error)
	CreateStudentRecord(ctx context.Context, rec StudentRecord) (StudentRecord, error)
	UpdateStudentRecord(ctx context.Context, rec StudentRecord) (StudentRecord, error)
	StudentRecordsForClass(ctx context.Context, classID string, day civiltime.Window) ([]StudentRecord, error)
	StudentRecordsForDay(ctx context.Context, day civiltime.Window) ([]StudentRecord, error)
	// InsertAbsences inserts rows, skipping any (student, day) that already
	// exists, and returns the number actually inserted.
	InsertAbsences(ctx context.Context, recs []StudentRecord) (int, error)
}

// EmployeeStore persists employee attendance with the same versioned updates.
type EmployeeStore interface {
	EmployeeRecord(ctx context.Context, employeeID string, day civiltime.Window) (EmployeeRecord, error)
	CreateEmployeeRecord(ctx context.Context, rec EmployeeRecord) (EmployeeRecord, error)
	UpdateEmployeeRecord(ctx context.Context, rec EmployeeRecord) (EmployeeRecord, error)
}

// SummaryStore persists class rollups keyed by (class, day start).
type SummaryStore interface {
	UpsertClassSummary(ctx context.Context, s ClassSummary) error
	ClassSummary(ctx context.Context, classID string, day time.Time) (ClassSummary, error)
}

// Roster lists students.
type Roster interface {
	Student(ctx context.Context, id string) (Student, error)
	ActiveStudents(ctx context.Context) ([]Student, error)
	ActiveStudentsInClass(ctx context.Context, classID string) ([]Student, error)
}

// Store is everything the reconciler, rollup and sweep need.
type Store interface {
	StudentStore
	EmployeeStore
	SummaryStore
	Roster
}
