package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"schoolattend/internal/civiltime"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// TouchDevice ensures a device record exists and bumps its last-seen time.
func (r *Repository) TouchDevice(ctx context.Context, serial string) error {
	if serial == "" {
		return errors.New("device serial required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_serial, last_seen_at)
		VALUES ($1, NOW())
		ON CONFLICT (device_serial) DO UPDATE SET last_seen_at = NOW()
	`, serial)
	return err
}

// ActiveStudentByCode implements subject.Directory.
func (r *Repository) ActiveStudentByCode(ctx context.Context, code string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, class_id, device_code, active
		FROM students WHERE device_code = $1 AND active
	`, code)
	return scanStudent(row)
}

// ActiveEmployeeByCode implements subject.Directory.
func (r *Repository) ActiveEmployeeByCode(ctx context.Context, code string) (Employee, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, device_code, active
		FROM employees WHERE device_code = $1 AND active
	`, code)
	var e Employee
	if err := row.Scan(&e.ID, &e.Name, &e.DeviceCode, &e.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Employee{}, ErrNotFound
		}
		return Employee{}, err
	}
	return e, nil
}

// Student returns a single student by id.
func (r *Repository) Student(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, class_id, device_code, active FROM students WHERE id = $1
	`, id)
	return scanStudent(row)
}

// ActiveStudents returns all active students.
func (r *Repository) ActiveStudents(ctx context.Context) ([]Student, error) {
	return r.queryStudents(ctx, `
		SELECT id, name, class_id, device_code, active
		FROM students WHERE active ORDER BY id
	`)
}

// ActiveStudentsInClass returns the active students of one class.
func (r *Repository) ActiveStudentsInClass(ctx context.Context, classID string) ([]Student, error) {
	return r.queryStudents(ctx, `
		SELECT id, name, class_id, device_code, active
		FROM students WHERE active AND class_id = $1 ORDER BY id
	`, classID)
}

func (r *Repository) queryStudents(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.ClassID, &s.DeviceCode, &s.Active); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (Student, error) {
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.ClassID, &s.DeviceCode, &s.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, err
	}
	return s, nil
}

const studentRecordColumns = `id, student_id, class_id, day, status, entry_time, exit_time,
	verify_method, device_serial, is_automated, notes, modification_history, version, created_at, updated_at`

func scanStudentRecord(row rowScanner) (StudentRecord, error) {
	var (
		rec           StudentRecord
		notes, hist   []byte
		entry, exit   sql.NullTime
		verify, devSN sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Day, &rec.Status, &entry, &exit,
		&verify, &devSN, &rec.IsAutomated, &notes, &hist, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return StudentRecord{}, err
	}
	rec.EntryTime = nullTimePtr(entry)
	rec.ExitTime = nullTimePtr(exit)
	rec.VerifyMethod = VerifyMethod(verify.String)
	rec.DeviceSerial = devSN.String
	if err := decodeJSON(notes, &rec.Notes); err != nil {
		return StudentRecord{}, fmt.Errorf("decode notes: %w", err)
	}
	if err := decodeJSON(hist, &rec.ModificationHistory); err != nil {
		return StudentRecord{}, fmt.Errorf("decode modification history: %w", err)
	}
	return rec, nil
}

// StudentRecord returns the record for (student, day).
func (r *Repository) StudentRecord(ctx context.Context, studentID string, day civiltime.Window) (StudentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+studentRecordColumns+`
		FROM student_attendance
		WHERE student_id = $1 AND day BETWEEN $2 AND $3
	`, studentID, day.Start, day.End)
	rec, err := scanStudentRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StudentRecord{}, ErrNotFound
	}
	return rec, err
}

// CreateStudentRecord inserts a record; a concurrent insert for the same
// (student, day) surfaces as ErrDuplicate.
func (r *Repository) CreateStudentRecord(ctx context.Context, rec StudentRecord) (StudentRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	notes, hist, err := encodeStudentJSON(rec)
	if err != nil {
		return StudentRecord{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO student_attendance (id, student_id, class_id, day, status, entry_time, exit_time,
			verify_method, device_serial, is_automated, notes, modification_history)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING version, created_at, updated_at
	`, rec.ID, rec.StudentID, rec.ClassID, rec.Day, rec.Status, rec.EntryTime, rec.ExitTime,
		string(rec.VerifyMethod), rec.DeviceSerial, rec.IsAutomated, notes, hist)
	if err := row.Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return StudentRecord{}, mapPGError(err)
	}
	return rec, nil
}

// UpdateStudentRecord writes the mutable fields of an existing record if its
// version is unchanged since it was read.
func (r *Repository) UpdateStudentRecord(ctx context.Context, rec StudentRecord) (StudentRecord, error) {
	notes, hist, err := encodeStudentJSON(rec)
	if err != nil {
		return StudentRecord{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE student_attendance
		SET status = $3, entry_time = $4, exit_time = $5, verify_method = $6, device_serial = $7,
			is_automated = $8, notes = $9, modification_history = $10,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, rec.ID, rec.Version, rec.Status, rec.EntryTime, rec.ExitTime, string(rec.VerifyMethod), rec.DeviceSerial,
		rec.IsAutomated, notes, hist)
	if err := row.Scan(&rec.Version, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StudentRecord{}, r.missingRow(ctx, "student_attendance", rec.ID)
		}
		return StudentRecord{}, err
	}
	return rec, nil
}

// missingRow tells a stale version apart from a row that no longer exists.
func (r *Repository) missingRow(ctx context.Context, table, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

// StudentRecordsForClass returns one class's records for a day.
func (r *Repository) StudentRecordsForClass(ctx context.Context, classID string, day civiltime.Window) ([]StudentRecord, error) {
	return r.queryStudentRecords(ctx, `
		SELECT `+studentRecordColumns+`
		FROM student_attendance
		WHERE class_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY student_id
	`, classID, day.Start, day.End)
}

// StudentRecordsForDay returns every student record for a day.
func (r *Repository) StudentRecordsForDay(ctx context.Context, day civiltime.Window) ([]StudentRecord, error) {
	return r.queryStudentRecords(ctx, `
		SELECT `+studentRecordColumns+`
		FROM student_attendance
		WHERE day BETWEEN $1 AND $2
		ORDER BY student_id
	`, day.Start, day.End)
}

func (r *Repository) queryStudentRecords(ctx context.Context, query string, args ...any) ([]StudentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StudentRecord
	for rows.Next() {
		rec, err := scanStudentRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// InsertAbsences bulk-inserts rows in one transaction, skipping conflicts.
func (r *Repository) InsertAbsences(ctx context.Context, recs []StudentRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin absence insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO student_attendance (id, student_id, class_id, day, status, is_automated, notes, modification_history)
		VALUES ($1,$2,$3,$4,$5,$6,'[]','[]')
		ON CONFLICT (student_id, day) DO NOTHING
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		res, err := stmt.ExecContext(ctx, rec.ID, rec.StudentID, rec.ClassID, rec.Day, rec.Status, rec.IsAutomated)
		if err != nil {
			return 0, fmt.Errorf("insert absence for %s: %w", rec.StudentID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

const employeeRecordColumns = `id, employee_id, day, check_in_time, check_out_time, scans,
	total_hours, status, version, created_at, updated_at`

// EmployeeRecord returns the record for (employee, day).
func (r *Repository) EmployeeRecord(ctx context.Context, employeeID string, day civiltime.Window) (EmployeeRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+employeeRecordColumns+`
		FROM employee_attendance
		WHERE employee_id = $1 AND day BETWEEN $2 AND $3
	`, employeeID, day.Start, day.End)
	var (
		rec     EmployeeRecord
		in, out sql.NullTime
		scans   []byte
	)
	if err := row.Scan(&rec.ID, &rec.EmployeeID, &rec.Day, &in, &out, &scans,
		&rec.TotalHours, &rec.Status, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EmployeeRecord{}, ErrNotFound
		}
		return EmployeeRecord{}, err
	}
	rec.CheckInTime = nullTimePtr(in)
	rec.CheckOutTime = nullTimePtr(out)
	if err := decodeJSON(scans, &rec.Scans); err != nil {
		return EmployeeRecord{}, fmt.Errorf("decode scans: %w", err)
	}
	return rec, nil
}

// CreateEmployeeRecord inserts a record or returns ErrDuplicate.
func (r *Repository) CreateEmployeeRecord(ctx context.Context, rec EmployeeRecord) (EmployeeRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	scans, err := encodeJSON(rec.Scans)
	if err != nil {
		return EmployeeRecord{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO employee_attendance (id, employee_id, day, check_in_time, check_out_time, scans, total_hours, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING version, created_at, updated_at
	`, rec.ID, rec.EmployeeID, rec.Day, rec.CheckInTime, rec.CheckOutTime, scans, rec.TotalHours, rec.Status)
	if err := row.Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return EmployeeRecord{}, mapPGError(err)
	}
	return rec, nil
}

// UpdateEmployeeRecord writes the mutable fields of an existing record if its
// version is unchanged since it was read.
func (r *Repository) UpdateEmployeeRecord(ctx context.Context, rec EmployeeRecord) (EmployeeRecord, error) {
	scans, err := encodeJSON(rec.Scans)
	if err != nil {
		return EmployeeRecord{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE employee_attendance
		SET check_in_time = $3, check_out_time = $4, scans = $5, total_hours = $6, status = $7,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`, rec.ID, rec.Version, rec.CheckInTime, rec.CheckOutTime, scans, rec.TotalHours, rec.Status)
	if err := row.Scan(&rec.Version, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EmployeeRecord{}, r.missingRow(ctx, "employee_attendance", rec.ID)
		}
		return EmployeeRecord{}, err
	}
	return rec, nil
}

// UpsertClassSummary replaces the summary row for (class, day).
func (r *Repository) UpsertClassSummary(ctx context.Context, s ClassSummary) error {
	lists := []any{s.PresentStudents, s.AbsentStudents, s.LateStudents, s.EarlyLeaveStudents, s.PermissionStudents}
	encoded := make([]any, 0, len(lists))
	for _, l := range lists {
		b, err := encodeJSON(l)
		if err != nil {
			return err
		}
		encoded = append(encoded, b)
	}
	args := append([]any{s.ClassID, s.Day, s.TotalStudents}, encoded...)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_class_summaries (class_id, day, total_students, present_students, absent_students,
			late_students, early_leave_students, permission_students, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		ON CONFLICT (class_id, day) DO UPDATE SET
			total_students = EXCLUDED.total_students,
			present_students = EXCLUDED.present_students,
			absent_students = EXCLUDED.absent_students,
			late_students = EXCLUDED.late_students,
			early_leave_students = EXCLUDED.early_leave_students,
			permission_students = EXCLUDED.permission_students,
			updated_at = NOW()
	`, args...)
	return err
}

// ClassSummary returns the stored summary for (class, day start).
func (r *Repository) ClassSummary(ctx context.Context, classID string, day time.Time) (ClassSummary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT class_id, day, total_students, present_students, absent_students, late_students,
			early_leave_students, permission_students, updated_at
		FROM daily_class_summaries WHERE class_id = $1 AND day = $2
	`, classID, day)
	var s ClassSummary
	var present, absent, late, early, permission []byte
	if err := row.Scan(&s.ClassID, &s.Day, &s.TotalStudents, &present, &absent, &late, &early, &permission, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ClassSummary{}, ErrNotFound
		}
		return ClassSummary{}, err
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{present, &s.PresentStudents},
		{absent, &s.AbsentStudents},
		{late, &s.LateStudents},
		{early, &s.EarlyLeaveStudents},
		{permission, &s.PermissionStudents},
	} {
		if err := decodeJSON(pair.raw, pair.dst); err != nil {
			return ClassSummary{}, fmt.Errorf("decode summary: %w", err)
		}
	}
	return s, nil
}

func encodeStudentJSON(rec StudentRecord) (notes, hist []byte, err error) {
	if notes, err = encodeJSON(rec.Notes); err != nil {
		return nil, nil, err
	}
	if hist, err = encodeJSON(rec.ModificationHistory); err != nil {
		return nil, nil, err
	}
	return notes, hist, nil
}

// encodeJSON marshals v for a jsonb column; nil slices become [].
func encodeJSON(v any) ([]byte, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return sonic.Unmarshal(raw, dst)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
