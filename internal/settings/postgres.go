package settings

import (
	"context"
	"database/sql"
)

// PostgresStore keeps the singleton in the attendance_settings table, row id 1.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const settingsColumns = `
	student_work_start_hour, student_work_start_minute,
	student_late_hour, student_late_minute,
	student_checkout_hour, student_checkout_minute,
	employee_work_start_hour, employee_work_start_minute,
	employee_late_hour, employee_late_minute,
	employee_checkout_hour, employee_checkout_minute,
	absence_marking_delay_minutes, updated_at`

func settingsArgs(s Settings) []any {
	return []any{
		s.Student.WorkStartHour, s.Student.WorkStartMinute,
		s.Student.LateThresholdHour, s.Student.LateThresholdMinute,
		s.Student.CheckoutThresholdHour, s.Student.CheckoutThresholdMinute,
		s.Employee.WorkStartHour, s.Employee.WorkStartMinute,
		s.Employee.LateThresholdHour, s.Employee.LateThresholdMinute,
		s.Employee.CheckoutThresholdHour, s.Employee.CheckoutThresholdMinute,
		s.AbsenceMarkingDelayMinutes,
	}
}

// Get returns the settings row, inserting defaults first if it does not exist.
func (p *PostgresStore) Get(ctx context.Context) (Settings, error) {
	args := append([]any{}, settingsArgs(Default())...)
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_settings (id, `+settingsColumns+`)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO NOTHING
	`, args...); err != nil {
		return Settings{}, err
	}

	var s Settings
	row := p.db.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM attendance_settings WHERE id = 1`)
	if err := row.Scan(
		&s.Student.WorkStartHour, &s.Student.WorkStartMinute,
		&s.Student.LateThresholdHour, &s.Student.LateThresholdMinute,
		&s.Student.CheckoutThresholdHour, &s.Student.CheckoutThresholdMinute,
		&s.Employee.WorkStartHour, &s.Employee.WorkStartMinute,
		&s.Employee.LateThresholdHour, &s.Employee.LateThresholdMinute,
		&s.Employee.CheckoutThresholdHour, &s.Employee.CheckoutThresholdMinute,
		&s.AbsenceMarkingDelayMinutes, &s.UpdatedAt,
	); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save overwrites the singleton row.
func (p *PostgresStore) Save(ctx context.Context, s Settings) (Settings, error) {
	args := settingsArgs(s)
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO attendance_settings (id, `+settingsColumns+`)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO UPDATE SET
			student_work_start_hour = EXCLUDED.student_work_start_hour,
			student_work_start_minute = EXCLUDED.student_work_start_minute,
			student_late_hour = EXCLUDED.student_late_hour,
			student_late_minute = EXCLUDED.student_late_minute,
			student_checkout_hour = EXCLUDED.student_checkout_hour,
			student_checkout_minute = EXCLUDED.student_checkout_minute,
			employee_work_start_hour = EXCLUDED.employee_work_start_hour,
			employee_work_start_minute = EXCLUDED.employee_work_start_minute,
			employee_late_hour = EXCLUDED.employee_late_hour,
			employee_late_minute = EXCLUDED.employee_late_minute,
			employee_checkout_hour = EXCLUDED.employee_checkout_hour,
			employee_checkout_minute = EXCLUDED.employee_checkout_minute,
			absence_marking_delay_minutes = EXCLUDED.absence_marking_delay_minutes,
			updated_at = NOW()
		RETURNING updated_at
	`, args...)
	if err := row.Scan(&s.UpdatedAt); err != nil {
		return Settings{}, err
	}
	return s, nil
}
