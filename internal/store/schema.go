package store

import (
	"context"
	"fmt"
)

// schema is idempotent. The UNIQUE (subject, day) constraints are what make
// concurrent scans and the absence sweep safe without application locks.
const schema = `
CREATE TABLE IF NOT EXISTS students (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	class_id    TEXT NOT NULL,
	device_code TEXT UNIQUE,
	active      BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS employees (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	device_code TEXT UNIQUE,
	active      BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS devices (
	device_serial TEXT PRIMARY KEY,
	last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS student_attendance (
	id                   TEXT PRIMARY KEY,
	student_id           TEXT NOT NULL REFERENCES students(id),
	class_id             TEXT NOT NULL,
	day                  TIMESTAMPTZ NOT NULL,
	status               TEXT NOT NULL,
	entry_time           TIMESTAMPTZ,
	exit_time            TIMESTAMPTZ,
	verify_method        TEXT,
	device_serial        TEXT,
	is_automated         BOOLEAN NOT NULL DEFAULT FALSE,
	notes                JSONB NOT NULL DEFAULT '[]',
	modification_history JSONB NOT NULL DEFAULT '[]',
	version              BIGINT NOT NULL DEFAULT 1,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (student_id, day)
);
CREATE INDEX IF NOT EXISTS idx_student_attendance_class_day ON student_attendance(class_id, day);
ALTER TABLE student_attendance ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1;

CREATE TABLE IF NOT EXISTS employee_attendance (
	id             TEXT PRIMARY KEY,
	employee_id    TEXT NOT NULL REFERENCES employees(id),
	day            TIMESTAMPTZ NOT NULL,
	check_in_time  TIMESTAMPTZ,
	check_out_time TIMESTAMPTZ,
	scans          JSONB NOT NULL DEFAULT '[]',
	total_hours    NUMERIC(6,2) NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	version        BIGINT NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (employee_id, day)
);
ALTER TABLE employee_attendance ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1;

CREATE TABLE IF NOT EXISTS attendance_settings (
	id                            SMALLINT PRIMARY KEY CHECK (id = 1),
	student_work_start_hour       INT NOT NULL,
	student_work_start_minute     INT NOT NULL,
	student_late_hour             INT NOT NULL,
	student_late_minute           INT NOT NULL,
	student_checkout_hour         INT NOT NULL,
	student_checkout_minute       INT NOT NULL,
	employee_work_start_hour      INT NOT NULL,
	employee_work_start_minute    INT NOT NULL,
	employee_late_hour            INT NOT NULL,
	employee_late_minute          INT NOT NULL,
	employee_checkout_hour        INT NOT NULL,
	employee_checkout_minute      INT NOT NULL,
	absence_marking_delay_minutes INT NOT NULL DEFAULT 1,
	updated_at                    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS daily_class_summaries (
	class_id             TEXT NOT NULL,
	day                  TIMESTAMPTZ NOT NULL,
	total_students       INT NOT NULL,
	present_students     JSONB NOT NULL DEFAULT '[]',
	absent_students      JSONB NOT NULL DEFAULT '[]',
	late_students        JSONB NOT NULL DEFAULT '[]',
	early_leave_students JSONB NOT NULL DEFAULT '[]',
	permission_students  JSONB NOT NULL DEFAULT '[]',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (class_id, day)
);
`

// Migrate creates the attendance tables if they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
