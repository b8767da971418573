package attendance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapPGError(t *testing.T) {
	other := errors.New("connection reset")
	fk := &pgconn.PgError{Code: "23503"}

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "student_attendance_student_id_day_key"}, ErrDuplicate},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), ErrDuplicate},
		{"foreign key violation", fk, fk},
		{"driver error", other, other},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapPGError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
