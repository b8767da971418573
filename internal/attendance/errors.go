package attendance

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("attendance: not found")
	// ErrDuplicate is returned when a (subject, day) record already exists.
	ErrDuplicate = errors.New("attendance: duplicate record")
	// ErrConflict is returned by an update whose record version is stale.
	ErrConflict = errors.New("attendance: record changed concurrently")
)

const pgUniqueViolation = "23505"

// mapPGError converts driver errors into package sentinels.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}
