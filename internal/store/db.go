package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

const connectAttempts = 5

// NewDB opens a pooled Postgres handle. Sessions run in UTC so timestamptz
// values round-trip unchanged; civil-day math happens in Go. The first ping
// is retried with backoff to ride out database startup.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.RuntimeParams["timezone"] = "UTC"
	if cfg.RuntimeParams["application_name"] == "" {
		cfg.RuntimeParams["application_name"] = "schoolattend"
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	d := &DB{Client: db}
	backoff := 500 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return d, nil
		}
		if attempt == connectAttempts {
			return d, fmt.Errorf("ping after %d attempts: %w", attempt, err)
		}
		slog.Warn("database not ready, retrying", "attempt", attempt, "error", err)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return d, ctx.Err()
		}
	}
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
