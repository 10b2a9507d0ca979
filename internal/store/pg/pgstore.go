// Package pg implements the platform's storage contracts over a single
// PostgreSQL pool: the audit ledger, token/API-key state, role definitions
// and assignments, and secret rotation metadata.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/rbac"
	"github.com/wardenhq/warden/internal/rotation"
)

const pgErrUniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var (
	_ audit.Storage    = (*Store)(nil)
	_ auth.Storage     = (*Store)(nil)
	_ rbac.Storage     = (*Store)(nil)
	_ rotation.Storage = (*Store)(nil)
)

// Option tunes the connection pool.
type Option func(*poolConfig)

type poolConfig struct {
	maxOpen int
	maxIdle int
}

// WithPool overrides the pool sizing.
func WithPool(maxOpen, maxIdle int) Option {
	return func(c *poolConfig) {
		if maxOpen > 0 {
			c.maxOpen = maxOpen
		}
		if maxIdle > 0 {
			c.maxIdle = maxIdle
		}
	}
}

// Open connects via the pgx stdlib driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg := poolConfig{maxOpen: 25, maxIdle: 5}
	for _, opt := range opts {
		opt(&cfg)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.maxOpen)
	db.SetMaxIdleConns(cfg.maxIdle)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool. Tests use this with sqlmock.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
