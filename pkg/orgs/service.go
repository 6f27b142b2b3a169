package orgs

import (
	"context"
	"database/sql"
	"time"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db, now: time.Now}
}

// WithClock replaces the time source used for timestamps
func (s *PostgresService) WithClock(now func() time.Time) *PostgresService {
	s.now = now
	return s
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var _ Service = (*PostgresService)(nil)
