package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *pgxpool.Pool and *pgxpool.Conn, so the same
// query methods run against the shared pool or a scoped session.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// queries carries the persistence operations; Store and Session embed it.
type queries struct {
	db DBTX
}

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{queries: queries{db: pool}, pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Session is a single database connection checked out for the duration of
// one unit of work. The caller must Release it on every exit path.
type Session struct {
	queries
	conn *pgxpool.Conn
}

// Acquire checks a connection out of the pool.
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	return &Session{queries: queries{db: conn}, conn: conn}, nil
}

// Release returns the connection to the pool. Safe to call once.
func (s *Session) Release() {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
}
