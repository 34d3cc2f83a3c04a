package bookmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the reading_bookmarks table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS reading_bookmarks (
    document   TEXT PRIMARY KEY,
    page       INTEGER NOT NULL CHECK (page >= 1),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over an existing connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate].
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects a pool to dsn, verifies it and migrates the schema. Close
// releases the pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("bookmark: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bookmark: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bookmark: ping: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores created
// with [NewPostgresStore].
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("bookmark: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers. It backs the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("bookmark: ping: %w", err)
	}
	return nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, b Bookmark) error {
	if err := b.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO reading_bookmarks (document, page)
		VALUES ($1, $2)
		ON CONFLICT (document) DO UPDATE SET
			page = EXCLUDED.page,
			updated_at = now()
		RETURNING updated_at`

	if err := s.db.QueryRow(ctx, query, b.Document, b.Page).Scan(&b.UpdatedAt); err != nil {
		return fmt.Errorf("bookmark: save %q: %w", b.Document, err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, doc string) (*Bookmark, error) {
	const query = `
		SELECT document, page, updated_at
		FROM reading_bookmarks
		WHERE document = $1`

	var b Bookmark
	err := s.db.QueryRow(ctx, query, doc).Scan(&b.Document, &b.Page, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("bookmark: get %q: %w", doc, err)
	}
	return &b, nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, doc string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM reading_bookmarks WHERE document = $1`, doc); err != nil {
		return fmt.Errorf("bookmark: delete %q: %w", doc, err)
	}
	return nil
}
