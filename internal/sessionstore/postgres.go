package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the DDL for the practice_snapshots table. Execute it via
// [PostgresStore.Migrate] or apply it during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS practice_snapshots (
    session_key TEXT PRIMARY KEY,
    snapshot    JSONB NOT NULL,
    saved_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the subset of *pgxpool.Pool and *pgx.Conn the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps snapshots in PostgreSQL as JSONB.
type PostgresStore struct {
	db   DB
	opts options
}

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before first use.
func NewPostgresStore(db DB, opts ...Option) *PostgresStore {
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

// Migrate applies [Schema].
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("sessionstore: migrate: %w", err)
	}
	return nil
}

// Save implements [Store].
func (p *PostgresStore) Save(ctx context.Context, key string, s Snapshot) error {
	b, err := Encode(s)
	if err != nil {
		return persistErr("save", key, err)
	}
	const query = `
		INSERT INTO practice_snapshots (session_key, snapshot, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_key) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, saved_at = EXCLUDED.saved_at`
	_, err = p.db.Exec(ctx, query, key, b, s.Time().UTC())
	return persistErr("save", key, err)
}

// Load implements [Store].
func (p *PostgresStore) Load(ctx context.Context, key string) (*Snapshot, error) {
	const query = `SELECT snapshot FROM practice_snapshots WHERE session_key = $1`
	var b []byte
	err := p.db.QueryRow(ctx, query, key).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("load", key, err)
	}
	s, err := Decode(b, p.opts.now(), p.opts.window)
	return s, persistErr("load", key, err)
}

// Clear implements [Store].
func (p *PostgresStore) Clear(ctx context.Context, key string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM practice_snapshots WHERE session_key = $1`, key)
	return persistErr("clear", key, err)
}

// Prune deletes snapshots saved before the freshness window and returns how
// many were removed.
func (p *PostgresStore) Prune(ctx context.Context) (int64, error) {
	cutoff := p.opts.now().Add(-p.opts.window).UTC()
	tag, err := p.db.Exec(ctx, `DELETE FROM practice_snapshots WHERE saved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := p.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("sessionstore: ping: %w", err)
	}
	return nil
}
