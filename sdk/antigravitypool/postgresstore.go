package antigravitypool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the accounts document as a single JSONB row,
// for hosts that already centralize durable state in Postgres rather than
// the local filesystem. Grounded on the teacher repo's own pgx/v5-backed
// persistence path, narrowed here to a single-document table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	poolID string
}

// NewPostgresStore constructs a PostgresStore against an already-connected
// pgxpool.Pool, identifying its document by poolID (callers running several
// independent account pools against the same database should use distinct
// ids).
func NewPostgresStore(pool *pgxpool.Pool, poolID string) *PostgresStore {
	return &PostgresStore{pool: pool, poolID: poolID}
}

// EnsureSchema creates the backing table if it does not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS antigravity_account_pools (
    pool_id TEXT PRIMARY KEY,
    document JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("antigravitypool: ensure postgres schema: %w", err)
	}
	return nil
}

// Load reads the document for this store's pool id, returning (nil, nil)
// when no row exists yet.
func (s *PostgresStore) Load(ctx context.Context) (*PoolDocument, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM antigravity_account_pools WHERE pool_id = $1`, s.poolID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("antigravitypool: load from postgres: %w", err)
	}
	var doc PoolDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("antigravitypool: decode postgres document: %w", err)
	}
	return &doc, nil
}

// Save upserts the document for this store's pool id in a single statement,
// which is Postgres's atomic full-replace equivalent of the file store's
// temp-file-plus-rename trick.
func (s *PostgresStore) Save(ctx context.Context, doc *PoolDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("antigravitypool: marshal postgres document: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO antigravity_account_pools (pool_id, document, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (pool_id) DO UPDATE SET document = EXCLUDED.document, updated_at = now()`,
		s.poolID, raw)
	if err != nil {
		return fmt.Errorf("antigravitypool: save to postgres: %w", err)
	}
	return nil
}
