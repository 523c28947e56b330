package idempotency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lightningnetwork/lnd/clock"
)

// PostgresStore persists intent records in a PostgreSQL table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS mint_intents (
    key TEXT PRIMARY KEY,
    status_code INT NOT NULL,
    response BYTEA NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    tx_hash TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS mint_intents_expires_at ON mint_intents (expires_at);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string, clk clock.Clock) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, clock: clk}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping is used by the health endpoint.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT status_code, response, fingerprint, tx_hash, created_at, expires_at
FROM mint_intents
WHERE key = $1
`, key)

	var rec Record
	err := row.Scan(&rec.StatusCode, &rec.Response, &rec.Fingerprint, &rec.TxHash, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if p.clock.Now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

// Save upserts the record and prunes expired ones.
func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO mint_intents (key, status_code, response, fingerprint, tx_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (key) DO UPDATE
SET status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    fingerprint = EXCLUDED.fingerprint,
    tx_hash = EXCLUDED.tx_hash,
    created_at = EXCLUDED.created_at,
    expires_at = EXCLUDED.expires_at
`, key, record.StatusCode, record.Response, record.Fingerprint, record.TxHash, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM mint_intents WHERE expires_at < $1`, p.clock.Now())
	if err != nil {
		log.Warnf("Pruning expired intents failed: %v", err)
		return nil
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Debugf("Pruned %d expired intents", n)
	}
	return nil
}
