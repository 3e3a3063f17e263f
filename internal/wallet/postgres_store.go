package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps local state in the local_state table, scoped by device.
type PostgresStore struct {
	db     *pgxpool.Pool
	device string
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool, device string) *PostgresStore {
	return &PostgresStore{db: db, device: device}
}

// Migrate creates the local_state table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS local_state (
        device     TEXT NOT NULL,
        key        TEXT NOT NULL,
        value      BYTEA NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (device, key)
    )`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM local_state WHERE device = $1 AND key = $2`, s.device, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Exec(ctx, `INSERT INTO local_state (device, key, value, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (device, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		s.device, key, value, time.Now().UTC())
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM local_state WHERE device = $1 AND key = $2`, s.device, key)
	return err
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM local_state WHERE device = $1`, s.device)
	return err
}
