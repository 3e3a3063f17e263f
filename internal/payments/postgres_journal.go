package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresJournal persists payment history in PostgreSQL.
type PostgresJournal struct {
	db *pgxpool.Pool
}

// NewPostgresJournal constructs a Postgres-backed journal.
func NewPostgresJournal(db *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{db: db}
}

// Migrate creates the journal table when missing.
func (j *PostgresJournal) Migrate(ctx context.Context) error {
	_, err := j.db.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS payment_journal (
            id          TEXT PRIMARY KEY,
            kind        TEXT NOT NULL,
            address     TEXT NOT NULL,
            destination TEXT NOT NULL DEFAULT '',
            token       TEXT NOT NULL DEFAULT '',
            amount      NUMERIC NOT NULL DEFAULT 0,
            status      TEXT NOT NULL,
            hash        TEXT NOT NULL DEFAULT '',
            reason      TEXT NOT NULL DEFAULT '',
            code        TEXT NOT NULL DEFAULT '',
            created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS payment_journal_address_idx ON payment_journal (address, created_at DESC);`)
	return err
}

const entryColumns = `id, kind, address, destination, token, amount::text, status, hash, reason, code, created_at, updated_at`

// Begin inserts a pending entry, or returns the existing one with
// ErrDuplicatePayment. Entries that never reached the ledger are reopened.
func (j *PostgresJournal) Begin(ctx context.Context, entry Entry) (Entry, error) {
	tag, err := j.db.Exec(ctx, `INSERT INTO payment_journal (id, kind, address, destination, token, amount, status)
        VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
        ON CONFLICT (id) DO UPDATE SET
            kind = EXCLUDED.kind, address = EXCLUDED.address, destination = EXCLUDED.destination,
            token = EXCLUDED.token, amount = EXCLUDED.amount, status = EXCLUDED.status,
            reason = '', code = '', created_at = now(), updated_at = now()
        WHERE payment_journal.status = 'error' AND payment_journal.hash = ''`,
		entry.ID, entry.Kind, entry.Address, entry.Destination, entry.Token, entry.Amount.String(), StatusPending)
	if err != nil {
		return Entry{}, err
	}
	stored, err := j.get(ctx, j.db, entry.ID, false)
	if err != nil {
		return Entry{}, err
	}
	if tag.RowsAffected() == 0 {
		return stored, ErrDuplicatePayment
	}
	return stored, nil
}

// Complete writes the terminal state of a pending entry.
func (j *PostgresJournal) Complete(ctx context.Context, id string, c Completion) (Entry, error) {
	tx, err := j.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := j.get(ctx, tx, id, true); err != nil {
		return Entry{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE payment_journal
        SET status = $2, hash = $3, reason = $4, code = $5, updated_at = now()
        WHERE id = $1`, id, c.Status, c.Hash, c.Reason, c.Code); err != nil {
		return Entry{}, err
	}
	updated, err := j.get(ctx, tx, id, false)
	if err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return updated, nil
}

// List returns the newest entries for address first.
func (j *PostgresJournal) List(ctx context.Context, address string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(ctx, `SELECT `+entryColumns+` FROM payment_journal
        WHERE address = $1 ORDER BY created_at DESC LIMIT $2`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge deletes every entry for address.
func (j *PostgresJournal) Purge(ctx context.Context, address string) error {
	_, err := j.db.Exec(ctx, `DELETE FROM payment_journal WHERE address = $1`, address)
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (j *PostgresJournal) get(ctx context.Context, q querier, id string, forUpdate bool) (Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM payment_journal WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEntry(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrEntryNotFound
	}
	return e, err
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e      Entry
		amount string
	)
	if err := row.Scan(&e.ID, &e.Kind, &e.Address, &e.Destination, &e.Token, &amount,
		&e.Status, &e.Hash, &e.Reason, &e.Code, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, err
	}
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return Entry{}, fmt.Errorf("journal amount %q: %w", amount, err)
	}
	e.Amount = v
	return e, nil
}
