package payments

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func newPostgresJournal(t *testing.T) (*PostgresJournal, string) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres journal")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	j := NewPostgresJournal(db)
	for i := 0; i < 2; i++ {
		if err := j.Migrate(ctx); err != nil {
			t.Fatalf("migrate %d: %v", i, err)
		}
	}
	address := "rTest" + uuid.NewString()
	t.Cleanup(func() { _ = j.Purge(context.Background(), address) })
	return j, address
}

func TestPostgresJournalLifecycle(t *testing.T) {
	j, address := newPostgresJournal(t)
	ctx := context.Background()
	id := uuid.NewString()

	begun, err := j.Begin(ctx, Entry{ID: id, Kind: EntryPayment, Address: address, Destination: testTreasury, Token: "XRP", Amount: decimal.RequireFromString("1.5")})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if begun.Status != StatusPending || !begun.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected pending entry %+v", begun)
	}

	done, err := j.Complete(ctx, id, Completion{Status: StatusSucceeded, Hash: "ABC"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusSucceeded || done.Hash != "ABC" {
		t.Fatalf("unexpected completed entry %+v", done)
	}

	again, err := j.Begin(ctx, Entry{ID: id, Kind: EntryPayment, Address: address, Amount: decimal.NewFromInt(99)})
	if !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if again.Hash != "ABC" || !again.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected the stored entry back, got %+v", again)
	}

	if _, err := j.Complete(ctx, uuid.NewString(), Completion{Status: StatusFailed}); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresJournalReopensUnsubmittedErrors(t *testing.T) {
	j, address := newPostgresJournal(t)
	ctx := context.Background()
	unsent, sent := uuid.NewString(), uuid.NewString()

	for _, id := range []string{unsent, sent} {
		if _, err := j.Begin(ctx, Entry{ID: id, Kind: EntryPayment, Address: address, Amount: decimal.NewFromInt(1)}); err != nil {
			t.Fatalf("begin: %v", err)
		}
	}
	if _, err := j.Complete(ctx, unsent, Completion{Status: StatusError}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := j.Complete(ctx, sent, Completion{Status: StatusError, Hash: "DEF"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reopened, err := j.Begin(ctx, Entry{ID: unsent, Kind: EntryPayment, Address: address, Amount: decimal.NewFromInt(2)})
	if err != nil {
		t.Fatalf("expected unsubmitted entry to reopen, got %v", err)
	}
	if reopened.Status != StatusPending || !reopened.Amount.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected reopened entry %+v", reopened)
	}
	if _, err := j.Begin(ctx, Entry{ID: sent, Kind: EntryPayment, Address: address}); !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("expected an entry with a hash to stay a duplicate, got %v", err)
	}
}

func TestPostgresJournalListAndPurge(t *testing.T) {
	j, address := newPostgresJournal(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		ids = append(ids, id)
		if _, err := j.Begin(ctx, Entry{ID: id, Kind: EntryPayment, Address: address, Amount: decimal.NewFromInt(int64(i))}); err != nil {
			t.Fatalf("begin: %v", err)
		}
	}
	entries, err := j.List(ctx, address, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != ids[2] {
		t.Fatalf("expected the two newest entries, got %+v", entries)
	}

	if err := j.Purge(ctx, address); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if entries, err := j.List(ctx, address, 0); err != nil || len(entries) != 0 {
		t.Fatalf("expected an empty journal, got %v %v", entries, err)
	}
}
