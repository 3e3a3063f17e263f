package wallet

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

func newPostgresStore(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres store")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	store := NewPostgresStore(db, "test-"+uuid.NewString())
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// a second run must be a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	t.Cleanup(func() { _ = store.Clear(context.Background()) })
	return store, db
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, WalletKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Put(ctx, WalletKey, []byte("first")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, WalletKey, []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.Get(ctx, WalletKey)
	if err != nil || string(got) != "second" {
		t.Fatalf("expected overwritten value, got %q %v", got, err)
	}
	if err := store.Delete(ctx, WalletKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, WalletKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted key to be gone, got %v", err)
	}
}

func TestPostgresStoreClearIsScopedByDevice(t *testing.T) {
	store, db := newPostgresStore(t)
	other := NewPostgresStore(db, "test-"+uuid.NewString())
	t.Cleanup(func() { _ = other.Clear(context.Background()) })
	ctx := context.Background()

	for _, s := range []*PostgresStore{store, other} {
		if err := s.Put(ctx, PaymentTokenKey, []byte("XRP")); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Get(ctx, PaymentTokenKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cleared device to be empty, got %v", err)
	}
	if v, err := other.Get(ctx, PaymentTokenKey); err != nil || string(v) != "XRP" {
		t.Fatalf("expected other device to keep its state, got %q %v", v, err)
	}
}

func TestPostgresStoreBacksKeyStore(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()
	keys := NewKeyStore(store, xrpl.Ed25519, nil)

	w, err := keys.ImportFromSecret("snoPBrXtMeMyMHUVTgbuqAfg1SUTb")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if err := keys.Persist(ctx, w); err != nil {
		t.Fatalf("persist: %v", err)
	}
	loaded, ok, err := keys.Load(ctx)
	if err != nil || !ok || loaded != w {
		t.Fatalf("expected %s back, got %v %v %v", w.Address, loaded, ok, err)
	}
	if err := keys.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := keys.Load(ctx); ok {
		t.Fatalf("expected removal to erase the wallet")
	}
}
