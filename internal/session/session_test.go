package session

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/balance"
	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/logging"
	"github.com/gptmeet/walletcore/internal/payments"
	"github.com/gptmeet/walletcore/internal/paystatus"
	"github.com/gptmeet/walletcore/internal/txbuilder"
	"github.com/gptmeet/walletcore/internal/wallet"
	"github.com/gptmeet/walletcore/internal/xrpl"
)

const (
	testSecret  = "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"
	testAddress = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

func newTestSession(t *testing.T, store wallet.Store) (*Session, ledger.Client) {
	t.Helper()
	asset := ledger.Asset{Currency: "4149444100000000000000000000000000000000", Issuer: "rPX64CuvGzH9TW3NTPKZouhmWz8eUTmqoJ"}
	l := ledger.NewInMemory(asset)
	wallets := wallet.NewService(wallet.NewKeyStore(store, xrpl.Ed25519, nil), logging.Discard())
	balances := balance.NewSynchronizer(l, balance.DefaultRates(), time.Hour, nil, logging.Discard())
	status := paystatus.New(paystatus.Config{}, logging.Discard())
	builder := txbuilder.New(l, txbuilder.Config{Asset: asset, TrustLineMinPrimary: decimal.NewFromInt(11)}, nil, logging.Discard())
	pay := payments.NewService(payments.Deps{Wallets: wallets, Builder: builder, Balances: balances, Status: status}, payments.Config{}, logging.Discard())
	s := New(wallets, balances, status, pay, nil, logging.Discard())
	t.Cleanup(s.Close)
	return s, l
}

func TestImportStartsBalanceSync(t *testing.T) {
	s, l := newTestSession(t, wallet.NewMemoryStore())
	ledger.SeedBalance(l, testAddress, 42*xrpl.DropsPerXRP)

	if _, err := s.Wallets.Import(context.Background(), testSecret); err != nil {
		t.Fatalf("import: %v", err)
	}
	if s.Address() != testAddress {
		t.Fatalf("expected active address, got %q", s.Address())
	}
	snap, ok := s.Balances.Snapshot()
	if !ok || !snap.Primary.Amount.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("expected synchronous first read, got %+v", snap)
	}
}

func TestOpenRestoresPersistedWallet(t *testing.T) {
	store := wallet.NewMemoryStore()
	first, _ := newTestSession(t, store)
	if _, err := first.Wallets.Import(context.Background(), testSecret); err != nil {
		t.Fatalf("import: %v", err)
	}

	second, _ := newTestSession(t, store)
	if err := second.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if second.Address() != testAddress || second.Balances.Address() != testAddress {
		t.Fatalf("expected restored wallet to be synchronized")
	}
}

func TestRemovalResetsDependentState(t *testing.T) {
	s, l := newTestSession(t, wallet.NewMemoryStore())
	ctx := context.Background()
	ledger.SeedBalance(l, testAddress, 42*xrpl.DropsPerXRP)
	if _, err := s.Wallets.Import(ctx, testSecret); err != nil {
		t.Fatalf("import: %v", err)
	}
	s.Status.GenerationStarted()
	s.Status.GenerationEnded()

	if err := s.Wallets.Remove(ctx, true); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Address() != "" || s.Balances.Address() != "" {
		t.Fatalf("expected no active address after removal")
	}
	if _, ok := s.Balances.Snapshot(); ok {
		t.Fatalf("expected balances to be forgotten")
	}
	if st := s.Status.Status(); st.State != paystatus.Idle {
		t.Fatalf("expected idle status, got %s", st.State)
	}
}
