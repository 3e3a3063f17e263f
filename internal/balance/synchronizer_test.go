package balance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/logging"
	"github.com/gptmeet/walletcore/internal/metrics"
	"github.com/gptmeet/walletcore/internal/xrpl"
)

const (
	testIssuer   = "rPX64CuvGzH9TW3NTPKZouhmWz8eUTmqoJ"
	testCurrency = "4149444100000000000000000000000000000000"
	alice        = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	bob          = "rHkAMdizRuBm8N1qbJZaUk6uhFeBUAcARw"
)

func newTestSync(l ledger.Client, interval time.Duration, collector metrics.Collector) *Synchronizer {
	return NewSynchronizer(l, DefaultRates(), interval, collector, logging.Discard())
}

func TestStartRefreshesImmediately(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{Currency: testCurrency, Issuer: testIssuer})
	ledger.SeedBalance(l, alice, 50*xrpl.DropsPerXRP)
	ledger.SeedTrustLine(l, alice, decimal.NewFromInt(1_000_000_000), decimal.NewFromInt(30))
	s := newTestSync(l, time.Hour, nil)
	defer s.Stop()

	s.Start(context.Background(), alice)
	snap, ok := s.Snapshot()
	if !ok {
		t.Fatalf("expected a snapshot right after start")
	}
	if !snap.Primary.Amount.Equal(decimal.NewFromInt(50)) || !snap.Primary.FiatValue.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected primary %+v", snap.Primary)
	}
	if !snap.Issued.Amount.Equal(decimal.NewFromInt(30)) || !snap.Issued.FiatValue.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected issued %+v", snap.Issued)
	}
}

func TestUnfundedAddressReadsZero(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{Currency: testCurrency, Issuer: testIssuer})
	s := newTestSync(l, time.Hour, nil)
	defer s.Stop()

	s.Start(context.Background(), alice)
	snap, ok := s.Snapshot()
	if !ok || snap.Exists || !snap.Primary.Amount.IsZero() || !snap.Issued.Amount.IsZero() || snap.Stale {
		t.Fatalf("expected zero, fresh balances, got %+v", snap)
	}
}

func TestFailedReadKeepsLastGoodBalance(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{})
	ledger.SeedBalance(l, alice, 50*xrpl.DropsPerXRP)
	collector := metrics.NewMemoryCollector()
	s := newTestSync(l, time.Hour, collector)
	defer s.Stop()
	ctx := context.Background()

	s.Start(ctx, alice)
	ledger.SeedBalance(l, alice, 40*xrpl.DropsPerXRP)
	ledger.FailNext(l, "balances", 1)

	snap, err := s.Refresh(ctx)
	if err == nil {
		t.Fatalf("expected refresh error")
	}
	if !snap.Stale || !snap.Primary.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected stale 50, got %+v", snap)
	}

	snap, err = s.Refresh(ctx)
	if err != nil || snap.Stale || !snap.Primary.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected fresh 40, got %+v %v", snap, err)
	}
	if collector.BalanceSyncs(false) != 1 || collector.BalanceSyncs(true) != 2 {
		t.Fatalf("unexpected sync metrics")
	}
}

func TestTickReflectsDecreasedBalance(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{})
	ledger.SeedBalance(l, alice, 50*xrpl.DropsPerXRP)
	s := newTestSync(l, 10*time.Millisecond, nil)
	defer s.Stop()

	s.Start(context.Background(), alice)
	ledger.SeedBalance(l, alice, 40*xrpl.DropsPerXRP)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, _ := s.Snapshot(); snap.Primary.Amount.Equal(decimal.NewFromInt(40)) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("periodic refresh never observed the new balance")
}

func TestSwitchingAddressRestartsCycle(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{})
	ledger.SeedBalance(l, alice, 50*xrpl.DropsPerXRP)
	ledger.SeedBalance(l, bob, 70*xrpl.DropsPerXRP)
	s := newTestSync(l, time.Hour, nil)
	defer s.Stop()
	ctx := context.Background()

	s.Start(ctx, alice)
	s.Start(ctx, bob)
	snap, _ := s.Snapshot()
	if snap.Address != bob || !snap.Primary.Amount.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("expected bob's balances, got %+v", snap)
	}

	// a failed first read for a new address leaves nothing from the old one
	ledger.FailNext(l, "balances", 1)
	s.Start(ctx, alice)
	if snap, ok := s.Snapshot(); ok || snap.Address == bob {
		t.Fatalf("previous wallet's balances leaked: %+v", snap)
	}
}

func TestStopIsIdempotentAndHaltsTicks(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{})
	ledger.SeedBalance(l, alice, 50*xrpl.DropsPerXRP)
	collector := metrics.NewMemoryCollector()
	s := newTestSync(l, 5*time.Millisecond, collector)

	s.Start(context.Background(), alice)
	s.Stop()
	s.Stop()
	time.Sleep(20 * time.Millisecond)
	before := collector.BalanceSyncs(true)
	time.Sleep(30 * time.Millisecond)
	if after := collector.BalanceSyncs(true); after != before {
		t.Fatalf("expected no reads after stop, got %d -> %d", before, after)
	}
}

func TestRefreshBeforeStart(t *testing.T) {
	s := newTestSync(ledger.NewInMemory(ledger.Asset{}), time.Hour, nil)
	if _, err := s.Refresh(context.Background()); err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestRatesCreditsAndYAML(t *testing.T) {
	rates := DefaultRates()
	if got := rates.Credits(ledger.KindPrimary, decimal.RequireFromString("1.5")); !got.Equal(decimal.NewFromInt(150_000)) {
		t.Fatalf("unexpected XRP credits %s", got)
	}
	if got := rates.Credits(ledger.KindIssued, decimal.RequireFromString("0.0000051")); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected credits to round down, got %s", got)
	}

	path := filepath.Join(t.TempDir(), "rates.yaml")
	if err := os.WriteFile(path, []byte("primary:\n  usd: 0.62\nissued:\n  credits: 250000\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := LoadRates(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Primary.USD.Equal(decimal.RequireFromString("0.62")) || !loaded.Primary.Credits.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("unexpected primary rate %+v", loaded.Primary)
	}
	if !loaded.Issued.Credits.Equal(decimal.NewFromInt(250_000)) || !loaded.Issued.USD.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("unexpected issued rate %+v", loaded.Issued)
	}

	if err := os.WriteFile(path, []byte("primary:\n  usd: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadRates(path); err == nil {
		t.Fatalf("expected negative rate to be rejected")
	}
}
