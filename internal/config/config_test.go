package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("WALLET_STORE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WalletStore != StoreFile || cfg.LedgerURL != defaultLedgerURL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BalanceSyncInterval != 30*time.Second || cfg.StatusDisplayWindow != 5*time.Second {
		t.Fatalf("unexpected intervals: %s %s", cfg.BalanceSyncInterval, cfg.StatusDisplayWindow)
	}
	if cfg.TrustLineMinPrimary.String() != "11" || cfg.TrustLineLimit.String() != "1000000000" {
		t.Fatalf("unexpected trust line config: %s %s", cfg.TrustLineMinPrimary, cfg.TrustLineLimit)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("BALANCE_SYNC_INTERVAL=5s\nLEDGER_DRIVER=memory\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	// t.Setenv restores whatever godotenv sets once the test ends
	t.Setenv("BALANCE_SYNC_INTERVAL", "")
	t.Setenv("LEDGER_DRIVER", "")
	os.Unsetenv("BALANCE_SYNC_INTERVAL")
	os.Unsetenv("LEDGER_DRIVER")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BalanceSyncInterval != 5*time.Second || cfg.LedgerDriver != "memory" {
		t.Fatalf("env file not applied: %s %s", cfg.BalanceSyncInterval, cfg.LedgerDriver)
	}
}

func TestLoadRequiresBackendURLs(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("WALLET_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected DATABASE_URL to be required for postgres store")
	}

	t.Setenv("WALLET_STORE", "redis")
	t.Setenv("REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected REDIS_URL to be required for redis store")
	}

	t.Setenv("WALLET_STORE", "floppy")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown store to be rejected")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("WALLET_STORE", "memory")
	t.Setenv("STATUS_SETTLE_DELAY", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestLoadDerivesPaymentLockTTL(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("WALLET_STORE", "memory")
	t.Setenv("PAYMENT_LOCK_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// 6 round trips of 45s, 2s of backoff and 90s of finality
	if budget := cfg.PaymentBudget(); budget != 362*time.Second {
		t.Fatalf("unexpected payment budget %s", budget)
	}
	if cfg.PaymentLockTTL <= cfg.PaymentBudget() {
		t.Fatalf("lock TTL %s must outlive the payment budget %s", cfg.PaymentLockTTL, cfg.PaymentBudget())
	}
}

func TestLoadRejectsShortPaymentLockTTL(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("WALLET_STORE", "memory")
	t.Setenv("PAYMENT_LOCK_TTL", "2m")
	if _, err := Load(); err == nil {
		t.Fatalf("expected a lock TTL shorter than a payment to be rejected")
	}

	t.Setenv("LEDGER_REQUEST_TIMEOUT", "1s")
	t.Setenv("LEDGER_FINALITY_TIMEOUT", "30s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected 2m to cover a 50s budget: %v", err)
	}
	if cfg.PaymentLockTTL != 2*time.Minute {
		t.Fatalf("explicit TTL must be kept, got %s", cfg.PaymentLockTTL)
	}
}
