package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "WalletCore"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"

	defaultWalletStore     = "file"
	defaultWalletStorePath = "./data/local-state.json"
	defaultLedgerDriver    = "ws"
	defaultLedgerURL       = "wss://xrplcluster.com/"
	defaultLedgerRPS       = 10
	defaultIssuedCurrency  = "4149444100000000000000000000000000000000"
	defaultIssuerAddress   = "rPX64CuvGzH9TW3NTPKZouhmWz8eUTmqoJ"
	defaultTrustLineLimit  = "1000000000"
	defaultTrustLineMin    = "11"
	defaultKeyAlgorithm    = "ed25519"
	defaultTreasury        = "rHkAMdizRuBm8N1qbJZaUk6uhFeBUAcARw"
	defaultAttemptsPerMin  = 5
)

// Store drivers accepted by WALLET_STORE.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	DBMaxConns     int32
	ConnectTimeout time.Duration

	WalletStore     string
	WalletStorePath string
	KeyAlgorithm    string

	LedgerDriver    string
	LedgerURL       string
	LedgerRPS            float64
	LedgerRequestTimeout time.Duration
	FinalityTimeout      time.Duration
	PollInterval         time.Duration

	BalanceSyncInterval time.Duration
	RatesFile           string

	StatusDisplayWindow time.Duration
	StatusSettleDelay   time.Duration
	PaymentLockTTL      time.Duration

	IssuedCurrency      string
	IssuerAddress       string
	TrustLineLimit      decimal.Decimal
	TrustLineMinPrimary decimal.Decimal
	TreasuryAddress     string
	AttemptsPerMinute   int
}

// Load reads an optional .env file (ENV_FILE, default ".env") and then
// populates a Config from the environment. Variables already set in the
// environment win over the file.
func Load() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		WalletStore:     strings.ToLower(getEnv("WALLET_STORE", defaultWalletStore)),
		WalletStorePath: getEnv("WALLET_STORE_PATH", defaultWalletStorePath),
		KeyAlgorithm:    strings.ToLower(getEnv("KEY_ALGORITHM", defaultKeyAlgorithm)),
		LedgerDriver:    strings.ToLower(getEnv("LEDGER_DRIVER", defaultLedgerDriver)),
		LedgerURL:       getEnv("LEDGER_URL", defaultLedgerURL),
		RatesFile:       os.Getenv("RATES_FILE"),
		IssuedCurrency:  getEnv("ISSUED_CURRENCY", defaultIssuedCurrency),
		IssuerAddress:   getEnv("ISSUER_ADDRESS", defaultIssuerAddress),
		TreasuryAddress: getEnv("TREASURY_ADDRESS", defaultTreasury),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	rps, err := strconv.ParseFloat(getEnv("LEDGER_RPS", strconv.Itoa(defaultLedgerRPS)), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid LEDGER_RPS: %w", err)
	}
	cfg.LedgerRPS = rps

	maxConns, err := strconv.ParseInt(getEnv("DB_MAX_CONNS", "10"), 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	cfg.DBMaxConns = int32(maxConns)

	if cfg.AttemptsPerMinute, err = strconv.Atoi(getEnv("SECRET_ATTEMPTS_PER_MINUTE", strconv.Itoa(defaultAttemptsPerMin))); err != nil {
		return Config{}, fmt.Errorf("invalid SECRET_ATTEMPTS_PER_MINUTE: %w", err)
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"CONNECT_TIMEOUT", 10 * time.Second, &cfg.ConnectTimeout},
		{"LEDGER_REQUEST_TIMEOUT", 15 * time.Second, &cfg.LedgerRequestTimeout},
		{"LEDGER_FINALITY_TIMEOUT", 90 * time.Second, &cfg.FinalityTimeout},
		{"LEDGER_POLL_INTERVAL", time.Second, &cfg.PollInterval},
		{"BALANCE_SYNC_INTERVAL", 30 * time.Second, &cfg.BalanceSyncInterval},
		{"STATUS_DISPLAY_WINDOW", 5 * time.Second, &cfg.StatusDisplayWindow},
		{"STATUS_SETTLE_DELAY", 500 * time.Millisecond, &cfg.StatusSettleDelay},
		{"PAYMENT_LOCK_TTL", 0, &cfg.PaymentLockTTL},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	if cfg.TrustLineLimit, err = decimal.NewFromString(getEnv("TRUSTLINE_LIMIT", defaultTrustLineLimit)); err != nil {
		return Config{}, fmt.Errorf("invalid TRUSTLINE_LIMIT: %w", err)
	}
	if cfg.TrustLineMinPrimary, err = decimal.NewFromString(getEnv("TRUSTLINE_MIN_PRIMARY", defaultTrustLineMin)); err != nil {
		return Config{}, fmt.Errorf("invalid TRUSTLINE_MIN_PRIMARY: %w", err)
	}

	budget := cfg.PaymentBudget()
	switch {
	case cfg.PaymentLockTTL == 0:
		cfg.PaymentLockTTL = budget + time.Minute
	case cfg.PaymentLockTTL <= budget:
		return Config{}, fmt.Errorf("PAYMENT_LOCK_TTL %s must exceed the %s a payment may take", cfg.PaymentLockTTL, budget)
	}

	switch cfg.WalletStore {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when WALLET_STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when WALLET_STORE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("invalid WALLET_STORE %q", cfg.WalletStore)
	}

	switch cfg.LedgerDriver {
	case "ws", "memory":
	default:
		return Config{}, fmt.Errorf("invalid LEDGER_DRIVER %q", cfg.LedgerDriver)
	}

	return cfg, nil
}

// PaymentBudget is the longest one guarded submission may run: sender and
// destination trust line reads and the balance read, three sequencing
// attempts one second apart, then the finality wait. Every ledger round trip
// is a dial plus up to two calls, each bounded by LedgerRequestTimeout.
func (c Config) PaymentBudget() time.Duration {
	roundTrip := 3 * c.LedgerRequestTimeout
	return 3*roundTrip + 3*roundTrip + 2*time.Second + c.FinalityTimeout
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
