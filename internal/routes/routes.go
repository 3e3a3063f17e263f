package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/gptmeet/walletcore/internal/balance"
	"github.com/gptmeet/walletcore/internal/config"
	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/metrics"
	"github.com/gptmeet/walletcore/internal/middleware"
	"github.com/gptmeet/walletcore/internal/notification"
	"github.com/gptmeet/walletcore/internal/payments"
	"github.com/gptmeet/walletcore/internal/paystatus"
	"github.com/gptmeet/walletcore/internal/session"
	"github.com/gptmeet/walletcore/internal/txbuilder"
	"github.com/gptmeet/walletcore/internal/wallet"
	"github.com/gptmeet/walletcore/internal/xrpl"
)

const redisStateKey = "walletcore:local-state"

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// are optional. Ledger overrides the configured ledger driver when set.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Ledger   ledger.Client
	Registry *prometheus.Registry
}

// Setup builds the wallet session, configures middlewares and registers all
// routes. The returned session is not opened yet.
func Setup(app *fiber.App, d Deps) (*session.Session, error) {
	cfg := d.Cfg
	ctx := context.Background()

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Metrics
	var collector metrics.Collector = metrics.NoOpCollector{}
	if d.Registry != nil {
		pc := metrics.NewPrometheusCollector("walletcore")
		if err := pc.Register(d.Registry); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		collector = pc
		RegisterMetricsRoute(app, d.Registry)
	}

	// Local state
	store, err := newStore(ctx, d)
	if err != nil {
		return nil, err
	}
	algo, err := xrpl.ParseAlgorithm(cfg.KeyAlgorithm)
	if err != nil {
		return nil, err
	}
	walletSvc := wallet.NewService(wallet.NewKeyStore(store, algo, nil), d.Logger)

	// Ledger
	asset := ledger.Asset{Currency: cfg.IssuedCurrency, Issuer: cfg.IssuerAddress}
	client := d.Ledger
	if client == nil {
		switch cfg.LedgerDriver {
		case "memory":
			client = ledger.NewInMemory(asset)
		default:
			client = ledger.NewWSClient(ledger.WSConfig{
				URL:               cfg.LedgerURL,
				Asset:             asset,
				RequestsPerSecond: cfg.LedgerRPS,
				RequestTimeout:    cfg.LedgerRequestTimeout,
				FinalityTimeout:   cfg.FinalityTimeout,
				PollInterval:      cfg.PollInterval,
			}, d.Logger)
		}
	}

	rates := balance.DefaultRates()
	if cfg.RatesFile != "" {
		if rates, err = balance.LoadRates(cfg.RatesFile); err != nil {
			return nil, err
		}
	}

	builder := txbuilder.New(client, txbuilder.Config{
		Asset:               asset,
		TrustLineMinPrimary: cfg.TrustLineMinPrimary,
	}, collector, d.Logger)
	balances := balance.NewSynchronizer(client, rates, cfg.BalanceSyncInterval, collector, d.Logger)
	status := paystatus.New(paystatus.Config{
		DisplayWindow: cfg.StatusDisplayWindow,
		SettleDelay:   cfg.StatusSettleDelay,
	}, d.Logger)
	notifier := notification.NewRecorder(notification.NewLoggerNotifier(d.Logger), 50)

	var journal payments.Journal = payments.NewMemoryJournal()
	if d.DB != nil {
		pj := payments.NewPostgresJournal(d.DB)
		if err := pj.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate payment journal: %w", err)
		}
		journal = pj
	}
	var locker payments.Locker = payments.NewMemoryLocker()
	if d.Cache != nil {
		locker = payments.NewRedisLocker(d.Cache)
	}

	issuedName := asset.Name()
	paymentSvc := payments.NewService(payments.Deps{
		Wallets:  walletSvc,
		Builder:  builder,
		Balances: balances,
		Status:   status,
		Journal:  journal,
		Locker:   locker,
		Notifier: notifier,
	}, payments.Config{
		IssuedName:     issuedName,
		TrustLineLimit: cfg.TrustLineLimit,
		Treasury:       cfg.TreasuryAddress,
		LockTTL:        cfg.PaymentLockTTL,
		Deadline:       cfg.PaymentBudget(),
	}, d.Logger)

	sess := session.New(walletSvc, balances, status, paymentSvc, notifier, d.Logger)

	// Health
	RegisterHealthRoutes(app, d, sess.Address)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	api.Get("/notifications", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"notifications": notifier.Recent()})
	})

	// Replayed responses live in redis, so only submissions are stored there.
	// Wallet routes carry key material and are never replayed.
	idempotent := func(c *fiber.Ctx) error { return c.Next() }
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, middleware.IdempotencyConfig{TTL: cfg.IdempotencyTTL}, d.Logger)
	}

	attempts := middleware.AttemptRateLimit(d.Cache, "secret", cfg.AttemptsPerMinute)
	RegisterWalletRoutes(api, wallet.NewHandler(walletSvc), attempts)
	RegisterBalanceRoutes(api, balance.NewHandler(balances, issuedName))
	RegisterPaymentRoutes(api, payments.NewHandler(paymentSvc), idempotent)
	RegisterStatusRoutes(api, paystatus.NewHandler(status))

	return sess, nil
}

func newStore(ctx context.Context, d Deps) (wallet.Store, error) {
	switch d.Cfg.WalletStore {
	case config.StoreMemory:
		return wallet.NewMemoryStore(), nil
	case config.StoreRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when WALLET_STORE=%s", d.Cfg.WalletStore)
		}
		return wallet.NewRedisStore(d.Cache, redisStateKey), nil
	case config.StorePostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when WALLET_STORE=%s", d.Cfg.WalletStore)
		}
		store := wallet.NewPostgresStore(d.DB, d.Cfg.AppName)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate local state: %w", err)
		}
		return store, nil
	default:
		return wallet.NewFileStore(d.Cfg.WalletStorePath), nil
	}
}
