// Package balance keeps the active wallet's balances fresh.
package balance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/metrics"
)

// ErrNotStarted is returned by Refresh when no address is being synchronized.
var ErrNotStarted = errors.New("balance synchronizer not started")

const defaultReadTimeout = 20 * time.Second

// Balance is one token's holding and its fiat equivalent.
type Balance struct {
	Kind      ledger.TokenKind
	Amount    decimal.Decimal
	FiatValue decimal.Decimal
}

// Snapshot is the latest known state of the synchronized address. Stale is
// set while the most recent read failed.
type Snapshot struct {
	Address   string
	Exists    bool
	Primary   Balance
	Issued    Balance
	Stale     bool
	UpdatedAt time.Time
}

// Of returns the balance for kind.
func (s Snapshot) Of(kind ledger.TokenKind) Balance {
	if kind == ledger.KindIssued {
		return s.Issued
	}
	return s.Primary
}

// Synchronizer refreshes balances for one address on a fixed interval. Only
// one cycle is active at a time.
type Synchronizer struct {
	client      ledger.Client
	rates       Rates
	interval    time.Duration
	readTimeout time.Duration
	metrics     metrics.Collector
	logger      *slog.Logger

	mu         sync.Mutex
	address    string
	snapshot   Snapshot
	has        bool
	generation uint64
	cancel     context.CancelFunc
}

// NewSynchronizer builds a synchronizer; it does nothing until Start.
func NewSynchronizer(client ledger.Client, rates Rates, interval time.Duration, collector metrics.Collector, logger *slog.Logger) *Synchronizer {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Synchronizer{
		client:      client,
		rates:       rates,
		interval:    interval,
		readTimeout: defaultReadTimeout,
		metrics:     collector,
		logger:      logger,
	}
}

// Rates returns the conversion table in use.
func (s *Synchronizer) Rates() Rates { return s.rates }

// Start stops any running cycle, refreshes address once synchronously and
// then keeps refreshing it every interval until Stop or the next Start.
func (s *Synchronizer) Start(ctx context.Context, address string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	if s.address != address {
		s.snapshot, s.has = Snapshot{}, false
	}
	s.address = address
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("balance sync started", slog.String("address", address), slog.Duration("interval", s.interval))
	_ = s.refresh(ctx, gen, address)
	go s.loop(loopCtx, gen, address)
}

// Stop cancels the periodic cycle. An in-flight read completes but is not
// rescheduled. Safe to call multiple times.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.logger.Info("balance sync stopped", slog.String("address", s.address))
	}
}

// Reset stops the cycle and forgets the address and its snapshot.
func (s *Synchronizer) Reset() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.address = ""
	s.snapshot, s.has = Snapshot{}, false
}

// Refresh performs one read for the active address now. On failure the
// previous snapshot is kept, marked stale, and the error is returned.
func (s *Synchronizer) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	gen, address := s.generation, s.address
	s.mu.Unlock()
	if address == "" {
		return Snapshot{}, ErrNotStarted
	}
	if err := s.refresh(ctx, gen, address); err != nil {
		snap, _ := s.Snapshot()
		return snap, err
	}
	snap, _ := s.Snapshot()
	return snap, nil
}

// Address is the address being synchronized, empty when idle.
func (s *Synchronizer) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Snapshot returns the latest state; ok is false before the first successful read.
func (s *Synchronizer) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.has
}

func (s *Synchronizer) loop(ctx context.Context, gen uint64, address string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// the read outlives a Stop issued while it is in flight
			_ = s.refresh(context.WithoutCancel(ctx), gen, address)
		}
	}
}

func (s *Synchronizer) refresh(ctx context.Context, gen uint64, address string) error {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()
	read, err := s.client.GetBalances(ctx, address)
	s.metrics.RecordBalanceSync(err == nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// wallet switched while reading
		return nil
	}
	if err != nil {
		s.snapshot.Stale = true
		s.logger.Warn("balance read failed, keeping last known balances",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.snapshot = Snapshot{
		Address:   address,
		Exists:    read.Exists,
		Primary:   s.balance(ledger.KindPrimary, read.Primary),
		Issued:    s.balance(ledger.KindIssued, read.Issued),
		UpdatedAt: time.Now().UTC(),
	}
	s.has = true
	return nil
}

func (s *Synchronizer) balance(kind ledger.TokenKind, amount decimal.Decimal) Balance {
	return Balance{Kind: kind, Amount: amount, FiatValue: s.rates.Fiat(kind, amount)}
}
