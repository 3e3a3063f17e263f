// Package payments orchestrates submissions from the active wallet.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/balance"
	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/notification"
	"github.com/gptmeet/walletcore/internal/paystatus"
	"github.com/gptmeet/walletcore/internal/txbuilder"
	"github.com/gptmeet/walletcore/internal/wallet"
	"github.com/gptmeet/walletcore/internal/xrpl"
)

// ErrBalancesUnavailable means the balance for the active wallet could not be read.
var ErrBalancesUnavailable = errors.New("balances unavailable")

const defaultLockTTL = 2 * time.Minute

// Config tunes the payment service. Deadline bounds one guarded submission
// and is kept below LockTTL so the per-wallet lock outlives the work it guards.
type Config struct {
	IssuedName     string
	TrustLineLimit decimal.Decimal
	Treasury       string
	LockTTL        time.Duration
	Deadline       time.Duration
}

// Service sends payments and trust lines from the active wallet.
type Service struct {
	wallets  *wallet.Service
	builder  *txbuilder.Builder
	balances *balance.Synchronizer
	status   *paystatus.Machine
	journal  Journal
	locker   Locker
	notifier notification.Notifier
	cfg      Config
	logger   *slog.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Wallets  *wallet.Service
	Builder  *txbuilder.Builder
	Balances *balance.Synchronizer
	Status   *paystatus.Machine
	Journal  Journal
	Locker   Locker
	Notifier notification.Notifier
}

// NewService constructs a payment service. Journal and Locker default to
// their in-memory forms.
func NewService(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if deps.Journal == nil {
		deps.Journal = NewMemoryJournal()
	}
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Deadline <= 0 || cfg.Deadline >= cfg.LockTTL {
		cfg.Deadline = cfg.LockTTL - cfg.LockTTL/4
	}
	if cfg.IssuedName == "" {
		cfg.IssuedName = deps.Builder.Asset().Name()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		wallets:  deps.Wallets,
		builder:  deps.Builder,
		balances: deps.Balances,
		status:   deps.Status,
		journal:  deps.Journal,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Receipt is the result of one submission. Outcome is meaningful only when
// the returned error is nil or ledger.ErrTimeout.
type Receipt struct {
	Entry   Entry
	Outcome ledger.Outcome
}

// ExplorerURL links to the transaction when a hash is known.
func (r Receipt) ExplorerURL() string {
	if r.Outcome.Hash == "" {
		return ""
	}
	return xrpl.ExplorerTxURL(r.Outcome.Hash)
}

// TokenName returns the display name of kind.
func (s *Service) TokenName(kind ledger.TokenKind) string {
	if kind == ledger.KindIssued {
		return s.cfg.IssuedName
	}
	return "XRP"
}

// Send pays intent from the active wallet. Classified ledger rejections,
// including a pre-submission balance or trust line shortfall, are returned
// as a failed Outcome with a nil error.
func (s *Service) Send(ctx context.Context, intent txbuilder.PaymentIntent) (Receipt, error) {
	return s.send(ctx, EntryPayment, intent)
}

func (s *Service) send(ctx context.Context, kind string, intent txbuilder.PaymentIntent) (Receipt, error) {
	if err := intent.Validate(); err != nil {
		return Receipt{}, err
	}
	w, err := s.wallets.Active()
	if err != nil {
		return Receipt{}, err
	}
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()
	release, err := s.locker.Acquire(ctx, w.Address, s.cfg.LockTTL)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	entry, err := s.journal.Begin(ctx, Entry{
		ID:          intent.ID,
		Kind:        kind,
		Address:     w.Address,
		Destination: intent.Destination,
		Token:       s.TokenName(intent.TokenKind),
		Amount:      intent.Amount,
	})
	if err != nil {
		return Receipt{Entry: entry}, err
	}

	logger := s.logger.With(
		slog.String("payment_id", intent.ID),
		slog.String("address", w.Address),
		slog.String("token", entry.Token),
	)

	outcome, err := s.precheck(ctx, w.Address, intent)
	if err == nil && outcome.Failure == nil {
		var tx xrpl.Transaction
		if tx, err = s.builder.BuildPayment(intent, w.Address); err == nil {
			outcome, err = s.builder.SignAndSubmit(ctx, txbuilder.KindPayment, tx, w)
		}
	}
	if err != nil {
		logger.Error("payment not completed", slog.String("error", err.Error()))
		status := StatusError
		if errors.Is(err, ledger.ErrTimeout) {
			status = StatusTimeout
		}
		entry = s.complete(ctx, entry, Completion{Status: status, Hash: outcome.Hash})
		if s.status != nil {
			s.status.RecordError(paystatus.FailureMarker + ": " + err.Error())
		}
		return Receipt{Entry: entry, Outcome: outcome}, err
	}

	entry = s.complete(ctx, entry, completionOf(outcome))
	label := fmt.Sprintf("%s %s", intent.Amount, entry.Token)
	if s.status != nil {
		s.status.RecordOutcome(label, outcome)
	}
	if outcome.Succeeded() {
		logger.Info("payment settled", slog.String("hash", outcome.Hash))
		s.notify(ctx, notification.KindPaymentSent, w.Address, fmt.Sprintf("Sent %s to %s", label, intent.Destination))
		if s.balances != nil {
			_, _ = s.balances.Refresh(ctx)
		}
	} else {
		logger.Warn("payment rejected",
			slog.String("reason", string(outcome.Failure.Reason)),
			slog.String("code", outcome.Failure.Code),
		)
		s.notify(ctx, notification.KindPaymentFailed, w.Address, outcome.Failure.Message())
	}
	return Receipt{Entry: entry, Outcome: outcome}, nil
}

// precheck verifies both ends' trust lines and the sender's balance against
// a fresh read.
func (s *Service) precheck(ctx context.Context, address string, intent txbuilder.PaymentIntent) (ledger.Outcome, error) {
	if intent.TokenKind == ledger.KindIssued {
		asset := s.builder.Asset()
		ok, err := s.builder.HasTrustLine(ctx, address, asset.Issuer, asset.Currency)
		if err != nil {
			return ledger.Outcome{}, err
		}
		if !ok {
			return ledger.Failed(ledger.ReasonMissingTrustLine, "",
				fmt.Sprintf("You need a trust line for %s before sending it. Set one up first.", s.cfg.IssuedName)), nil
		}
		// the issuer receives its own asset without a line
		if intent.Destination != asset.Issuer {
			ok, err := s.builder.HasTrustLine(ctx, intent.Destination, asset.Issuer, asset.Currency)
			if err != nil {
				return ledger.Outcome{}, err
			}
			if !ok {
				return ledger.Failed(ledger.ReasonMissingTrustLine, "",
					fmt.Sprintf("%s has no trust line for %s and cannot receive it. Ask the recipient to set one up first.",
						intent.Destination, s.cfg.IssuedName)), nil
			}
		}
	}

	if s.balances == nil {
		return ledger.Outcome{}, nil
	}
	snap, err := s.balances.Refresh(ctx)
	if err != nil {
		return ledger.Outcome{}, fmt.Errorf("%w: %v", ErrBalancesUnavailable, err)
	}
	if snap.Address != address {
		return ledger.Outcome{}, fmt.Errorf("%w: balances track %q", ErrBalancesUnavailable, snap.Address)
	}
	have := snap.Of(intent.TokenKind).Amount
	if intent.Amount.GreaterThan(have) {
		return ledger.Failed(ledger.ReasonInsufficientBalance, "",
			fmt.Sprintf("Insufficient %s balance: you have %s but tried to send %s.",
				s.TokenName(intent.TokenKind), have, intent.Amount)), nil
	}
	return ledger.Outcome{}, nil
}

// EnsureTrustLine opens a trust line from the active wallet toward issuer
// for currency; empty values select the configured issued asset. A second
// call finds the line and submits nothing.
func (s *Service) EnsureTrustLine(ctx context.Context, issuer, currency string) (Receipt, error) {
	asset := s.builder.Asset()
	if issuer == "" {
		issuer = asset.Issuer
	}
	if currency == "" {
		currency = asset.Currency
	}
	if !xrpl.IsValidAddress(issuer) {
		return Receipt{}, fmt.Errorf("%w: issuer %q is not a valid address", txbuilder.ErrInvalidIntent, issuer)
	}
	w, err := s.wallets.Active()
	if err != nil {
		return Receipt{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()
	release, err := s.locker.Acquire(ctx, w.Address, s.cfg.LockTTL)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	outcome, err := s.builder.EstablishTrustLine(ctx, w, issuer, currency, s.cfg.TrustLineLimit)
	if err != nil || outcome.Noop {
		return Receipt{Outcome: outcome}, err
	}

	entry, err := s.journal.Begin(ctx, Entry{
		ID:      uuid.NewString(),
		Kind:    EntryTrustSet,
		Address: w.Address,
		Token:   xrpl.CurrencyDisplay(currency),
	})
	if err != nil {
		return Receipt{Outcome: outcome}, err
	}
	entry = s.complete(ctx, entry, completionOf(outcome))
	if outcome.Succeeded() {
		s.notify(ctx, notification.KindTrustLine, w.Address, fmt.Sprintf("Trust line for %s is ready", entry.Token))
		if s.balances != nil {
			_, _ = s.balances.Refresh(ctx)
		}
	}
	return Receipt{Entry: entry, Outcome: outcome}, nil
}

// CreditQuote prices an amount of API credits in the preferred payment token.
type CreditQuote struct {
	Kind    ledger.TokenKind
	Credits decimal.Decimal
	Amount  decimal.Decimal
}

// QuoteCredits returns what credits cost in the wallet's payment token,
// rounded up to the ledger's smallest unit.
func (s *Service) QuoteCredits(ctx context.Context, credits decimal.Decimal) (CreditQuote, error) {
	if !credits.IsPositive() {
		return CreditQuote{}, fmt.Errorf("%w: credits must be positive", txbuilder.ErrInvalidIntent)
	}
	token, err := s.wallets.PaymentToken(ctx, "XRP")
	if err != nil {
		return CreditQuote{}, err
	}
	kind, err := ledger.ParseTokenKind(token, s.cfg.IssuedName)
	if err != nil {
		kind = ledger.KindPrimary
	}
	rate := balance.DefaultRates()
	if s.balances != nil {
		rate = s.balances.Rates()
	}
	perUnit := rate.Credits(kind, decimal.NewFromInt(1))
	if !perUnit.IsPositive() {
		return CreditQuote{}, fmt.Errorf("no credit rate for %s", s.TokenName(kind))
	}
	return CreditQuote{
		Kind:    kind,
		Credits: credits,
		Amount:  credits.DivRound(perUnit, 16).RoundUp(6),
	}, nil
}

// BuyCredits pays the treasury for credits in the preferred payment token.
func (s *Service) BuyCredits(ctx context.Context, credits decimal.Decimal) (Receipt, CreditQuote, error) {
	if s.cfg.Treasury == "" {
		return Receipt{}, CreditQuote{}, errors.New("credit purchases are not configured")
	}
	quote, err := s.QuoteCredits(ctx, credits)
	if err != nil {
		return Receipt{}, CreditQuote{}, err
	}
	receipt, err := s.send(ctx, EntryCreditPurchase, txbuilder.PaymentIntent{
		TokenKind:   quote.Kind,
		Amount:      quote.Amount,
		Destination: s.cfg.Treasury,
	})
	return receipt, quote, err
}

// History returns the active wallet's journal, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]Entry, error) {
	w, err := s.wallets.Active()
	if err != nil {
		return nil, err
	}
	return s.journal.List(ctx, w.Address, limit)
}

// Forget drops the journal for address after its wallet is removed.
func (s *Service) Forget(ctx context.Context, address string) error {
	return s.journal.Purge(ctx, address)
}

func (s *Service) complete(ctx context.Context, entry Entry, c Completion) Entry {
	updated, err := s.journal.Complete(ctx, entry.ID, c)
	if err != nil {
		s.logger.Error("journal update failed", slog.String("payment_id", entry.ID), slog.String("error", err.Error()))
		entry.Status, entry.Hash, entry.Reason, entry.Code = c.Status, c.Hash, c.Reason, c.Code
		return entry
	}
	return updated
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body}); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}

func completionOf(outcome ledger.Outcome) Completion {
	if outcome.Succeeded() {
		return Completion{Status: StatusSucceeded, Hash: outcome.Hash}
	}
	return Completion{
		Status: StatusFailed,
		Hash:   outcome.Hash,
		Reason: string(outcome.Failure.Reason),
		Code:   outcome.Failure.Code,
	}
}
