// Package txbuilder turns payment intents into signed ledger transactions.
package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/metrics"
	"github.com/gptmeet/walletcore/internal/xrpl"
)

var (
	// ErrSequencingUnavailable means the retry budget for sequencing info was exhausted.
	ErrSequencingUnavailable = errors.New("sequencing info unavailable")
	// ErrInvalidIntent covers intents that cannot be turned into a valid transaction.
	ErrInvalidIntent = errors.New("invalid payment intent")
	// ErrSigningRejected means the signing identity could not sign the transaction.
	ErrSigningRejected = errors.New("signing rejected")
)

// Submission kinds used as metric labels.
const (
	KindPayment  = "payment"
	KindTrustSet = "trust_set"
)

// Signer yields the keypair of a signing identity for the duration of one call.
type Signer interface {
	Keypair() (xrpl.Keypair, error)
}

// PaymentIntent is a user's request to move value.
type PaymentIntent struct {
	ID             string
	TokenKind      ledger.TokenKind
	Amount         decimal.Decimal
	Destination    string
	DestinationTag *uint32
}

// Validate checks the intent without consulting the ledger.
func (i PaymentIntent) Validate() error {
	if i.TokenKind != ledger.KindPrimary && i.TokenKind != ledger.KindIssued {
		return fmt.Errorf("%w: unknown token kind %q", ErrInvalidIntent, i.TokenKind)
	}
	if !i.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidIntent)
	}
	if !xrpl.IsValidAddress(i.Destination) {
		return fmt.Errorf("%w: destination %q is not a valid address", ErrInvalidIntent, i.Destination)
	}
	return nil
}

// Config tunes a Builder.
type Config struct {
	Asset               ledger.Asset
	Retry               RetryPolicy
	TrustLineMinPrimary decimal.Decimal
}

// Builder constructs, prepares, signs and submits transactions.
type Builder struct {
	ledger  ledger.Client
	cfg     Config
	metrics metrics.Collector
	logger  *slog.Logger
}

// New constructs a Builder. A zero Retry falls back to DefaultRetryPolicy.
func New(client ledger.Client, cfg Config, collector metrics.Collector, logger *slog.Logger) *Builder {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
		cfg.Retry.Backoff = DefaultRetryPolicy.Backoff
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = func(err error) bool { return !errors.Is(err, ledger.ErrAccountNotFound) }
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{ledger: client, cfg: cfg, metrics: collector, logger: logger}
}

// Asset returns the issued asset this builder pays in.
func (b *Builder) Asset() ledger.Asset { return b.cfg.Asset }

// BuildPayment maps intent to a Payment from the given account.
func (b *Builder) BuildPayment(intent PaymentIntent, from string) (xrpl.Transaction, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	var amount xrpl.Amount
	switch intent.TokenKind {
	case ledger.KindPrimary:
		drops, err := xrpl.DropsFromXRP(intent.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
		}
		amount = xrpl.NativeAmount(drops)
	case ledger.KindIssued:
		amount = xrpl.Amount{Issued: &xrpl.IssuedAmount{
			Currency: b.cfg.Asset.Currency,
			Issuer:   b.cfg.Asset.Issuer,
			Value:    intent.Amount,
		}}
	}
	payment, err := xrpl.NewPayment(from, intent.Destination, amount, intent.DestinationTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	return payment, nil
}

// ResolveSequencingInfo fetches fee and sequence for address under the retry
// policy. An unfunded account is returned as ledger.ErrAccountNotFound
// without retrying.
func (b *Builder) ResolveSequencingInfo(ctx context.Context, address string) (ledger.SequencingInfo, error) {
	var info ledger.SequencingInfo
	attempts, err := b.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		info, err = b.ledger.SequencingInfo(ctx, address)
		b.metrics.RecordSequencingAttempt(err == nil)
		if err != nil {
			b.logger.Warn("sequencing info attempt failed", slog.String("address", address), slog.String("error", err.Error()))
		}
		return err
	})
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		return ledger.SequencingInfo{}, err
	default:
		return ledger.SequencingInfo{}, fmt.Errorf("%w after %d attempts: %v", ErrSequencingUnavailable, attempts, err)
	}
}

// Prepare returns a copy of tx carrying fresh sequencing info.
func (b *Builder) Prepare(ctx context.Context, tx xrpl.Transaction) (xrpl.Transaction, error) {
	info, err := b.ResolveSequencingInfo(ctx, tx.Base().Account)
	if err != nil {
		return nil, err
	}
	prepared := tx.Clone()
	base := prepared.Base()
	base.Sequence = info.Sequence
	base.Fee = info.Fee
	base.LastLedgerSequence = info.LastLedgerSequence
	return prepared, nil
}

// Sign signs a copy of tx with signer's key. It performs no I/O and is
// deterministic for a given key and transaction.
func Sign(tx xrpl.Transaction, signer Signer) (ledger.SignedTransaction, error) {
	kp, err := signer.Keypair()
	if err != nil {
		return ledger.SignedTransaction{}, fmt.Errorf("%w: %v", ErrSigningRejected, err)
	}
	signed := tx.Clone()
	blob, hash, err := xrpl.Sign(signed, kp)
	if err != nil {
		return ledger.SignedTransaction{}, fmt.Errorf("%w: %v", ErrSigningRejected, err)
	}
	return ledger.SignedTransaction{Tx: signed, Blob: blob, Hash: hash}, nil
}

// Submit hands signed to the ledger and records the outcome.
func (b *Builder) Submit(ctx context.Context, kind string, signed ledger.SignedTransaction) (ledger.Outcome, error) {
	start := time.Now()
	outcome, err := b.ledger.Submit(ctx, signed)
	result := "success"
	switch {
	case errors.Is(err, ledger.ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	case !outcome.Succeeded():
		result = string(outcome.Failure.Reason)
	}
	b.metrics.RecordSubmission(kind, result, time.Since(start))
	b.logger.Info("transaction outcome",
		slog.String("kind", kind),
		slog.String("hash", signed.Hash),
		slog.String("result", result),
	)
	return outcome, err
}

// SignAndSubmit prepares, signs and submits tx.
func (b *Builder) SignAndSubmit(ctx context.Context, kind string, tx xrpl.Transaction, signer Signer) (ledger.Outcome, error) {
	prepared, err := b.Prepare(ctx, tx)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return ledger.Failed(ledger.ReasonAccountUnfunded, "actNotFound", ""), nil
		}
		return ledger.Outcome{}, err
	}
	signed, err := Sign(prepared, signer)
	if err != nil {
		if errors.Is(err, ErrSigningRejected) {
			return ledger.Failed(ledger.ReasonUserRejectedSigning, "", ""), nil
		}
		return ledger.Outcome{}, err
	}
	return b.Submit(ctx, kind, signed)
}

// HasTrustLine reports whether address holds a line toward issuer for currency.
func (b *Builder) HasTrustLine(ctx context.Context, address, issuer, currency string) (bool, error) {
	lines, err := b.ledger.GetTrustLines(ctx, address, issuer)
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if line.Peer == issuer && xrpl.SameCurrency(line.Currency, currency) {
			return true, nil
		}
	}
	return false, nil
}

// EstablishTrustLine opens a trust line from signer's account toward issuer
// for currency. It is a no-op when a matching line exists and fails fast when
// the account is unfunded or holds less than the configured minimum.
func (b *Builder) EstablishTrustLine(ctx context.Context, signer Signer, issuer, currency string, limit decimal.Decimal) (ledger.Outcome, error) {
	kp, err := signer.Keypair()
	if err != nil {
		return ledger.Failed(ledger.ReasonUserRejectedSigning, "", ""), nil
	}
	address := kp.Address()

	exists, err := b.HasTrustLine(ctx, address, issuer, currency)
	if err != nil {
		return ledger.Outcome{}, err
	}
	if exists {
		b.logger.Info("trust line already present", slog.String("address", address), slog.String("issuer", issuer))
		return ledger.Outcome{Noop: true}, nil
	}

	balances, err := b.ledger.GetBalances(ctx, address)
	if err != nil {
		return ledger.Outcome{}, err
	}
	if !balances.Exists {
		return ledger.Failed(ledger.ReasonAccountUnfunded, "actNotFound",
			"Your account is not activated yet. Send some XRP to activate your account first."), nil
	}
	if balances.Primary.LessThan(b.cfg.TrustLineMinPrimary) {
		return ledger.Failed(ledger.ReasonInsufficientBalance, "",
			fmt.Sprintf("Insufficient XRP balance. You need at least %s XRP to set up a trust line (current balance: %s XRP).",
				b.cfg.TrustLineMinPrimary, balances.Primary)), nil
	}

	tx, err := xrpl.NewTrustSet(address, issuer, currency, limit)
	if err != nil {
		return ledger.Outcome{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	return b.SignAndSubmit(ctx, KindTrustSet, tx, signer)
}
