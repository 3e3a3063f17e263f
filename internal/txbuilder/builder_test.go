package txbuilder

import (
	"context"
	"errors"
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
)

type keySigner struct{ kp xrpl.Keypair }

func (k keySigner) Keypair() (xrpl.Keypair, error) { return k.kp, nil }

func newSigner(t *testing.T, algo xrpl.Algorithm) keySigner {
	t.Helper()
	seed, err := xrpl.GenerateSeed(nil, algo)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	kp, err := xrpl.DeriveKeypair(seed)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return keySigner{kp: kp}
}

func newBuilder(l ledger.Client, collector metrics.Collector) *Builder {
	return New(l, Config{
		Asset:               ledger.Asset{Currency: testCurrency, Issuer: testIssuer},
		Retry:               RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
		TrustLineMinPrimary: decimal.NewFromInt(11),
	}, collector, logging.Discard())
}

func TestBuildPaymentPrimaryUsesExactDrops(t *testing.T) {
	b := newBuilder(ledger.NewInMemory(ledger.Asset{}), nil)
	from := newSigner(t, xrpl.Ed25519).kp.Address()

	tx, err := b.BuildPayment(PaymentIntent{
		TokenKind:   ledger.KindPrimary,
		Amount:      decimal.RequireFromString("0.1"),
		Destination: testIssuer,
	}, from)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := tx.(*xrpl.Payment)
	if !p.Amount.IsNative() || p.Amount.Drops != 100_000 {
		t.Fatalf("expected 100000 drops, got %+v", p.Amount)
	}
}

func TestBuildPaymentIssuedEmbedsAsset(t *testing.T) {
	b := newBuilder(ledger.NewInMemory(ledger.Asset{}), nil)
	from := newSigner(t, xrpl.Ed25519).kp.Address()
	tag := uint32(7)

	tx, err := b.BuildPayment(PaymentIntent{
		TokenKind:      ledger.KindIssued,
		Amount:         decimal.NewFromInt(25),
		Destination:    testIssuer,
		DestinationTag: &tag,
	}, from)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := tx.(*xrpl.Payment)
	if p.Amount.Issued == nil || p.Amount.Issued.Issuer != testIssuer || p.Amount.Issued.Currency != testCurrency {
		t.Fatalf("unexpected issued amount %+v", p.Amount.Issued)
	}
	if p.DestinationTag == nil || *p.DestinationTag != 7 {
		t.Fatalf("destination tag not carried")
	}
}

func TestBuildPaymentRejectsInvalidIntent(t *testing.T) {
	b := newBuilder(ledger.NewInMemory(ledger.Asset{}), nil)
	from := newSigner(t, xrpl.Ed25519).kp.Address()
	cases := []PaymentIntent{
		{TokenKind: ledger.KindPrimary, Amount: decimal.Zero, Destination: testIssuer},
		{TokenKind: ledger.KindPrimary, Amount: decimal.NewFromInt(1), Destination: "nope"},
		{TokenKind: ledger.KindPrimary, Amount: decimal.RequireFromString("0.0000001"), Destination: testIssuer},
		{TokenKind: "doge", Amount: decimal.NewFromInt(1), Destination: testIssuer},
		{TokenKind: ledger.KindPrimary, Amount: decimal.NewFromInt(1), Destination: from},
	}
	for i, intent := range cases {
		if _, err := b.BuildPayment(intent, from); !errors.Is(err, ErrInvalidIntent) {
			t.Fatalf("case %d: expected invalid intent, got %v", i, err)
		}
	}
}

func TestResolveSequencingInfoExhaustsRetries(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{})
	signer := newSigner(t, xrpl.Ed25519)
	ledger.SeedBalance(l, signer.kp.Address(), 50*xrpl.DropsPerXRP)
	ledger.FailNext(l, "sequencing", 3)
	collector := metrics.NewMemoryCollector()
	b := newBuilder(l, collector)

	tx, err := b.BuildPayment(PaymentIntent{TokenKind: ledger.KindPrimary, Amount: decimal.NewFromInt(10), Destination: testIssuer}, signer.kp.Address())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out, err := b.SignAndSubmit(context.Background(), KindPayment, tx, signer)
	if !errors.Is(err, ErrSequencingUnavailable) {
		t.Fatalf("expected sequencing unavailable, got %v (%+v)", err, out)
	}
	if collector.SequencingAttempts(false) != 3 {
		t.Fatalf("expected 3 attempts, got %d", collector.SequencingAttempts(false))
	}
	if ledger.Submissions(l) != 0 {
		t.Fatalf("submit must not be called")
	}
}

func TestResolveSequencingInfoRecoversWithinBudget(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{})
	signer := newSigner(t, xrpl.Ed25519)
	ledger.SeedBalance(l, signer.kp.Address(), 50*xrpl.DropsPerXRP)
	ledger.FailNext(l, "sequencing", 2)

	info, err := newBuilder(l, nil).ResolveSequencingInfo(context.Background(), signer.kp.Address())
	if err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if info.Sequence != 1 || info.Fee < ledger.MinimumFee {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestResolveSequencingInfoDoesNotRetryUnfunded(t *testing.T) {
	collector := metrics.NewMemoryCollector()
	b := newBuilder(ledger.NewInMemory(ledger.Asset{}), collector)
	_, err := b.ResolveSequencingInfo(context.Background(), newSigner(t, xrpl.Ed25519).kp.Address())
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
	if collector.SequencingAttempts(true)+collector.SequencingAttempts(false) != 1 {
		t.Fatalf("expected a single attempt")
	}
}

func TestSignIsDeterministicAndPure(t *testing.T) {
	signer := newSigner(t, xrpl.Secp256k1)
	p, err := xrpl.NewPayment(signer.kp.Address(), testIssuer, xrpl.NativeAmount(1_000_000), nil)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	p.Sequence, p.Fee = 3, 12

	first, err := Sign(p, signer)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, _ := Sign(p, signer)
	if first.Hash != second.Hash {
		t.Fatalf("expected deterministic signature")
	}
	if len(p.TxnSignature) != 0 {
		t.Fatalf("sign mutated its input")
	}

	other := newSigner(t, xrpl.Secp256k1)
	if _, err := Sign(p, other); !errors.Is(err, ErrSigningRejected) {
		t.Fatalf("expected foreign key rejection, got %v", err)
	}
}

func TestEstablishTrustLineIsIdempotent(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{Currency: testCurrency, Issuer: testIssuer})
	signer := newSigner(t, xrpl.Ed25519)
	ledger.SeedBalance(l, testIssuer, 100*xrpl.DropsPerXRP)
	ledger.SeedBalance(l, signer.kp.Address(), 20*xrpl.DropsPerXRP)
	b := newBuilder(l, nil)
	ctx := context.Background()

	first, err := b.EstablishTrustLine(ctx, signer, testIssuer, testCurrency, decimal.NewFromInt(1_000_000_000))
	if err != nil || !first.Succeeded() || first.Noop {
		t.Fatalf("expected submitted trust line, got %+v %v", first, err)
	}
	second, err := b.EstablishTrustLine(ctx, signer, testIssuer, "AIDA", decimal.NewFromInt(1_000_000_000))
	if err != nil || !second.Succeeded() || !second.Noop {
		t.Fatalf("expected no-op, got %+v %v", second, err)
	}
	if ledger.Submissions(l) != 1 {
		t.Fatalf("expected exactly one submission, got %d", ledger.Submissions(l))
	}
}

func TestEstablishTrustLineFailsFastWhenUnderfunded(t *testing.T) {
	l := ledger.NewInMemory(ledger.Asset{Currency: testCurrency, Issuer: testIssuer})
	b := newBuilder(l, nil)
	ctx := context.Background()

	unfunded := newSigner(t, xrpl.Ed25519)
	out, err := b.EstablishTrustLine(ctx, unfunded, testIssuer, testCurrency, decimal.NewFromInt(1))
	if err != nil || out.Succeeded() || out.Failure.Reason != ledger.ReasonAccountUnfunded {
		t.Fatalf("expected account unfunded, got %+v %v", out, err)
	}

	poor := newSigner(t, xrpl.Ed25519)
	ledger.SeedBalance(l, poor.kp.Address(), 5*xrpl.DropsPerXRP)
	out, err = b.EstablishTrustLine(ctx, poor, testIssuer, testCurrency, decimal.NewFromInt(1))
	if err != nil || out.Succeeded() || out.Failure.Reason != ledger.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient balance, got %+v %v", out, err)
	}
	if ledger.Submissions(l) != 0 {
		t.Fatalf("expected no submissions")
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}
	go cancel()
	attempts, err := policy.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil || attempts != 1 || calls != 1 {
		t.Fatalf("expected to stop after one attempt, got %d/%d %v", attempts, calls, err)
	}
}
