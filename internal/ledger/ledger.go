package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

var (
	// ErrUnreachable wraps transport failures: dial errors, dropped connections.
	ErrUnreachable = errors.New("ledger unreachable")

	// ErrTimeout indicates a round trip or a finality wait exceeded its budget.
	// For submissions the outcome is unknown, not failed.
	ErrTimeout = errors.New("ledger timeout")

	// ErrAccountNotFound is returned where an unfunded account cannot be
	// represented as zero values, e.g. sequencing info.
	ErrAccountNotFound = errors.New("account not found")
)

// TokenKind distinguishes the native asset from the configured issued asset.
type TokenKind string

const (
	KindPrimary TokenKind = "primary"
	KindIssued  TokenKind = "issued"
)

// ParseTokenKind accepts the canonical names plus "XRP" and the display name
// of the issued asset (e.g. "AIDA").
func ParseTokenKind(s, issuedName string) (TokenKind, error) {
	switch {
	case strings.EqualFold(s, string(KindPrimary)), strings.EqualFold(s, "xrp"):
		return KindPrimary, nil
	case strings.EqualFold(s, string(KindIssued)), issuedName != "" && strings.EqualFold(s, issuedName):
		return KindIssued, nil
	default:
		return "", fmt.Errorf("unknown token %q", s)
	}
}

// Asset identifies an issued currency.
type Asset struct {
	Currency string
	Issuer   string
}

// Name is the human readable currency code.
func (a Asset) Name() string { return xrpl.CurrencyDisplay(a.Currency) }

// Balances is the on-ledger state of one account. Exists is false for
// unfunded accounts, whose balances read as zero.
type Balances struct {
	Primary decimal.Decimal
	Issued  decimal.Decimal
	Exists  bool
}

// Of returns the balance for kind.
func (b Balances) Of(kind TokenKind) decimal.Decimal {
	if kind == KindIssued {
		return b.Issued
	}
	return b.Primary
}

// TrustLine is one account's line toward a peer (the issuer).
type TrustLine struct {
	Peer     string
	Currency string
	Balance  decimal.Decimal
	Limit    decimal.Decimal
}

// SequencingInfo is the fee and ordering basis needed to make a transaction valid.
type SequencingInfo struct {
	Sequence           uint32
	Fee                uint64
	LastLedgerSequence uint32
}

// SignedTransaction is a transaction ready for submission.
type SignedTransaction struct {
	Tx   xrpl.Transaction
	Blob []byte
	Hash string
}

// Reason classifies a failed outcome.
type Reason string

const (
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonMissingTrustLine    Reason = "missing_trust_line"
	ReasonAccountUnfunded     Reason = "account_unfunded"
	ReasonUserRejectedSigning Reason = "user_rejected_signing"
	ReasonUnknown             Reason = "unknown"
)

// Failure describes why a transaction did not succeed. Code preserves the raw
// ledger result code when there is one.
type Failure struct {
	Reason Reason
	Code   string
	Detail string
}

// Message is the user-facing explanation.
func (f *Failure) Message() string {
	if f.Detail != "" {
		return f.Detail
	}
	switch f.Reason {
	case ReasonInsufficientBalance:
		return "Insufficient balance to complete transaction"
	case ReasonMissingTrustLine:
		return "A trust line for this token is missing; the account must set one up first"
	case ReasonAccountUnfunded:
		return "Account is not activated; send some XRP to it first"
	case ReasonUserRejectedSigning:
		return "Signing was rejected"
	default:
		if f.Code != "" {
			return "Transaction failed: " + f.Code
		}
		return "Transaction failed"
	}
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s (%s): %s", f.Reason, f.Code, f.Message())
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Message())
}

// Outcome is either a success carrying the ledger hash or a classified failure.
// Noop marks a success that required no submission.
type Outcome struct {
	Hash    string
	Noop    bool
	Failure *Failure
}

// Success builds a successful outcome.
func Success(hash string) Outcome { return Outcome{Hash: hash} }

// Failed builds a failed outcome.
func Failed(reason Reason, code, detail string) Outcome {
	return Outcome{Failure: &Failure{Reason: reason, Code: code, Detail: detail}}
}

// Rejected builds a failed outcome from a raw ledger result code.
func Rejected(code string) Outcome {
	return Failed(Classify(code), code, destinationDetail(code))
}

// destinationDetail explains result codes caused by the receiving account,
// which would otherwise read as a problem with the sender.
func destinationDetail(code string) string {
	switch code {
	case "tecNO_DST", "tecNO_DST_INSUF_XRP":
		return "Destination account does not exist; send at least the 10 XRP reserve to activate it"
	case "tecNO_LINE", "tecNO_AUTH":
		return "The destination has no trust line for this token; it must set one up before it can receive it"
	case "tecDST_TAG_NEEDED":
		return "The destination requires a destination tag"
	}
	return ""
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool { return o.Failure == nil }

// Classify maps ledger result codes onto user-actionable reasons.
func Classify(code string) Reason {
	switch code {
	case "tecUNFUNDED", "tecUNFUNDED_PAYMENT", "tecUNFUNDED_OFFER", "tecINSUFFICIENT_RESERVE",
		"tecINSUF_RESERVE_LINE", "tecNO_LINE_INSUF_RESERVE", "terINSUF_FEE_B", "telINSUF_FEE_P":
		return ReasonInsufficientBalance
	// tecPATH_DRY is what a payment of an issued asset without a line produces
	case "tecNO_LINE", "tecNO_LINE_REDUNDANT", "tecPATH_DRY", "tecNO_AUTH":
		return ReasonMissingTrustLine
	case "terNO_ACCOUNT", "tecNO_DST", "tecNO_DST_INSUF_XRP", "actNotFound":
		return ReasonAccountUnfunded
	default:
		return ReasonUnknown
	}
}

// Client is the gateway to the distributed ledger. Implementations perform
// one round trip per call and do not retry.
type Client interface {
	GetBalances(ctx context.Context, address string) (Balances, error)
	GetTrustLines(ctx context.Context, address, issuer string) ([]TrustLine, error)
	SequencingInfo(ctx context.Context, address string) (SequencingInfo, error)
	Submit(ctx context.Context, tx SignedTransaction) (Outcome, error)
}

// LastLedgerOffset is how many ledgers a transaction stays eligible for inclusion.
const LastLedgerOffset = 20

// MinimumFee is the floor applied to server-reported fees, in drops.
const MinimumFee = 12
