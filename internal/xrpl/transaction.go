package xrpl

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// TxType is the numeric TransactionType field.
type TxType uint16

const (
	TxPayment  TxType = 0
	TxTrustSet TxType = 20
)

func (t TxType) String() string {
	switch t {
	case TxPayment:
		return "Payment"
	case TxTrustSet:
		return "TrustSet"
	default:
		return fmt.Sprintf("TxType(%d)", uint16(t))
	}
}

// ErrInvalidTransaction is returned when a transaction variant fails construction checks.
var ErrInvalidTransaction = errors.New("xrpl: invalid transaction")

// Common holds the fields every transaction kind carries. Fee, Sequence and
// LastLedgerSequence are filled from sequencing info before signing.
type Common struct {
	Account            string
	Fee                uint64
	Sequence           uint32
	LastLedgerSequence uint32
	Flags              uint32
	SigningPubKey      []byte
	TxnSignature       []byte
}

// Transaction is implemented by each supported transaction kind.
type Transaction interface {
	Type() TxType
	Base() *Common
	Validate() error
	Clone() Transaction
	fields() ([]field, error)
}

// Payment moves native or issued value to a destination.
type Payment struct {
	Common
	Destination    string
	Amount         Amount
	DestinationTag *uint32
}

// NewPayment builds a validated Payment.
func NewPayment(account, destination string, amount Amount, tag *uint32) (*Payment, error) {
	p := &Payment{Common: Common{Account: account}, Destination: destination, Amount: amount, DestinationTag: tag}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Payment) Type() TxType  { return TxPayment }
func (p *Payment) Base() *Common { return &p.Common }

func (p *Payment) Validate() error {
	if err := validateAccount(p.Account); err != nil {
		return err
	}
	if !IsValidAddress(p.Destination) {
		return fmt.Errorf("%w: destination %q is not a valid address", ErrInvalidTransaction, p.Destination)
	}
	if p.Destination == p.Account {
		return fmt.Errorf("%w: destination equals source", ErrInvalidTransaction)
	}
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if !p.Amount.IsNative() && !p.Amount.Issued.Value.IsPositive() {
		return fmt.Errorf("%w: payment amount must be positive", ErrInvalidAmount)
	}
	return nil
}

func (p *Payment) Clone() Transaction {
	c := *p
	c.Common = p.Common.clone()
	if p.DestinationTag != nil {
		tag := *p.DestinationTag
		c.DestinationTag = &tag
	}
	if p.Amount.Issued != nil {
		issued := *p.Amount.Issued
		c.Amount.Issued = &issued
	}
	return &c
}

func (p *Payment) fields() ([]field, error) {
	amount, err := p.Amount.encode()
	if err != nil {
		return nil, err
	}
	dest, err := DecodeAddress(p.Destination)
	if err != nil {
		return nil, err
	}
	fs := []field{
		{typeAmount, 1, amount},
		{typeAccountID, 3, vl(dest[:])},
	}
	if p.DestinationTag != nil {
		fs = append(fs, field{typeUInt32, 14, u32(*p.DestinationTag)})
	}
	return fs, nil
}

// TrustSet creates or modifies a trust line toward an issuer.
type TrustSet struct {
	Common
	LimitAmount IssuedAmount
}

// NewTrustSet builds a validated TrustSet with the given limit.
func NewTrustSet(account, issuer, currency string, limit decimal.Decimal) (*TrustSet, error) {
	t := &TrustSet{Common: Common{Account: account}, LimitAmount: IssuedAmount{Currency: currency, Issuer: issuer, Value: limit}}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TrustSet) Type() TxType  { return TxTrustSet }
func (t *TrustSet) Base() *Common { return &t.Common }

func (t *TrustSet) Validate() error {
	if err := validateAccount(t.Account); err != nil {
		return err
	}
	if t.LimitAmount.Issuer == t.Account {
		return fmt.Errorf("%w: cannot trust yourself", ErrInvalidTransaction)
	}
	limit := t.LimitAmount
	return Amount{Issued: &limit}.Validate()
}

func (t *TrustSet) Clone() Transaction {
	c := *t
	c.Common = t.Common.clone()
	return &c
}

func (t *TrustSet) fields() ([]field, error) {
	limit := t.LimitAmount
	amount, err := Amount{Issued: &limit}.encode()
	if err != nil {
		return nil, err
	}
	return []field{{typeAmount, 3, amount}}, nil
}

func (c Common) clone() Common {
	c.SigningPubKey = append([]byte(nil), c.SigningPubKey...)
	c.TxnSignature = append([]byte(nil), c.TxnSignature...)
	return c
}

func validateAccount(account string) error {
	if !IsValidAddress(account) {
		return fmt.Errorf("%w: account %q is not a valid address", ErrInvalidTransaction, account)
	}
	return nil
}

const explorerBase = "https://xrpscan.com"

// ExplorerTxURL links a transaction hash on the public explorer.
func ExplorerTxURL(hash string) string { return explorerBase + "/tx/" + hash }

// ExplorerAccountURL links an account on the public explorer.
func ExplorerAccountURL(address string) string { return explorerBase + "/account/" + address }
