package xrpl

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DropsPerXRP is the fixed integer scale between XRP and its smallest unit.
const DropsPerXRP = 1_000_000

const (
	maxDrops        = uint64(100_000_000_000) * DropsPerXRP
	minMantissa     = 1_000_000_000_000_000
	maxMantissa     = 9_999_999_999_999_999
	minExponent     = -96
	maxExponent     = 80
	issuedBit       = uint64(1) << 63
	positiveBit     = uint64(1) << 62
	exponentShift   = 54
	issuedZeroValue = issuedBit
)

var (
	// ErrInvalidAmount covers negative, zero, out-of-range and over-precise amounts.
	ErrInvalidAmount = errors.New("xrpl: invalid amount")
	// ErrInvalidCurrency covers currency codes that cannot be encoded in 20 bytes.
	ErrInvalidCurrency = errors.New("xrpl: invalid currency code")
)

var dropsScale = decimal.NewFromInt(DropsPerXRP)

// DropsFromXRP converts an XRP amount to drops. Amounts finer than one drop
// are rejected rather than rounded.
func DropsFromXRP(xrp decimal.Decimal) (uint64, error) {
	if !xrp.IsPositive() {
		return 0, fmt.Errorf("%w: %s XRP must be positive", ErrInvalidAmount, xrp)
	}
	drops := xrp.Mul(dropsScale)
	if !drops.Equal(drops.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s XRP is finer than one drop", ErrInvalidAmount, xrp)
	}
	if drops.GreaterThan(decimal.NewFromBigInt(new(big.Int).SetUint64(maxDrops), 0)) {
		return 0, fmt.Errorf("%w: %s XRP exceeds supply", ErrInvalidAmount, xrp)
	}
	return drops.BigInt().Uint64(), nil
}

// XRPFromDrops is the exact inverse of DropsFromXRP.
func XRPFromDrops(drops uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(drops), 0).Div(dropsScale)
}

// IssuedAmount is a non-native amount held over a trust line.
type IssuedAmount struct {
	Currency string
	Issuer   string
	Value    decimal.Decimal
}

// Amount is either a native drops amount or an issued amount.
type Amount struct {
	Drops  uint64
	Issued *IssuedAmount
}

// NativeAmount builds a drops amount.
func NativeAmount(drops uint64) Amount { return Amount{Drops: drops} }

// IsNative reports whether a is denominated in drops.
func (a Amount) IsNative() bool { return a.Issued == nil }

func (a Amount) String() string {
	if a.IsNative() {
		return XRPFromDrops(a.Drops).String() + " XRP"
	}
	return a.Issued.Value.String() + " " + CurrencyDisplay(a.Issued.Currency)
}

// Validate checks range and identifiers without serializing.
func (a Amount) Validate() error {
	if a.IsNative() {
		if a.Drops == 0 || a.Drops > maxDrops {
			return fmt.Errorf("%w: %d drops", ErrInvalidAmount, a.Drops)
		}
		return nil
	}
	if _, err := CurrencyBytes(a.Issued.Currency); err != nil {
		return err
	}
	if !IsValidAddress(a.Issued.Issuer) {
		return fmt.Errorf("%w: bad issuer %q", ErrInvalidAmount, a.Issued.Issuer)
	}
	if a.Issued.Value.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, a.Issued.Value)
	}
	_, err := encodeIssuedValue(a.Issued.Value)
	return err
}

func (a Amount) encode() ([]byte, error) {
	if a.IsNative() {
		if a.Drops > maxDrops {
			return nil, fmt.Errorf("%w: %d drops", ErrInvalidAmount, a.Drops)
		}
		return binary.BigEndian.AppendUint64(nil, a.Drops|positiveBit), nil
	}
	value, err := encodeIssuedValue(a.Issued.Value)
	if err != nil {
		return nil, err
	}
	currency, err := CurrencyBytes(a.Issued.Currency)
	if err != nil {
		return nil, err
	}
	issuer, err := DecodeAddress(a.Issued.Issuer)
	if err != nil {
		return nil, err
	}
	out := binary.BigEndian.AppendUint64(make([]byte, 0, 48), value)
	out = append(out, currency[:]...)
	return append(out, issuer[:]...), nil
}

// encodeIssuedValue packs a decimal into the 64-bit mantissa/exponent form
// with the mantissa normalized to 16 significant digits.
func encodeIssuedValue(v decimal.Decimal) (uint64, error) {
	if v.IsZero() {
		return issuedZeroValue, nil
	}
	positive := v.IsPositive()
	mantissa := new(big.Int).Abs(v.Coefficient())
	exponent := int(v.Exponent())

	ten := big.NewInt(10)
	minM := big.NewInt(minMantissa)
	maxM := big.NewInt(maxMantissa)
	rem := new(big.Int)
	for mantissa.Cmp(maxM) > 0 {
		q, r := new(big.Int).QuoRem(mantissa, ten, rem)
		if r.Sign() != 0 {
			return 0, fmt.Errorf("%w: %s has more than 16 significant digits", ErrInvalidAmount, v)
		}
		mantissa = q
		exponent++
	}
	for mantissa.Cmp(minM) < 0 {
		mantissa.Mul(mantissa, ten)
		exponent--
	}
	if exponent < minExponent || exponent > maxExponent {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, v)
	}
	bits := issuedBit | uint64(exponent+97)<<exponentShift | mantissa.Uint64()
	if positive {
		bits |= positiveBit
	}
	return bits, nil
}

// CurrencyBytes encodes a currency code into its 20-byte ledger form.
func CurrencyBytes(code string) ([20]byte, error) {
	var out [20]byte
	switch {
	case len(code) == 40:
		raw, err := hex.DecodeString(code)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
		}
		copy(out[:], raw)
	case len(code) == 3 && code != "XRP":
		copy(out[12:15], code)
	case len(code) > 3 && len(code) <= 20:
		// non-standard codes are carried as zero-padded ASCII
		copy(out[:], code)
	default:
		return out, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return out, nil
}

// CurrencyDisplay renders a hex currency code as its ASCII name when it is printable.
func CurrencyDisplay(code string) string {
	if len(code) != 40 {
		return code
	}
	raw, err := hex.DecodeString(code)
	if err != nil {
		return code
	}
	name := strings.TrimRight(string(raw), "\x00")
	for _, r := range name {
		if r < 0x20 || r > 0x7e {
			return code
		}
	}
	return name
}

// SameCurrency compares two currency codes by their ledger encoding.
func SameCurrency(a, b string) bool {
	if a == b {
		return true
	}
	ab, err := CurrencyBytes(a)
	if err != nil {
		return false
	}
	bb, err := CurrencyBytes(b)
	return err == nil && ab == bb
}
