package balance

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/gptmeet/walletcore/internal/ledger"
)

// Rate converts one unit of a token to fiat and to API credits.
type Rate struct {
	USD     decimal.Decimal
	Credits decimal.Decimal
}

// Rates is the fixed conversion table per token kind.
type Rates struct {
	Primary Rate
	Issued  Rate
}

// DefaultRates returns the built-in table: 1 XRP = $0.50 = 100,000 credits,
// 1 issued unit = $0.10 = 200,000 credits.
func DefaultRates() Rates {
	return Rates{
		Primary: Rate{USD: decimal.RequireFromString("0.5"), Credits: decimal.NewFromInt(100_000)},
		Issued:  Rate{USD: decimal.RequireFromString("0.1"), Credits: decimal.NewFromInt(200_000)},
	}
}

type rateFile struct {
	Primary struct {
		USD     string `yaml:"usd"`
		Credits string `yaml:"credits"`
	} `yaml:"primary"`
	Issued struct {
		USD     string `yaml:"usd"`
		Credits string `yaml:"credits"`
	} `yaml:"issued"`
}

// LoadRates reads a YAML rate table. Entries left out keep their defaults.
//
//	primary:
//	  usd: 0.5
//	  credits: 100000
//	issued:
//	  usd: 0.1
//	  credits: 200000
func LoadRates(path string) (Rates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rates{}, fmt.Errorf("failed to read rates file: %w", err)
	}
	var raw rateFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Rates{}, fmt.Errorf("failed to parse rates file: %w", err)
	}

	rates := DefaultRates()
	fields := []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"primary.usd", raw.Primary.USD, &rates.Primary.USD},
		{"primary.credits", raw.Primary.Credits, &rates.Primary.Credits},
		{"issued.usd", raw.Issued.USD, &rates.Issued.USD},
		{"issued.credits", raw.Issued.Credits, &rates.Issued.Credits},
	}
	for _, f := range fields {
		if f.in == "" {
			continue
		}
		v, err := decimal.NewFromString(f.in)
		if err != nil {
			return Rates{}, fmt.Errorf("rates %s: %w", f.name, err)
		}
		if v.IsNegative() {
			return Rates{}, fmt.Errorf("rates %s: must not be negative", f.name)
		}
		*f.out = v
	}
	return rates, nil
}

func (r Rates) of(kind ledger.TokenKind) Rate {
	if kind == ledger.KindIssued {
		return r.Issued
	}
	return r.Primary
}

// Fiat returns the USD value of amount.
func (r Rates) Fiat(kind ledger.TokenKind, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.of(kind).USD)
}

// Credits returns the whole API credits amount buys.
func (r Rates) Credits(kind ledger.TokenKind, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.of(kind).Credits).Floor()
}
