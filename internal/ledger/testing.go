package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

// SeedBalance is a test helper that funds an account with drops when using the
// in-memory ledger, creating the account if needed.
func SeedBalance(l Client, address string, drops uint64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if acct, exists := mem.accounts[address]; exists {
			acct.drops = drops
			return
		}
		mem.accounts[address] = newMemAccount(drops)
	}
}

// SeedTrustLine opens a trust line toward the configured issuer holding balance.
// The account must already exist.
func SeedTrustLine(l Client, address string, limit, balance decimal.Decimal) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if acct, exists := mem.accounts[address]; exists {
			acct.lines[mem.asset.Issuer] = &memLine{limit: limit, balance: balance}
		}
	}
}

// FailNext makes the next n calls of op return ErrUnreachable. op is one of
// "balances", "trustlines", "sequencing" or "submit".
func FailNext(l Client, op string, n int) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.failures[op] = n
	}
}

// SetUnreachable toggles a full outage.
func SetUnreachable(l Client, down bool) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.unreachable = down
	}
}

// Submissions counts transactions applied to the ledger, successful or not.
func Submissions(l Client) int {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		return len(mem.submitted)
	}
	return 0
}

// PrimaryOf returns an account's native balance in XRP.
func PrimaryOf(l Client, address string) decimal.Decimal {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if acct, exists := mem.accounts[address]; exists {
			return xrpl.XRPFromDrops(acct.drops)
		}
	}
	return decimal.Zero
}
