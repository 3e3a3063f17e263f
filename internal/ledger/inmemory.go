package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

const (
	inMemoryBaseReserve  = 10 * xrpl.DropsPerXRP
	inMemoryOwnerReserve = 2 * xrpl.DropsPerXRP
	inMemoryFee          = MinimumFee
)

type memLine struct {
	limit   decimal.Decimal
	balance decimal.Decimal
}

type memAccount struct {
	drops    uint64
	sequence uint32
	lines    map[string]*memLine // keyed by issuer
}

type inMemoryLedger struct {
	mu          sync.Mutex
	asset       Asset
	accounts    map[string]*memAccount
	ledgerIndex uint32
	submitted   map[string]string // hash -> engine result
	failures    map[string]int
	unreachable bool
}

// NewInMemory creates a concurrency-safe simulated ledger useful for unit
// tests and offline runs. It validates signatures and sequence numbers and
// applies payments and trust lines for the single configured issued asset.
func NewInMemory(asset Asset) Client {
	return &inMemoryLedger{
		asset:       asset,
		accounts:    make(map[string]*memAccount),
		ledgerIndex: 1000,
		submitted:   make(map[string]string),
		failures:    make(map[string]int),
	}
}

func (l *inMemoryLedger) fail(op string) error {
	if l.unreachable {
		return fmt.Errorf("%w: simulated outage", ErrUnreachable)
	}
	if n := l.failures[op]; n > 0 {
		l.failures[op] = n - 1
		return fmt.Errorf("%w: simulated %s failure", ErrUnreachable, op)
	}
	return nil
}

func (l *inMemoryLedger) GetBalances(_ context.Context, address string) (Balances, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail("balances"); err != nil {
		return Balances{}, err
	}
	acct, ok := l.accounts[address]
	if !ok {
		return Balances{Primary: decimal.Zero, Issued: decimal.Zero}, nil
	}
	issued := decimal.Zero
	if line, ok := acct.lines[l.asset.Issuer]; ok {
		issued = line.balance
	}
	return Balances{Primary: xrpl.XRPFromDrops(acct.drops), Issued: issued, Exists: true}, nil
}

func (l *inMemoryLedger) GetTrustLines(_ context.Context, address, issuer string) ([]TrustLine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail("trustlines"); err != nil {
		return nil, err
	}
	acct, ok := l.accounts[address]
	if !ok {
		return nil, nil
	}
	var lines []TrustLine
	for peer, line := range acct.lines {
		if issuer != "" && peer != issuer {
			continue
		}
		lines = append(lines, TrustLine{Peer: peer, Currency: l.asset.Currency, Balance: line.balance, Limit: line.limit})
	}
	return lines, nil
}

func (l *inMemoryLedger) SequencingInfo(_ context.Context, address string) (SequencingInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail("sequencing"); err != nil {
		return SequencingInfo{}, err
	}
	acct, ok := l.accounts[address]
	if !ok {
		return SequencingInfo{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return SequencingInfo{
		Sequence:           acct.sequence,
		Fee:                inMemoryFee,
		LastLedgerSequence: l.ledgerIndex + LastLedgerOffset,
	}, nil
}

func (l *inMemoryLedger) Submit(_ context.Context, signed SignedTransaction) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail("submit"); err != nil {
		return Outcome{}, err
	}
	if xrpl.HashBlob(signed.Blob) != signed.Hash {
		return Rejected("temINVALID"), nil
	}
	if result, seen := l.submitted[signed.Hash]; seen {
		return l.outcome(signed.Hash, result), nil
	}

	tx := signed.Tx
	base := tx.Base()
	payload, err := xrpl.SigningPayload(tx)
	if err != nil {
		return Rejected("temMALFORMED"), nil
	}
	if err := xrpl.Verify(base.SigningPubKey, payload, base.TxnSignature); err != nil {
		return Rejected("temBAD_SIGNATURE"), nil
	}

	src, ok := l.accounts[base.Account]
	if !ok {
		return Rejected("terNO_ACCOUNT"), nil
	}
	switch {
	case base.Sequence < src.sequence:
		return Rejected("tefPAST_SEQ"), nil
	case base.Sequence > src.sequence:
		return Rejected("terPRE_SEQ"), nil
	}
	if base.LastLedgerSequence != 0 && base.LastLedgerSequence <= l.ledgerIndex {
		return Rejected("tefMAX_LEDGER"), nil
	}
	if src.drops < base.Fee {
		return Rejected("terINSUF_FEE_B"), nil
	}

	var result string
	switch t := tx.(type) {
	case *xrpl.Payment:
		result = l.applyPayment(src, t)
	case *xrpl.TrustSet:
		result = l.applyTrustSet(src, t)
	default:
		return Rejected("temUNKNOWN"), nil
	}

	// tes and tec results both consume the fee and the sequence
	src.drops -= base.Fee
	src.sequence++
	l.ledgerIndex++
	l.submitted[signed.Hash] = result
	return l.outcome(signed.Hash, result), nil
}

func (l *inMemoryLedger) outcome(hash, result string) Outcome {
	if result == "tesSUCCESS" {
		return Success(hash)
	}
	out := Rejected(result)
	out.Hash = hash
	return out
}

func (l *inMemoryLedger) applyPayment(src *memAccount, p *xrpl.Payment) string {
	if p.Amount.IsNative() {
		if src.drops < p.Amount.Drops+p.Fee+l.reserve(src) {
			return "tecUNFUNDED_PAYMENT"
		}
		dst, ok := l.accounts[p.Destination]
		if !ok {
			if p.Amount.Drops < inMemoryBaseReserve {
				return "tecNO_DST_INSUF_XRP"
			}
			dst = newMemAccount(0)
			l.accounts[p.Destination] = dst
		}
		src.drops -= p.Amount.Drops
		dst.drops += p.Amount.Drops
		return "tesSUCCESS"
	}

	issued := p.Amount.Issued
	if issued.Issuer != l.asset.Issuer || !xrpl.SameCurrency(issued.Currency, l.asset.Currency) {
		return "tecPATH_DRY"
	}
	dst, ok := l.accounts[p.Destination]
	if !ok {
		return "tecNO_DST"
	}
	fromIssuer := p.Account == issued.Issuer
	toIssuer := p.Destination == issued.Issuer

	var srcLine, dstLine *memLine
	if !fromIssuer {
		if srcLine = src.lines[issued.Issuer]; srcLine == nil {
			return "tecPATH_DRY"
		}
		if srcLine.balance.LessThan(issued.Value) {
			return "tecUNFUNDED_PAYMENT"
		}
	}
	if !toIssuer {
		if dstLine = dst.lines[issued.Issuer]; dstLine == nil {
			return "tecNO_LINE"
		}
		if dstLine.balance.Add(issued.Value).GreaterThan(dstLine.limit) {
			return "tecPATH_PARTIAL"
		}
	}
	if srcLine != nil {
		srcLine.balance = srcLine.balance.Sub(issued.Value)
	}
	if dstLine != nil {
		dstLine.balance = dstLine.balance.Add(issued.Value)
	}
	return "tesSUCCESS"
}

func (l *inMemoryLedger) applyTrustSet(src *memAccount, t *xrpl.TrustSet) string {
	limit := t.LimitAmount
	if line, ok := src.lines[limit.Issuer]; ok {
		line.limit = limit.Value
		return "tesSUCCESS"
	}
	if _, ok := l.accounts[limit.Issuer]; !ok {
		return "tecNO_DST"
	}
	if src.drops < t.Fee+l.reserve(src)+inMemoryOwnerReserve {
		return "tecNO_LINE_INSUF_RESERVE"
	}
	src.lines[limit.Issuer] = &memLine{limit: limit.Value, balance: decimal.Zero}
	return "tesSUCCESS"
}

func (l *inMemoryLedger) reserve(acct *memAccount) uint64 {
	return inMemoryBaseReserve + uint64(len(acct.lines))*inMemoryOwnerReserve
}

func newMemAccount(drops uint64) *memAccount {
	return &memAccount{drops: drops, sequence: 1, lines: make(map[string]*memLine)}
}
