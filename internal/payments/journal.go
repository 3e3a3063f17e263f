package payments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicatePayment means an entry with the same id was already journaled.
	ErrDuplicatePayment = errors.New("duplicate payment")
	// ErrEntryNotFound is returned when completing an unknown entry.
	ErrEntryNotFound = errors.New("journal entry not found")
)

// Journal entry kinds.
const (
	EntryPayment        = "payment"
	EntryTrustSet       = "trust_set"
	EntryCreditPurchase = "credit_purchase"
)

// Journal entry statuses.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// Entry records one submission attempt from this device.
type Entry struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Address     string          `json:"address"`
	Destination string          `json:"destination,omitempty"`
	Token       string          `json:"token,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	Hash        string          `json:"hash,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Code        string          `json:"code,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Completion is the terminal state written back to a pending entry.
type Completion struct {
	Status string
	Hash   string
	Reason string
	Code   string
}

// Journal keeps payment history. Begin is keyed by entry id so a retried
// request cannot submit twice. An entry that failed before anything reached
// the ledger (StatusError without a hash) is reopened instead, so the same id
// can be retried by hand.
type Journal interface {
	Begin(ctx context.Context, entry Entry) (Entry, error)
	Complete(ctx context.Context, id string, c Completion) (Entry, error)
	List(ctx context.Context, address string, limit int) ([]Entry, error)
	Purge(ctx context.Context, address string) error
}

type memoryJournal struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryJournal returns a process-local journal.
func NewMemoryJournal() Journal {
	return &memoryJournal{entries: make(map[string]Entry)}
}

func (j *memoryJournal) Begin(_ context.Context, entry Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if existing, ok := j.entries[entry.ID]; ok && !reopenable(existing) {
		return existing, ErrDuplicatePayment
	}
	now := time.Now().UTC()
	entry.Status = StatusPending
	entry.CreatedAt, entry.UpdatedAt = now, now
	j.entries[entry.ID] = entry
	return entry, nil
}

// reopenable reports whether e ended before a signed transaction was handed
// to the ledger.
func reopenable(e Entry) bool {
	return e.Status == StatusError && e.Hash == ""
}

func (j *memoryJournal) Complete(_ context.Context, id string, c Completion) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	entry.Status, entry.Hash, entry.Reason, entry.Code = c.Status, c.Hash, c.Reason, c.Code
	entry.UpdatedAt = time.Now().UTC()
	j.entries[id] = entry
	return entry, nil
}

func (j *memoryJournal) List(_ context.Context, address string, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.entries {
		if e.Address == address {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *memoryJournal) Purge(_ context.Context, address string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, e := range j.entries {
		if e.Address == address {
			delete(j.entries, id)
		}
	}
	return nil
}
