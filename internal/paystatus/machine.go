// Package paystatus tracks the settle-after-generation payment lifecycle
// shown to the shell.
package paystatus

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gptmeet/walletcore/internal/ledger"
)

// State is the discrete payment status.
type State string

const (
	Idle               State = "idle"
	AwaitingSettlement State = "awaiting_settlement"
	Settled            State = "settled"
	Failed             State = "failed"
)

// FailureMarker is the error text that classifies a generation as a failed payment.
const FailureMarker = "Payment failed"

const (
	DefaultDisplayWindow = 5 * time.Second
	DefaultSettleDelay   = 500 * time.Millisecond
	subscriberBuffer     = 16
)

// Status is a snapshot of the machine. Amount is set when Settled and
// Reason when Failed.
type Status struct {
	State     State     `json:"state"`
	Amount    string    `json:"amount,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// Config controls the machine's timers.
type Config struct {
	DisplayWindow time.Duration
	SettleDelay   time.Duration
}

// Machine is reactive: it changes only on generation signals, recorded
// payment results and its own timers.
type Machine struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	status     Status
	generating bool
	lastError  string
	lastAmount string
	lastHash   string
	resolved   bool
	epoch      uint64
	timer      *time.Timer
	subs       map[int]chan Status
	nextSub    int
}

// New returns an idle machine.
func New(cfg Config, logger *slog.Logger) *Machine {
	if cfg.DisplayWindow <= 0 {
		cfg.DisplayWindow = DefaultDisplayWindow
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		cfg:    cfg,
		logger: logger,
		status: Status{State: Idle, ChangedAt: time.Now().UTC()},
		subs:   make(map[int]chan Status),
	}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Generating reports whether a generation is in progress.
func (m *Machine) Generating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generating
}

// GenerationStarted records the flag only; payment is evaluated when the
// generation ends. The previous error is cleared.
func (m *Machine) GenerationStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generating = true
	m.lastError = ""
	m.resolved = false
}

// RecordError stores the error reported by the current operation.
func (m *Machine) RecordError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastError = message
}

// RecordPayment stores the amount spent by the current operation.
func (m *Machine) RecordPayment(amount string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAmount = amount
}

// RecordOutcome stores a payment's amount and result. A failed outcome is
// recorded as a payment failure error. When the machine is already
// awaiting settlement the outcome resolves it immediately.
func (m *Machine) RecordOutcome(amount string, out ledger.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAmount = amount
	m.lastHash = out.Hash
	m.resolved = true
	if !out.Succeeded() {
		m.lastError = FailureMarker + ": " + out.Failure.Message()
	}
	if m.status.State == AwaitingSettlement {
		m.settleLocked()
	}
}

// GenerationEnded moves to AwaitingSettlement, then to Failed when the
// recorded error is a payment failure, otherwise to Settled once the
// outcome is known or the settle delay elapses.
func (m *Machine) GenerationEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.generating {
		return
	}
	m.generating = false
	m.setLocked(Status{State: AwaitingSettlement, Amount: m.lastAmount})

	if strings.Contains(m.lastError, FailureMarker) || m.resolved {
		m.settleLocked()
		return
	}
	epoch := m.epoch
	m.scheduleLocked(m.cfg.SettleDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.epoch == epoch && m.status.State == AwaitingSettlement {
			m.settleLocked()
		}
	})
}

// Reset returns to Idle and forgets recorded results.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generating = false
	m.lastError, m.lastAmount, m.lastHash = "", "", ""
	m.resolved = false
	if m.status.State != Idle {
		m.setLocked(Status{State: Idle})
	} else {
		m.stopTimerLocked()
		m.epoch++
	}
}

// Subscribe returns a channel receiving every status change and a func
// to cancel the subscription. The current status is delivered first.
func (m *Machine) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Status, subscriberBuffer)
	ch <- m.status
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

func (m *Machine) settleLocked() {
	if strings.Contains(m.lastError, FailureMarker) {
		m.setLocked(Status{State: Failed, Reason: m.lastError, Hash: m.lastHash, Amount: m.lastAmount})
	} else {
		m.setLocked(Status{State: Settled, Amount: m.lastAmount, Hash: m.lastHash})
	}
	epoch := m.epoch
	m.scheduleLocked(m.cfg.DisplayWindow, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.epoch == epoch {
			m.setLocked(Status{State: Idle})
		}
	})
}

// setLocked publishes a new status and invalidates pending timers.
func (m *Machine) setLocked(s Status) {
	m.stopTimerLocked()
	m.epoch++
	s.ChangedAt = time.Now().UTC()
	m.logger.Info("payment status changed",
		slog.String("from", string(m.status.State)),
		slog.String("to", string(s.State)),
	)
	m.status = s
	for id, ch := range m.subs {
		select {
		case ch <- s:
		default:
			m.logger.Warn("payment status subscriber lagging, dropping update", slog.Int("subscriber", id))
		}
	}
}

func (m *Machine) scheduleLocked(d time.Duration, fn func()) {
	m.stopTimerLocked()
	m.timer = time.AfterFunc(d, fn)
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
