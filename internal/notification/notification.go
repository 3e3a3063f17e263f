package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// KindPaymentSent indicates a payment reached validated success.
	KindPaymentSent = "payment_sent"
	// KindPaymentFailed indicates a payment was rejected.
	KindPaymentFailed = "payment_failed"
	// KindTrustLine indicates a trust line was established.
	KindTrustLine = "trust_line"
	// KindWalletChanged indicates the device wallet was created, imported or removed.
	KindWalletChanged = "wallet_changed"
)

// Message describes a notification payload.
type Message struct {
	ID          string
	Kind        string
	Destination string
	Body        string
	CreatedAt   time.Time
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	message = stamp(message)
	n.logger.Info("notification",
		"id", message.ID,
		"kind", message.Kind,
		"destination", message.Destination,
		"body", message.Body,
	)
	return nil
}

// Recorder keeps the most recent notifications in memory so the shell can poll them.
type Recorder struct {
	next     Notifier
	capacity int

	mu     sync.Mutex
	recent []Message
}

// NewRecorder keeps up to capacity messages and forwards each to next, if set.
func NewRecorder(next Notifier, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 20
	}
	return &Recorder{next: next, capacity: capacity}
}

// Send records message and forwards it.
func (r *Recorder) Send(ctx context.Context, message Message) error {
	message = stamp(message)
	r.mu.Lock()
	r.recent = append(r.recent, message)
	if len(r.recent) > r.capacity {
		r.recent = r.recent[len(r.recent)-r.capacity:]
	}
	r.mu.Unlock()
	if r.next != nil {
		return r.next.Send(ctx, message)
	}
	return nil
}

// Recent returns recorded messages, newest first.
func (r *Recorder) Recent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.recent))
	for i, m := range r.recent {
		out[len(r.recent)-1-i] = m
	}
	return out
}

func stamp(message Message) Message {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	return message
}
