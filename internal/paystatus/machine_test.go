package paystatus

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/logging"
)

func newTestMachine() *Machine {
	return New(Config{DisplayWindow: 30 * time.Millisecond, SettleDelay: 10 * time.Millisecond}, logging.Discard())
}

// collect reads states from ch until want are seen in order or the deadline passes.
func collect(t *testing.T, ch <-chan Status, want ...State) []Status {
	t.Helper()
	var got []Status
	deadline := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case s := <-ch:
			got = append(got, s)
		case <-deadline:
			t.Fatalf("timed out after %d of %d states: %+v", len(got), len(want), got)
		}
	}
	for i, s := range got {
		if s.State != want[i] {
			t.Fatalf("state %d: want %s got %s (%+v)", i, want[i], s.State, got)
		}
	}
	return got
}

func TestGenerationStartLeavesStatusUntouched(t *testing.T) {
	m := newTestMachine()
	m.GenerationStarted()
	if s := m.Status(); s.State != Idle {
		t.Fatalf("expected idle, got %s", s.State)
	}
	if !m.Generating() {
		t.Fatalf("expected generating flag")
	}
}

func TestPaymentFailedShowsFailedThenIdle(t *testing.T) {
	m := newTestMachine()
	ch, cancel := m.Subscribe()
	defer cancel()

	m.GenerationStarted()
	m.RecordError("Payment failed: insufficient balance")
	m.GenerationEnded()

	got := collect(t, ch, Idle, AwaitingSettlement, Failed, Idle)
	if got[2].Reason != "Payment failed: insufficient balance" {
		t.Fatalf("unexpected reason %q", got[2].Reason)
	}
	if shown := got[3].ChangedAt.Sub(got[2].ChangedAt); shown < 30*time.Millisecond {
		t.Fatalf("failed status shown only %s", shown)
	}
}

func TestSettlesAfterDelay(t *testing.T) {
	m := newTestMachine()
	ch, cancel := m.Subscribe()
	defer cancel()

	m.GenerationStarted()
	m.RecordPayment("0.25 XRP")
	m.GenerationEnded()

	got := collect(t, ch, Idle, AwaitingSettlement, Settled, Idle)
	if got[2].Amount != "0.25 XRP" {
		t.Fatalf("unexpected amount %q", got[2].Amount)
	}
}

func TestOutcomeResolvesPendingSettlement(t *testing.T) {
	m := New(Config{DisplayWindow: time.Hour, SettleDelay: time.Hour}, logging.Discard())
	m.GenerationStarted()
	m.GenerationEnded()
	if s := m.Status(); s.State != AwaitingSettlement {
		t.Fatalf("expected awaiting settlement, got %s", s.State)
	}

	m.RecordOutcome("10 XRP", ledger.Success("ABC"))
	s := m.Status()
	if s.State != Settled || s.Hash != "ABC" || s.Amount != "10 XRP" {
		t.Fatalf("expected settled with hash, got %+v", s)
	}
}

func TestFailedOutcomeClassifiesAsPaymentFailure(t *testing.T) {
	m := New(Config{DisplayWindow: time.Hour, SettleDelay: time.Hour}, logging.Discard())
	m.GenerationStarted()
	m.RecordOutcome("10 XRP", ledger.Rejected("tecUNFUNDED_PAYMENT"))
	m.GenerationEnded()

	s := m.Status()
	if s.State != Failed || !strings.HasPrefix(s.Reason, FailureMarker) {
		t.Fatalf("expected failed, got %+v", s)
	}
}

func TestOtherErrorsStillSettle(t *testing.T) {
	m := New(Config{DisplayWindow: time.Hour, SettleDelay: time.Millisecond}, logging.Discard())
	m.GenerationStarted()
	m.RecordError("model overloaded")
	m.GenerationEnded()
	time.Sleep(20 * time.Millisecond)
	if s := m.Status(); s.State != Settled {
		t.Fatalf("expected settled, got %s", s.State)
	}
}

func TestEndWithoutStartIsIgnored(t *testing.T) {
	m := newTestMachine()
	m.GenerationEnded()
	if s := m.Status(); s.State != Idle {
		t.Fatalf("expected idle, got %s", s.State)
	}
}

func TestResetCancelsTimers(t *testing.T) {
	m := New(Config{DisplayWindow: time.Hour, SettleDelay: 10 * time.Millisecond}, logging.Discard())
	m.GenerationStarted()
	m.GenerationEnded()
	m.Reset()
	time.Sleep(30 * time.Millisecond)
	if s := m.Status(); s.State != Idle {
		t.Fatalf("expected idle after reset, got %s", s.State)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := newTestMachine()
	ch, cancel := m.Subscribe()
	<-ch
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestWriteEventsFramesStatus(t *testing.T) {
	updates := make(chan Status, 2)
	updates <- Status{State: Settled, Amount: "1 XRP"}
	close(updates)

	var buf bytes.Buffer
	if err := writeEvents(context.Background(), bufio.NewWriter(&buf), updates, time.Hour); err != nil {
		t.Fatalf("write events: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "event: status\ndata: {") || !strings.Contains(out, `"state":"settled"`) {
		t.Fatalf("unexpected stream %q", out)
	}
}

func TestHandlerGenerationSignals(t *testing.T) {
	m := New(Config{DisplayWindow: time.Hour, SettleDelay: time.Hour}, logging.Discard())
	h := NewHandler(m)
	app := fiber.New()
	app.Post("/generation/start", h.GenerationStart)
	app.Post("/generation/end", h.GenerationEnd)
	app.Get("/status", h.Get)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/generation/start", nil))
	if err != nil || resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: %v %v", resp, err)
	}
	req := httptest.NewRequest(http.MethodPost, "/generation/end", strings.NewReader(`{"error":"Payment failed: no trust line"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusAccepted {
		t.Fatalf("end: %v %v", resp, err)
	}
	if s := m.Status(); s.State != Failed {
		t.Fatalf("expected failed, got %s", s.State)
	}
}
