package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/xrpl"
)

func newPaymentsApp(h *harness) *fiber.App {
	handler := NewHandler(h.svc)
	app := fiber.New()
	app.Post("/payments", handler.Send)
	app.Get("/payments", handler.History)
	app.Post("/trustlines", handler.EnsureTrustLine)
	app.Get("/credits/quote", handler.QuoteCredits)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHandlerSendSuccess(t *testing.T) {
	h := newHarness(t)
	ledger.SeedBalance(h.ledger, testAddress, 50*xrpl.DropsPerXRP)
	app := newPaymentsApp(h)

	resp, body := postJSON(t, app, "/payments", `{"token":"XRP","amount":"10","destination":"`+newDestination(t)+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, body)
	}
	if body["hash"] == nil || !strings.Contains(body["explorer_url"].(string), "/tx/") {
		t.Fatalf("expected hash and explorer link, got %v", body)
	}
}

func TestHandlerSendClassifiedFailure(t *testing.T) {
	h := newHarness(t)
	ledger.SeedBalance(h.ledger, testAddress, 50*xrpl.DropsPerXRP)
	app := newPaymentsApp(h)

	resp, body := postJSON(t, app, "/payments", `{"token":"XRP","amount":"75","destination":"`+newDestination(t)+`"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body["reason"] != string(ledger.ReasonInsufficientBalance) || body["message"] == "" {
		t.Fatalf("expected a classified reason, got %v", body)
	}
}

func TestHandlerSendValidation(t *testing.T) {
	h := newHarness(t)
	app := newPaymentsApp(h)

	resp, _ := postJSON(t, app, "/payments", `{"token":"DOGE","amount":"1","destination":"`+testTreasury+`"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown token, got %d", resp.StatusCode)
	}
	resp, _ = postJSON(t, app, "/payments", `{"token":"XRP","amount":"1","destination":"nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad destination, got %d", resp.StatusCode)
	}
}

func TestHandlerUnreachableLedger(t *testing.T) {
	h := newHarness(t)
	ledger.SeedBalance(h.ledger, testAddress, 50*xrpl.DropsPerXRP)
	ledger.SetUnreachable(h.ledger, true)
	app := newPaymentsApp(h)

	resp, _ := postJSON(t, app, "/payments", `{"token":"XRP","amount":"1","destination":"`+testTreasury+`"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHandlerTrustLineThenHistory(t *testing.T) {
	h := newHarness(t)
	ledger.SeedBalance(h.ledger, testAddress, 50*xrpl.DropsPerXRP)
	app := newPaymentsApp(h)

	resp, _ := postJSON(t, app, "/trustlines", ``)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp, body := postJSON(t, app, "/trustlines", ``)
	if resp.StatusCode != http.StatusOK || body["status"] != "exists" {
		t.Fatalf("expected existing line, got %d %v", resp.StatusCode, body)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/payments", nil))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var history struct {
		Payments []Entry `json:"payments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history.Payments) != 1 || history.Payments[0].Kind != EntryTrustSet {
		t.Fatalf("expected one trust set entry, got %+v", history.Payments)
	}
}
