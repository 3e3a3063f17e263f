package balance

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/ledger"
)

// Handler exposes balance and credit conversion endpoints.
type Handler struct {
	sync       *Synchronizer
	issuedName string
}

// NewHandler builds a balance HTTP handler. issuedName labels the issued asset.
func NewHandler(sync *Synchronizer, issuedName string) *Handler {
	return &Handler{sync: sync, issuedName: issuedName}
}

type balanceResponse struct {
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	FiatValue decimal.Decimal `json:"fiat_value"`
}

type creditResponse struct {
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
	Credits decimal.Decimal `json:"credits"`
}

func (h *Handler) tokenName(kind ledger.TokenKind) string {
	if kind == ledger.KindIssued {
		return h.issuedName
	}
	return "XRP"
}

// Balances returns the latest snapshot; ?refresh=true forces a read first.
func (h *Handler) Balances(c *fiber.Ctx) error {
	snap, ok, err := h.current(c)
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(http.StatusServiceUnavailable, "balances not yet available")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":    snap.Address,
		"activated":  snap.Exists,
		"stale":      snap.Stale,
		"updated_at": snap.UpdatedAt.Format(time.RFC3339Nano),
		"balances": []balanceResponse{
			{Token: h.tokenName(ledger.KindPrimary), Amount: snap.Primary.Amount, FiatValue: snap.Primary.FiatValue},
			{Token: h.tokenName(ledger.KindIssued), Amount: snap.Issued.Amount, FiatValue: snap.Issued.FiatValue},
		},
	})
}

// Credits converts the current balances, or ?token=&amount=, into API credits.
func (h *Handler) Credits(c *fiber.Ctx) error {
	rates := h.sync.Rates()
	if token := c.Query("token"); token != "" {
		kind, err := ledger.ParseTokenKind(token, h.issuedName)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		amount, err := decimal.NewFromString(c.Query("amount"))
		if err != nil || amount.IsNegative() {
			return fiber.NewError(http.StatusBadRequest, "amount must be a non-negative decimal")
		}
		return c.Status(http.StatusOK).JSON(creditResponse{
			Token: h.tokenName(kind), Amount: amount, Credits: rates.Credits(kind, amount),
		})
	}

	snap, ok, err := h.current(c)
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(http.StatusServiceUnavailable, "balances not yet available")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"credits": []creditResponse{
			{Token: h.tokenName(ledger.KindPrimary), Amount: snap.Primary.Amount, Credits: rates.Credits(ledger.KindPrimary, snap.Primary.Amount)},
			{Token: h.tokenName(ledger.KindIssued), Amount: snap.Issued.Amount, Credits: rates.Credits(ledger.KindIssued, snap.Issued.Amount)},
		},
	})
}

func (h *Handler) current(c *fiber.Ctx) (Snapshot, bool, error) {
	if h.sync.Address() == "" {
		return Snapshot{}, false, fiber.NewError(http.StatusNotFound, "no wallet on this device")
	}
	if c.QueryBool("refresh") {
		// a failed read still leaves the previous snapshot, flagged stale
		_, _ = h.sync.Refresh(c.UserContext())
	}
	snap, ok := h.sync.Snapshot()
	return snap, ok, nil
}
