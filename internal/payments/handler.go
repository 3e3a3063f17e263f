package payments

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/gptmeet/walletcore/internal/ledger"
	"github.com/gptmeet/walletcore/internal/txbuilder"
	"github.com/gptmeet/walletcore/internal/wallet"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type sendRequest struct {
	ID             string          `json:"id"`
	Token          string          `json:"token"`
	Amount         decimal.Decimal `json:"amount"`
	Destination    string          `json:"destination"`
	DestinationTag *uint32         `json:"destination_tag"`
}

type trustLineRequest struct {
	Issuer   string `json:"issuer"`
	Currency string `json:"currency"`
}

type creditsRequest struct {
	Credits decimal.Decimal `json:"credits"`
}

// Send pays from the active wallet.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	kind, err := ledger.ParseTokenKind(req.Token, h.service.cfg.IssuedName)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	id := req.ID
	if id == "" {
		id = c.Get("Idempotency-Key")
	}

	receipt, err := h.service.Send(c.UserContext(), txbuilder.PaymentIntent{
		ID:             id,
		TokenKind:      kind,
		Amount:         req.Amount,
		Destination:    req.Destination,
		DestinationTag: req.DestinationTag,
	})
	if err != nil {
		return mapError(c, receipt, err)
	}
	return writeReceipt(c, receipt, nil)
}

// EnsureTrustLine opens the trust line for the issued asset, or for the
// issuer and currency in the body.
func (h *Handler) EnsureTrustLine(c *fiber.Ctx) error {
	var req trustLineRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	receipt, err := h.service.EnsureTrustLine(c.UserContext(), req.Issuer, req.Currency)
	if err != nil {
		return mapError(c, receipt, err)
	}
	if receipt.Outcome.Noop {
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "exists"})
	}
	return writeReceipt(c, receipt, nil)
}

// History lists the active wallet's submissions.
func (h *Handler) History(c *fiber.Ctx) error {
	entries, err := h.service.History(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return mapError(c, Receipt{}, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"payments": entries})
}

// QuoteCredits prices ?credits= in the preferred payment token.
func (h *Handler) QuoteCredits(c *fiber.Ctx) error {
	credits, err := decimal.NewFromString(c.Query("credits"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "credits must be a decimal")
	}
	quote, err := h.service.QuoteCredits(c.UserContext(), credits)
	if err != nil {
		return mapError(c, Receipt{}, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"token":   h.service.TokenName(quote.Kind),
		"credits": quote.Credits,
		"amount":  quote.Amount,
	})
}

// BuyCredits pays the treasury for credits.
func (h *Handler) BuyCredits(c *fiber.Ctx) error {
	var req creditsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	receipt, quote, err := h.service.BuyCredits(c.UserContext(), req.Credits)
	if err != nil {
		return mapError(c, receipt, err)
	}
	return writeReceipt(c, receipt, fiber.Map{
		"credits": quote.Credits,
		"token":   h.service.TokenName(quote.Kind),
		"amount":  quote.Amount,
	})
}

func writeReceipt(c *fiber.Ctx, r Receipt, extra fiber.Map) error {
	body := fiber.Map{"id": r.Entry.ID, "status": r.Entry.Status}
	for k, v := range extra {
		body[k] = v
	}
	if r.Outcome.Hash != "" {
		body["hash"] = r.Outcome.Hash
		body["explorer_url"] = r.ExplorerURL()
	}
	if r.Outcome.Failure != nil {
		body["reason"] = r.Outcome.Failure.Reason
		body["code"] = r.Outcome.Failure.Code
		body["message"] = r.Outcome.Failure.Message()
		return c.Status(http.StatusUnprocessableEntity).JSON(body)
	}
	return c.Status(http.StatusOK).JSON(body)
}

func mapError(c *fiber.Ctx, r Receipt, err error) error {
	switch {
	case errors.Is(err, wallet.ErrNoWallet):
		return fiber.NewError(http.StatusNotFound, "no wallet on this device")
	case errors.Is(err, txbuilder.ErrInvalidIntent):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPaymentInFlight):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDuplicatePayment):
		return c.Status(http.StatusConflict).JSON(fiber.Map{
			"error": "duplicate payment", "id": r.Entry.ID, "status": r.Entry.Status, "hash": r.Entry.Hash,
		})
	case errors.Is(err, ledger.ErrTimeout):
		body := fiber.Map{"error": "confirmation timed out; the payment may still settle", "id": r.Entry.ID}
		if r.Outcome.Hash != "" {
			body["hash"] = r.Outcome.Hash
			body["explorer_url"] = r.ExplorerURL()
		}
		return c.Status(http.StatusGatewayTimeout).JSON(body)
	case errors.Is(err, txbuilder.ErrSequencingUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "network unavailable, please retry")
	case errors.Is(err, ledger.ErrUnreachable), errors.Is(err, ErrBalancesUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "ledger unreachable, please retry")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
