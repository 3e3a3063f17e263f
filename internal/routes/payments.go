package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gptmeet/walletcore/internal/balance"
	"github.com/gptmeet/walletcore/internal/payments"
	"github.com/gptmeet/walletcore/internal/paystatus"
)

// RegisterBalanceRoutes wires balance and credit conversion endpoints.
func RegisterBalanceRoutes(r fiber.Router, h *balance.Handler) {
	r.Get("/balances", h.Balances)
	r.Get("/credits", h.Credits)
}

// RegisterPaymentRoutes wires payment, trust line and credit purchase
// endpoints. idempotent guards every route that submits to the ledger.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotent fiber.Handler) {
	r.Post("/payments", idempotent, h.Send)
	r.Get("/payments", h.History)
	r.Post("/trustlines", idempotent, h.EnsureTrustLine)
	r.Get("/credits/quote", h.QuoteCredits)
	r.Post("/credits/purchase", idempotent, h.BuyCredits)
}

// RegisterStatusRoutes wires the payment status machine.
func RegisterStatusRoutes(r fiber.Router, h *paystatus.Handler) {
	r.Get("/payment-status", h.Get)
	r.Get("/payment-status/stream", h.Stream)
	r.Post("/generation/start", h.GenerationStart)
	r.Post("/generation/end", h.GenerationEnd)
}
