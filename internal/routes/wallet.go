package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gptmeet/walletcore/internal/wallet"
)

// RegisterWalletRoutes wires wallet custody endpoints. attempts guards the
// endpoints that accept or reveal a secret.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, attempts fiber.Handler) {
	r.Post("/wallet", h.Create)
	r.Post("/wallet/import", attempts, h.Import)
	r.Get("/wallet", h.Get)
	r.Delete("/wallet", h.Remove)
	r.Post("/wallet/secret", attempts, h.RevealSecret)
	r.Put("/wallet/payment-token", h.SetPaymentToken)
}
