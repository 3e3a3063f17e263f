package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/gptmeet/walletcore/internal/xrpl"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type importRequest struct {
	Secret string `json:"secret"`
}

type walletResponse struct {
	Address     string `json:"address"`
	ExplorerURL string `json:"explorer_url"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{Address: w.Address, ExplorerURL: xrpl.ExplorerAccountURL(w.Address)}
}

// Create generates and persists a new wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	w, err := h.service.Create(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// Import persists the wallet controlled by the posted secret.
func (h *Handler) Import(c *fiber.Ctx) error {
	var req importRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Import(c.UserContext(), req.Secret)
	if err != nil {
		if errors.Is(err, ErrInvalidSecret) {
			return fiber.NewError(http.StatusBadRequest, "invalid secret: check the seed and try again")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// Get returns the active wallet address.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Active()
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

// Remove erases the wallet; requires ?confirm=true.
func (h *Handler) Remove(c *fiber.Ctx) error {
	if err := h.service.Remove(c.UserContext(), c.QueryBool("confirm")); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// RevealSecret returns the seed on explicit request.
func (h *Handler) RevealSecret(c *fiber.Ctx) error {
	secret, err := h.service.RevealSecret(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(http.StatusOK).JSON(fiber.Map{"secret": secret})
}

// SetPaymentToken stores the preferred payment token.
func (h *Handler) SetPaymentToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return fiber.NewError(http.StatusBadRequest, "token is required")
	}
	if err := h.service.SetPaymentToken(c.UserContext(), req.Token); err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"token": req.Token})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrNoWallet):
		return fiber.NewError(http.StatusNotFound, "no wallet on this device")
	case errors.Is(err, ErrRemoveNotConfirmed):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
