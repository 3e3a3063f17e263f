package paystatus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const keepAliveInterval = 15 * time.Second

// Handler exposes the machine to the shell.
type Handler struct {
	machine *Machine
}

// NewHandler builds a payment status handler.
func NewHandler(m *Machine) *Handler {
	return &Handler{machine: m}
}

type generationEndRequest struct {
	Error  string `json:"error"`
	Amount string `json:"amount"`
}

// Get returns the current status.
func (h *Handler) Get(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(h.machine.Status())
}

// GenerationStart signals that a generation began.
func (h *Handler) GenerationStart(c *fiber.Ctx) error {
	h.machine.GenerationStarted()
	return c.SendStatus(http.StatusAccepted)
}

// GenerationEnd signals that a generation finished, optionally carrying the
// error it reported and the amount it spent.
func (h *Handler) GenerationEnd(c *fiber.Ctx) error {
	var req generationEndRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.Error != "" {
		h.machine.RecordError(req.Error)
	}
	if req.Amount != "" {
		h.machine.RecordPayment(req.Amount)
	}
	h.machine.GenerationEnded()
	return c.Status(http.StatusAccepted).JSON(h.machine.Status())
}

// Stream sends every status change as a server-sent event.
func (h *Handler) Stream(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	updates, cancel := h.machine.Subscribe()
	ctx := c.UserContext()
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		_ = writeEvents(ctx, w, updates, keepAliveInterval)
	}))
	return nil
}

// writeEvents copies updates to w until the channel closes, ctx ends or a
// write fails.
func writeEvents(ctx context.Context, w *bufio.Writer, updates <-chan Status, keepAlive time.Duration) error {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
				return err
			}
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); err != nil {
				return err
			}
		}
		// a flush error means the client went away
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
