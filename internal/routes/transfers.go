package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/instantpay/instantpay/internal/transfer"
)

// RegisterTransferRoutes wires the money transfer endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers", h.Create)
	r.Get("/transfers/:transactionId", h.Get)
}
