package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/instantpay/instantpay/internal/account"
)

// RegisterAccountRoutes wires account read endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Get("/accounts/:accountId", h.Get)
}
