package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/instantpay/instantpay/internal/auth"
)

// RegisterAuthRoutes wires the public authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, mw ...fiber.Handler) {
	r.Post("/auth/login", append(mw, h.Login)...)
}
