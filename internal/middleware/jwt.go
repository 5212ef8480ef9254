package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/instantpay/instantpay/internal/auth"
	"github.com/instantpay/instantpay/internal/config"
)

// JWTAuth validates bearer tokens and stores the verified caller id in locals.
func JWTAuth(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := auth.ParseAndVerifyHS256(tokenStr, []byte(cfg.JWTSecret))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		exp, _ := claims["exp"].(float64)
		if time.Now().Unix() >= int64(exp) {
			return fiber.NewError(http.StatusUnauthorized, "token expired")
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			return fiber.NewError(http.StatusUnauthorized, "invalid token subject")
		}

		c.Locals("user_id", sub)
		return c.Next()
	}
}
