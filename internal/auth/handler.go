package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/instantpay/instantpay/internal/identity"
)

// Handler exposes the login endpoint.
type Handler struct {
	ids *identity.Service
	svc *Service
}

// NewHandler builds the auth handler.
func NewHandler(ids *identity.Service, svc *Service) *Handler {
	return &Handler{ids: ids, svc: svc}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login validates credentials and returns an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.Authenticate(c.UserContext(), identity.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid credentials")
	}
	token, err := h.svc.Issue(user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "token issuance failed")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":      user.ID,
		"access_token": token.AccessToken,
		"expires_in":   token.ExpiresIn,
	})
}
