package account

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/instantpay/instantpay/internal/money"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	repo Repository
}

// NewHandler builds an account HTTP handler.
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Get returns the account owned by the authenticated caller.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("accountId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid account id")
	}

	acc, err := h.repo.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "account not found")
		}
		return fiber.NewError(http.StatusInternalServerError, "account lookup failed")
	}

	callerID, _ := c.Locals("user_id").(string)
	if acc.UserID.String() != callerID {
		return fiber.NewError(http.StatusForbidden, "not owner of account")
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"id":         acc.ID,
		"user_id":    acc.UserID,
		"balance":    money.Format(acc.Balance, acc.Currency),
		"currency":   acc.Currency,
		"version":    acc.Version,
		"created_at": acc.CreatedAt,
	})
}
