package transfer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/instantpay/instantpay/internal/money"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	SenderAccountID    string          `json:"sender_account_id"`
	RecipientAccountID string          `json:"recipient_account_id"`
}

type transactionResponse struct {
	TransactionID      string    `json:"transaction_id"`
	SenderAccountID    string    `json:"sender_account_id"`
	RecipientAccountID string    `json:"recipient_account_id"`
	Amount             string    `json:"amount"`
	Currency           string    `json:"currency"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// Create executes a money transfer on behalf of the authenticated caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	idemKey := c.Get(idempotencyKeyHeader)
	if idemKey == "" {
		return fiber.NewError(http.StatusBadRequest, "missing Idempotency-Key header")
	}

	callerID, err := uuid.Parse(callerUserID(c))
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "missing caller identity")
	}

	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	senderID, err := uuid.Parse(req.SenderAccountID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid sender_account_id")
	}
	recipientID, err := uuid.Parse(req.RecipientAccountID)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid recipient_account_id")
	}

	record, err := h.service.Transfer(c.UserContext(), Command{
		SenderAccountID:    senderID,
		RecipientAccountID: recipientID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		IdempotencyKey:     idemKey,
		CallerUserID:       callerID,
	})
	if err != nil {
		return mapError(err)
	}

	return c.Status(http.StatusCreated).JSON(toResponse(record))
}

// Get returns a committed transaction record.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("transactionId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transaction id")
	}

	record, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return fiber.NewError(http.StatusNotFound, "transaction not found")
		}
		return fiber.NewError(http.StatusInternalServerError, "transaction lookup failed")
	}

	return c.Status(http.StatusOK).JSON(toResponse(record))
}

func toResponse(record Transaction) transactionResponse {
	return transactionResponse{
		TransactionID:      record.ID.String(),
		SenderAccountID:    record.SenderAccountID.String(),
		RecipientAccountID: record.RecipientAccountID.String(),
		Amount:             money.Format(record.Amount, record.Currency),
		Currency:           record.Currency,
		Status:             record.Status,
		CreatedAt:          record.CreatedAt,
	}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrMissingIdempotencyKey),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrSameAccount),
		errors.Is(err, money.ErrUnknownCurrency),
		errors.Is(err, money.ErrNonPositiveAmount),
		errors.Is(err, money.ErrAmountScale):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, "insufficient funds")
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, "not owner of sender account")
	case errors.Is(err, ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateTransaction):
		return fiber.NewError(http.StatusConflict, "duplicate transaction")
	case errors.Is(err, ErrLockTimeout):
		return fiber.NewError(http.StatusConflict, "account busy, retry later")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func callerUserID(c *fiber.Ctx) string {
	uid, _ := c.Locals("user_id").(string)
	return uid
}
