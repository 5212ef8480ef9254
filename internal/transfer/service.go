package transfer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/instantpay/instantpay/internal/money"
)

// Service validates transfer commands and delegates to the ledger engine.
// Identifiers and idempotency keys are masked before they reach the logs.
type Service struct {
	ledger Ledger
	logger *slog.Logger
}

// NewService constructs a transfer service.
func NewService(ledger Ledger, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, logger: logger}
}

// Transfer validates the command and executes it atomically.
func (s *Service) Transfer(ctx context.Context, cmd Command) (Transaction, error) {
	if cmd.IdempotencyKey == "" {
		return Transaction{}, ErrMissingIdempotencyKey
	}
	if err := money.ValidateAmount(cmd.Amount, cmd.Currency); err != nil {
		return Transaction{}, err
	}

	s.logger.Info("transfer requested",
		"sender", maskID(cmd.SenderAccountID),
		"recipient", maskID(cmd.RecipientAccountID),
		"amount", money.Format(cmd.Amount, cmd.Currency),
		"currency", cmd.Currency,
		"idem_key", truncateKey(cmd.IdempotencyKey))

	record, err := s.ledger.Transfer(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateTransaction):
			s.logger.Warn("duplicate idempotency key", "idem_key", truncateKey(cmd.IdempotencyKey))
		case errors.Is(err, ErrInsufficientFunds):
			s.logger.Warn("insufficient funds",
				"sender", maskID(cmd.SenderAccountID),
				"requested", money.Format(cmd.Amount, cmd.Currency))
		}
		return Transaction{}, err
	}

	s.logger.Info("transfer completed",
		"tx_id", maskID(record.ID),
		"amount", money.Format(record.Amount, record.Currency),
		"currency", record.Currency)

	return record, nil
}

// Get returns a committed transaction by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.ledger.Get(ctx, id)
}

func maskID(id uuid.UUID) string {
	s := id.String()
	return s[:8] + "****" + s[len(s)-4:]
}

func truncateKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
