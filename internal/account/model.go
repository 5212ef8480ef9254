package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a ledger account holding a balance in a single currency.
// Balance never goes negative at a committed state; Version increases
// monotonically with every balance mutation.
type Account struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Balance   decimal.Decimal
	Currency  string
	Version   int64
	CreatedAt time.Time
}
