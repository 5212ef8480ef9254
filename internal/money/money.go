package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCurrency indicates a currency code outside the supported set.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrNonPositiveAmount indicates a zero or negative amount.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrAmountScale indicates more fractional digits than the currency allows.
	ErrAmountScale = errors.New("amount exceeds currency precision")
)

// minorUnits maps supported ISO 4217 codes to their number of decimal places.
var minorUnits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CHF": 2,
	"JPY": 0,
	"XAF": 0,
	"KWD": 3,
}

// Scale returns the allowed decimal places for a currency code.
func Scale(currency string) (int32, bool) {
	scale, ok := minorUnits[currency]
	return scale, ok
}

// ValidateAmount checks that amount is positive and that its fractional
// precision does not exceed the currency's minor-unit scale.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	scale, ok := minorUnits[currency]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	if amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}
	if !amount.Equal(amount.Truncate(scale)) {
		return fmt.Errorf("%w: %s allows %d decimal places", ErrAmountScale, currency, scale)
	}
	return nil
}

// Format renders the amount at the currency's fixed scale, e.g. "900.00" for USD.
func Format(amount decimal.Decimal, currency string) string {
	scale, ok := minorUnits[currency]
	if !ok {
		return amount.String()
	}
	return amount.StringFixed(scale)
}
