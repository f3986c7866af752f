package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/chatloop/chatloop-backend/pkg/enums"
)

// minorUnitExponent is the number of decimal places used when rendering amounts.
// Every supported currency uses two minor-unit digits.
const minorUnitExponent = 2

// Money is an integer amount of minor units in a single currency. All arithmetic
// in the wallet happens on the minor-unit integers; decimals only appear at the
// display edge.
type Money struct {
	AmountMinor int64          `json:"amount_minor_units"`
	Currency    enums.Currency `json:"currency"`
}

// New builds a Money value.
func New(amountMinor int64, currency enums.Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount in the given currency.
func Zero(currency enums.Currency) Money {
	return Money{AmountMinor: 0, Currency: currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// Validate checks the amount is non-negative and the currency is recognized.
func (m Money) Validate() error {
	if m.AmountMinor < 0 {
		return fmt.Errorf("amount must be non-negative, got %d", m.AmountMinor)
	}
	if !m.Currency.IsValid() {
		return fmt.Errorf("invalid currency %q", m.Currency)
	}
	return nil
}

// Display renders the amount as a decimal major-unit string, e.g. 250 -> "2.50".
func (m Money) Display() string {
	return decimal.New(m.AmountMinor, -minorUnitExponent).StringFixed(minorUnitExponent)
}

// String implements fmt.Stringer, e.g. "2.50 USD".
func (m Money) String() string {
	return m.Display() + " " + string(m.Currency)
}
