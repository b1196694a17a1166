package domain

import "strings"

// Money is an amount in the currency's minor units (cents, kopecks).
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

func NewMoney(currency string, amount int64) Money {
	return Money{Currency: strings.ToUpper(strings.TrimSpace(currency)), Amount: amount}
}

func (m Money) Validate() error {
	if m.Currency == "" {
		return NewValidationError("currency is required")
	}
	if m.Amount < 0 {
		return NewValidationError("amount must be >= 0, got %d", m.Amount)
	}
	return nil
}

func (m Money) Times(n int) Money {
	return Money{Currency: m.Currency, Amount: m.Amount * int64(n)}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, NewValidationError("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{Currency: m.Currency, Amount: m.Amount + other.Amount}, nil
}
