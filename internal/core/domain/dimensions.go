package domain

import "github.com/shopspring/decimal"

// Dimensions are in centimetres.
type Dimensions struct {
	Length decimal.Decimal `json:"length"`
	Width  decimal.Decimal `json:"width"`
	Height decimal.Decimal `json:"height"`
}

func NewDimensions(length, width, height float64) Dimensions {
	return Dimensions{
		Length: decimal.NewFromFloat(length),
		Width:  decimal.NewFromFloat(width),
		Height: decimal.NewFromFloat(height),
	}
}

func (d Dimensions) Validate() error {
	if !d.Length.IsPositive() || !d.Width.IsPositive() || !d.Height.IsPositive() {
		return NewValidationError("dimensions must be positive, got %sx%sx%s", d.Length, d.Width, d.Height)
	}
	return nil
}

func (d Dimensions) Volume() decimal.Decimal {
	return d.Length.Mul(d.Width).Mul(d.Height)
}

func validateWeight(w decimal.Decimal) error {
	if !w.IsPositive() {
		return NewValidationError("weight must be positive, got %s", w)
	}
	return nil
}
