package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OrderItem belongs to exactly one order. Weight is per unit, in kilograms.
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int
	UnitPrice Money
	Weight    decimal.Decimal
}

func (i OrderItem) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return NewValidationError("item id is required")
	}
	if strings.TrimSpace(i.ProductID) == "" {
		return NewValidationError("item %s: product id is required", i.ID)
	}
	if i.Quantity <= 0 {
		return NewValidationError("item %s: quantity must be > 0, got %d", i.ID, i.Quantity)
	}
	if err := i.UnitPrice.Validate(); err != nil {
		return err
	}
	return validateWeight(i.Weight)
}

func (i OrderItem) Subtotal() Money {
	return i.UnitPrice.Times(i.Quantity)
}

func (i OrderItem) LineWeight() decimal.Decimal {
	return i.Weight.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i OrderItem) addedEvent(meta EventMeta) OrderItemAddedEvent {
	return OrderItemAddedEvent{
		EventMeta: meta,
		ItemID:    i.ID,
		ProductID: i.ProductID,
		Quantity:  i.Quantity,
		UnitPrice: i.UnitPrice,
		Weight:    i.Weight,
	}
}
