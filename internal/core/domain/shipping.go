package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShippingOptions struct {
	ExpressDelivery bool `json:"express_delivery"`
	FragileHandling bool `json:"fragile_handling"`
	Insurance       bool `json:"insurance"`
}

// ShippingCost is one-to-one with an order and shares its id.
type ShippingCost struct {
	ID             string
	OrderID        string
	Weight         decimal.Decimal
	Dimensions     Dimensions
	Options        ShippingOptions
	CalculatedCost Money
	ParcelIDs      []string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ShippingQuote struct {
	Weight     decimal.Decimal
	Dimensions Dimensions
	Options    ShippingOptions
	Cost       Money
}

func (q ShippingQuote) validate() error {
	if err := validateWeight(q.Weight); err != nil {
		return err
	}
	if err := q.Dimensions.Validate(); err != nil {
		return err
	}
	return q.Cost.Validate()
}

func NewShippingCost(orderID string, q ShippingQuote, at time.Time) (ShippingCost, ShippingCostCalculatedEvent, error) {
	if orderID == "" {
		return ShippingCost{}, ShippingCostCalculatedEvent{}, NewValidationError("order id is required")
	}
	if err := q.validate(); err != nil {
		return ShippingCost{}, ShippingCostCalculatedEvent{}, err
	}
	at = at.UTC()
	sc := ShippingCost{
		ID:        orderID,
		OrderID:   orderID,
		Version:   1,
		CreatedAt: at,
	}
	sc = sc.apply(q, at)
	return sc, sc.calculatedEvent(), nil
}

// Recalculate replaces the quote but keeps the parcels already attached.
func (s ShippingCost) Recalculate(q ShippingQuote, at time.Time) (ShippingCost, ShippingCostCalculatedEvent, error) {
	if err := q.validate(); err != nil {
		return ShippingCost{}, ShippingCostCalculatedEvent{}, err
	}
	next := s.clone()
	next.Version++
	next = next.apply(q, at.UTC())
	return next, next.calculatedEvent(), nil
}

func (s ShippingCost) AttachParcel(parcelID string, at time.Time) ShippingCost {
	next := s.clone()
	next.ParcelIDs = append(next.ParcelIDs, parcelID)
	next.Version++
	next.UpdatedAt = at.UTC()
	return next
}

func (s ShippingCost) apply(q ShippingQuote, at time.Time) ShippingCost {
	s.Weight = q.Weight
	s.Dimensions = q.Dimensions
	s.Options = q.Options
	s.CalculatedCost = q.Cost
	s.UpdatedAt = at
	return s
}

func (s ShippingCost) clone() ShippingCost {
	n := s
	n.ParcelIDs = append([]string(nil), s.ParcelIDs...)
	return n
}

func (s ShippingCost) calculatedEvent() ShippingCostCalculatedEvent {
	return ShippingCostCalculatedEvent{
		EventMeta:      EventMeta{OrderID: s.OrderID, Version: s.Version, At: s.UpdatedAt},
		Weight:         s.Weight,
		Dimensions:     s.Dimensions,
		Options:        s.Options,
		CalculatedCost: s.CalculatedCost,
	}
}
