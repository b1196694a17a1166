package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Parcel references its order and shipping cost by id. It owns the item ids
// packed into it; the items themselves stay owned by the order.
type Parcel struct {
	ID             string
	TrackingNumber string
	Weight         decimal.Decimal
	Dimensions     Dimensions
	OrderID        string
	ShippingCostID string
	ItemIDs        []string
	CreatedAt      time.Time
}

type NewParcelParams struct {
	ID             string
	TrackingNumber string
	Weight         decimal.Decimal
	Dimensions     Dimensions
	Order          Order
	ShippingCost   ShippingCost
	ItemIDs        []string
	Assigned       map[string]string // item id -> parcel id, for items already packed
	At             time.Time
}

func NewParcel(p NewParcelParams, policy ParcelPolicy) (Parcel, ParcelCreatedEvent, error) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.TrackingNumber) == "" {
		return Parcel{}, ParcelCreatedEvent{}, NewValidationError("parcel id and tracking number are required")
	}
	if p.ShippingCost.OrderID != p.Order.ID {
		return Parcel{}, ParcelCreatedEvent{}, NewValidationError("shipping cost %s does not belong to order %s", p.ShippingCost.ID, p.Order.ID)
	}
	if err := validateWeight(p.Weight); err != nil {
		return Parcel{}, ParcelCreatedEvent{}, err
	}
	if err := p.Dimensions.Validate(); err != nil {
		return Parcel{}, ParcelCreatedEvent{}, err
	}

	items := make([]OrderItem, 0, len(p.ItemIDs))
	seen := make(map[string]struct{}, len(p.ItemIDs))
	for _, id := range p.ItemIDs {
		if _, dup := seen[id]; dup {
			return Parcel{}, ParcelCreatedEvent{}, NewValidationError("item %s listed twice", id)
		}
		seen[id] = struct{}{}
		item, ok := p.Order.Item(id)
		if !ok {
			return Parcel{}, ParcelCreatedEvent{}, NewValidationError("item %s does not belong to order %s", id, p.Order.ID)
		}
		if owner, packed := p.Assigned[id]; packed {
			return Parcel{}, ParcelCreatedEvent{}, NewValidationError("item %s is already packed in parcel %s", id, owner)
		}
		items = append(items, item)
	}
	if err := policy.Check(items); err != nil {
		return Parcel{}, ParcelCreatedEvent{}, err
	}

	parcel := Parcel{
		ID:             p.ID,
		TrackingNumber: p.TrackingNumber,
		Weight:         p.Weight,
		Dimensions:     p.Dimensions,
		OrderID:        p.Order.ID,
		ShippingCostID: p.ShippingCost.ID,
		ItemIDs:        append([]string(nil), p.ItemIDs...),
		CreatedAt:      p.At.UTC(),
	}
	return parcel, ParcelCreatedEvent{
		EventMeta:      EventMeta{OrderID: parcel.OrderID, Version: p.ShippingCost.Version + 1, At: parcel.CreatedAt},
		ParcelID:       parcel.ID,
		TrackingNumber: parcel.TrackingNumber,
		Weight:         parcel.Weight,
		Dimensions:     parcel.Dimensions,
		ItemIDs:        parcel.ItemIDs,
	}, nil
}
