package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderProjection is the read model. It is built only from events and is
// never consulted by command handlers.
type OrderProjection struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	TotalAmount     Money           `json:"total_amount"`
	Status          OrderStatus     `json:"status"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	DeliveryDate    *time.Time      `json:"delivery_date,omitempty"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	Items           []ProjectedItem `json:"items"`
	ShippingCost    *Money          `json:"shipping_cost,omitempty"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Version         int             `json:"version"`
	ShippingVersion int             `json:"shipping_version"`
}

type ProjectedItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice Money           `json:"unit_price"`
	Weight    decimal.Decimal `json:"weight"`
}

// UpsertItem replaces the item with the same id or appends it.
func (p *OrderProjection) UpsertItem(item ProjectedItem) {
	for i := range p.Items {
		if p.Items[i].ID == item.ID {
			p.Items[i] = item
			return
		}
	}
	p.Items = append(p.Items, item)
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type OrderFilter struct {
	CustomerID string
	Status     OrderStatus
	Limit      int
	Offset     int
}

// Normalize clamps paging to sane bounds.
func (f OrderFilter) Normalize() OrderFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f OrderFilter) Matches(p OrderProjection) bool {
	if f.CustomerID != "" && p.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}
