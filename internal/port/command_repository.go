package port

import (
	"context"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// OrderRepository is the write-side store for orders. It is the only path
// through which order state changes, and it enforces one writer per order
// through the version column.
type OrderRepository interface {
	// Create persists a new order with its items. Fails with domain.ErrConflict
	// if the id is taken.
	Create(ctx context.Context, order domain.Order) error

	// Get loads an order with its items, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.Order, error)

	// Update replaces the stored order if the stored version is exactly
	// order.Version-1, otherwise fails with domain.ErrConflict.
	Update(ctx context.Context, order domain.Order) error
}

type ShippingRepository interface {
	// GetShippingCost returns the shipping cost of an order, or domain.ErrNotFound.
	GetShippingCost(ctx context.Context, orderID string) (domain.ShippingCost, error)

	// SaveShippingCost inserts version 1 or updates with a version check.
	SaveShippingCost(ctx context.Context, cost domain.ShippingCost) error

	// CreateParcel inserts the parcel and saves the shipping cost it was
	// attached to in one transaction.
	CreateParcel(ctx context.Context, parcel domain.Parcel, cost domain.ShippingCost) error

	// ParcelAssignments maps item id to parcel id for every packed item of an order.
	ParcelAssignments(ctx context.Context, orderID string) (map[string]string, error)
}

type RepaymentRepository interface {
	GetRepaymentPreferences(ctx context.Context, orderID string) (domain.RepaymentPreferences, error)
	SaveRepaymentPreferences(ctx context.Context, prefs domain.RepaymentPreferences) error
}
