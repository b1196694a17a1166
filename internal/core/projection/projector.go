// Package projection builds the order read model from domain events.
package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

// ErrVersionGap is returned for an event that is more than one version ahead
// of the stored projection. It is retried or dead-lettered until the missing
// event has been applied.
var ErrVersionGap = errors.New("projection version gap")

// OrderProjector keeps one OrderProjection per order. Events apply strictly
// in version order: older ones are skipped, so a redelivered event leaves the
// projection untouched, and ones past a gap are refused.
type OrderProjector struct {
	store port.ProjectionStore
	log   *logrus.Logger
}

func NewOrderProjector(store port.ProjectionStore, log *logrus.Logger) *OrderProjector {
	return &OrderProjector{store: store, log: log}
}

// Register subscribes one handler per projected event type.
func (p *OrderProjector) Register(b *bus.EventBus) {
	for _, t := range []domain.EventType{
		domain.EventOrderCreated,
		domain.EventOrderItemAdded,
		domain.EventOrderShipped,
		domain.EventOrderDelivered,
		domain.EventOrderCancelled,
		domain.EventOrderCompleted,
		domain.EventShippingCostCalculated,
		domain.EventParcelCreated,
	} {
		b.Subscribe(t, "projection."+string(t), p.Handle)
	}
}

func (p *OrderProjector) Handle(ctx context.Context, evt domain.Event) error {
	switch e := evt.(type) {
	case domain.OrderCreatedEvent:
		return p.onCreated(ctx, e)
	case domain.OrderItemAddedEvent:
		return p.applyOrder(ctx, e, func(v *domain.OrderProjection) {
			v.UpsertItem(projectItem(e))
		})
	case domain.OrderShippedEvent:
		return p.applyOrder(ctx, e, func(v *domain.OrderProjection) {
			v.Status = domain.OrderStatusShipped
			v.TrackingNumber = e.TrackingNumber
			v.DeliveryDate = timePtr(e.DeliveryDate)
			v.ShippedAt = timePtr(e.At)
		})
	case domain.OrderDeliveredEvent:
		return p.applyOrder(ctx, e, func(v *domain.OrderProjection) {
			v.Status = domain.OrderStatusDelivered
			v.DeliveredAt = timePtr(e.At)
		})
	case domain.OrderCancelledEvent:
		return p.applyOrder(ctx, e, func(v *domain.OrderProjection) {
			v.Status = domain.OrderStatusCancelled
			v.CancelledAt = timePtr(e.At)
		})
	case domain.OrderCompletedEvent:
		return p.applyOrder(ctx, e, func(v *domain.OrderProjection) {
			v.Status = domain.OrderStatusCompleted
			v.CompletedAt = timePtr(e.At)
		})
	case domain.ShippingCostCalculatedEvent:
		return p.applyShipping(ctx, e, func(v *domain.OrderProjection) {
			cost := e.CalculatedCost
			v.ShippingCost = &cost
		})
	case domain.ParcelCreatedEvent:
		return p.applyShipping(ctx, e, func(v *domain.OrderProjection) {
			if v.TrackingNumber == "" {
				v.TrackingNumber = e.TrackingNumber
			}
		})
	}
	return nil
}

func (p *OrderProjector) onCreated(ctx context.Context, e domain.OrderCreatedEvent) error {
	return p.store.Upsert(ctx, e.OrderID, func(cur domain.OrderProjection, found bool) (domain.OrderProjection, bool, error) {
		if found && cur.Version >= e.Version {
			return cur, false, nil
		}
		v := domain.OrderProjection{
			ID:              e.OrderID,
			CustomerID:      e.CustomerID,
			TotalAmount:     e.TotalAmount,
			Status:          domain.OrderStatusPending,
			DeliveryAddress: e.DeliveryAddress,
			Items:           make([]domain.ProjectedItem, 0, len(e.Items)),
			CreatedAt:       e.At,
			UpdatedAt:       e.At,
			Version:         e.Version,
		}
		for _, item := range e.Items {
			v.Items = append(v.Items, projectItem(item))
		}
		if found {
			v.ShippingCost = cur.ShippingCost
			v.ShippingVersion = cur.ShippingVersion
		}
		return v, true, nil
	})
}

func (p *OrderProjector) applyOrder(ctx context.Context, evt domain.Event, fn func(*domain.OrderProjection)) error {
	return p.store.Upsert(ctx, evt.AggregateID(), func(cur domain.OrderProjection, found bool) (domain.OrderProjection, bool, error) {
		if !found {
			return cur, false, missing(evt)
		}
		if cur.Version >= evt.AggregateVersion() {
			p.skipped(evt, cur.Version)
			return cur, false, nil
		}
		if evt.AggregateVersion() > cur.Version+1 {
			return cur, false, gap(evt, cur.Version)
		}
		next := clone(cur)
		fn(&next)
		next.Version = evt.AggregateVersion()
		next.UpdatedAt = evt.OccurredAt()
		return next, true, nil
	})
}

// applyShipping versions shipping events separately since they carry the
// shipping cost version rather than the order version.
func (p *OrderProjector) applyShipping(ctx context.Context, evt domain.Event, fn func(*domain.OrderProjection)) error {
	return p.store.Upsert(ctx, evt.AggregateID(), func(cur domain.OrderProjection, found bool) (domain.OrderProjection, bool, error) {
		if !found {
			return cur, false, missing(evt)
		}
		if cur.ShippingVersion >= evt.AggregateVersion() {
			p.skipped(evt, cur.ShippingVersion)
			return cur, false, nil
		}
		if evt.AggregateVersion() > cur.ShippingVersion+1 {
			return cur, false, gap(evt, cur.ShippingVersion)
		}
		next := clone(cur)
		fn(&next)
		next.ShippingVersion = evt.AggregateVersion()
		if evt.OccurredAt().After(next.UpdatedAt) {
			next.UpdatedAt = evt.OccurredAt()
		}
		return next, true, nil
	})
}

func (p *OrderProjector) skipped(evt domain.Event, stored int) {
	p.log.WithFields(logrus.Fields{
		"order_id":       evt.AggregateID(),
		"event_type":     evt.EventType(),
		"version":        evt.AggregateVersion(),
		"stored_version": stored,
	}).Debug("stale event skipped")
}

// missing is returned when an update arrives before the creation event; the
// caller retries or dead-letters it.
func missing(evt domain.Event) error {
	return fmt.Errorf("%s v%d: %w", evt.EventType(), evt.AggregateVersion(), domain.NewNotFoundError("order projection", evt.AggregateID()))
}

func gap(evt domain.Event, stored int) error {
	return fmt.Errorf("%w: %s v%d for order %s, stored v%d",
		ErrVersionGap, evt.EventType(), evt.AggregateVersion(), evt.AggregateID(), stored)
}

func clone(v domain.OrderProjection) domain.OrderProjection {
	v.Items = append(make([]domain.ProjectedItem, 0, len(v.Items)+1), v.Items...)
	return v
}

func projectItem(e domain.OrderItemAddedEvent) domain.ProjectedItem {
	return domain.ProjectedItem{
		ID:        e.ItemID,
		ProductID: e.ProductID,
		Quantity:  e.Quantity,
		UnitPrice: e.UnitPrice,
		Weight:    e.Weight,
	}
}

func timePtr[T any](v T) *T {
	return &v
}
