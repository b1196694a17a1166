package domain

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusCompleted OrderStatus = "completed"
)

// orderTransitions is the full status graph. Anything absent is illegal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case OrderStatusPending, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusCompleted:
		return s, nil
	}
	return "", NewValidationError("unknown order status %q", raw)
}

// Order is the write-side aggregate. Transition methods never mutate the
// receiver; they return a new Order plus the event describing the change.
type Order struct {
	ID                  string
	CustomerID          string
	TotalAmount         Money
	Status              OrderStatus
	DeliveryAddress     string
	PaymentMethod       string
	SpecialInstructions string
	Items               []OrderItem
	TrackingNumber      string
	DeliveryDate        time.Time
	ShippedAt           time.Time
	DeliveredAt         time.Time
	CancelledAt         time.Time
	CompletedAt         time.Time
	Version             int // optimistic locking
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type NewOrderParams struct {
	ID                  string
	CustomerID          string
	TotalAmount         Money
	DeliveryAddress     string
	PaymentMethod       string
	SpecialInstructions string
	Items               []OrderItem
	At                  time.Time
}

func NewOrder(p NewOrderParams) (Order, OrderCreatedEvent, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Order{}, OrderCreatedEvent{}, NewValidationError("order id is required")
	}
	if strings.TrimSpace(p.CustomerID) == "" {
		return Order{}, OrderCreatedEvent{}, NewValidationError("customer id is required")
	}
	if err := p.TotalAmount.Validate(); err != nil {
		return Order{}, OrderCreatedEvent{}, err
	}
	if len(p.Items) == 0 {
		return Order{}, OrderCreatedEvent{}, NewValidationError("order must contain at least one item")
	}

	seen := make(map[string]struct{}, len(p.Items))
	for i, item := range p.Items {
		if err := item.Validate(); err != nil {
			return Order{}, OrderCreatedEvent{}, err
		}
		if item.UnitPrice.Currency != p.TotalAmount.Currency {
			return Order{}, OrderCreatedEvent{}, NewValidationError("item %d: currency %s does not match order currency %s", i, item.UnitPrice.Currency, p.TotalAmount.Currency)
		}
		if _, dup := seen[item.ID]; dup {
			return Order{}, OrderCreatedEvent{}, NewValidationError("duplicate item id %s", item.ID)
		}
		seen[item.ID] = struct{}{}
	}

	at := p.At.UTC()
	order := Order{
		ID:                  p.ID,
		CustomerID:          p.CustomerID,
		TotalAmount:         p.TotalAmount,
		Status:              OrderStatusPending,
		DeliveryAddress:     p.DeliveryAddress,
		PaymentMethod:       p.PaymentMethod,
		SpecialInstructions: p.SpecialInstructions,
		Items:               append([]OrderItem(nil), p.Items...),
		Version:             1,
		CreatedAt:           at,
		UpdatedAt:           at,
	}

	meta := order.meta()
	evt := OrderCreatedEvent{
		EventMeta:           meta,
		CustomerID:          order.CustomerID,
		TotalAmount:         order.TotalAmount,
		DeliveryAddress:     order.DeliveryAddress,
		PaymentMethod:       order.PaymentMethod,
		SpecialInstructions: order.SpecialInstructions,
		Items:               make([]OrderItemAddedEvent, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		evt.Items = append(evt.Items, item.addedEvent(meta))
	}
	return order, evt, nil
}

func (o Order) AddItem(item OrderItem, at time.Time) (Order, OrderItemAddedEvent, error) {
	if o.Status != OrderStatusPending {
		return Order{}, OrderItemAddedEvent{}, NewInvalidStateError("cannot add items to order %s in status %s", o.ID, o.Status)
	}
	if err := item.Validate(); err != nil {
		return Order{}, OrderItemAddedEvent{}, err
	}
	if item.UnitPrice.Currency != o.TotalAmount.Currency {
		return Order{}, OrderItemAddedEvent{}, NewValidationError("item currency %s does not match order currency %s", item.UnitPrice.Currency, o.TotalAmount.Currency)
	}
	if _, ok := o.Item(item.ID); ok {
		return Order{}, OrderItemAddedEvent{}, NewValidationError("duplicate item id %s", item.ID)
	}

	next := o.next(at)
	next.Items = append(next.Items, item)
	return next, item.addedEvent(next.meta()), nil
}

func (o Order) Ship(trackingNumber string, deliveryDate, at time.Time) (Order, OrderShippedEvent, error) {
	if strings.TrimSpace(trackingNumber) == "" {
		return Order{}, OrderShippedEvent{}, NewValidationError("tracking number is required")
	}
	next, err := o.transition(OrderStatusShipped, at)
	if err != nil {
		return Order{}, OrderShippedEvent{}, err
	}
	next.TrackingNumber = trackingNumber
	next.DeliveryDate = deliveryDate.UTC()
	next.ShippedAt = next.UpdatedAt
	return next, OrderShippedEvent{
		EventMeta:      next.meta(),
		TrackingNumber: next.TrackingNumber,
		DeliveryDate:   next.DeliveryDate,
	}, nil
}

func (o Order) Deliver(at time.Time) (Order, OrderDeliveredEvent, error) {
	next, err := o.transition(OrderStatusDelivered, at)
	if err != nil {
		return Order{}, OrderDeliveredEvent{}, err
	}
	next.DeliveredAt = next.UpdatedAt
	return next, OrderDeliveredEvent{EventMeta: next.meta()}, nil
}

func (o Order) Cancel(at time.Time) (Order, OrderCancelledEvent, error) {
	next, err := o.transition(OrderStatusCancelled, at)
	if err != nil {
		return Order{}, OrderCancelledEvent{}, err
	}
	next.CancelledAt = next.UpdatedAt
	return next, OrderCancelledEvent{EventMeta: next.meta(), PreviousStatus: o.Status}, nil
}

func (o Order) Complete(at time.Time) (Order, OrderCompletedEvent, error) {
	next, err := o.transition(OrderStatusCompleted, at)
	if err != nil {
		return Order{}, OrderCompletedEvent{}, err
	}
	next.CompletedAt = next.UpdatedAt
	return next, OrderCompletedEvent{EventMeta: next.meta()}, nil
}

func (o Order) Item(id string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

func (o Order) transition(to OrderStatus, at time.Time) (Order, error) {
	if !o.Status.CanTransitionTo(to) {
		return Order{}, NewInvalidStateError("order %s cannot move from %s to %s", o.ID, o.Status, to)
	}
	next := o.next(at)
	next.Status = to
	return next, nil
}

// next returns a copy with a bumped version. Items are copied so the
// original stays untouched when the copy is appended to.
func (o Order) next(at time.Time) Order {
	n := o
	n.Items = append(make([]OrderItem, 0, len(o.Items)+1), o.Items...)
	n.Version = o.Version + 1
	n.UpdatedAt = at.UTC()
	return n
}

func (o Order) meta() EventMeta {
	return EventMeta{OrderID: o.ID, Version: o.Version, At: o.UpdatedAt}
}
