package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated            EventType = "order.created"
	EventOrderItemAdded          EventType = "order.item_added"
	EventOrderShipped            EventType = "order.shipped"
	EventOrderDelivered          EventType = "order.delivered"
	EventOrderCancelled          EventType = "order.cancelled"
	EventOrderCompleted          EventType = "order.completed"
	EventShippingCostCalculated  EventType = "shipping.cost_calculated"
	EventParcelCreated           EventType = "shipping.parcel_created"
	EventRepaymentPreferencesSet EventType = "repayment.preferences_set"
)

// Event is a fact about a committed state change. Every event is keyed by the
// order it belongs to so broker partitioning keeps per-order ordering.
type Event interface {
	EventType() EventType
	AggregateID() string
	AggregateVersion() int
	OccurredAt() time.Time
}

// EventMeta is embedded by every event; its fields are flattened on the wire.
type EventMeta struct {
	OrderID string    `json:"order_id"`
	Version int       `json:"version"`
	At      time.Time `json:"at"`
}

func (m EventMeta) AggregateID() string { return m.OrderID }
func (m EventMeta) AggregateVersion() int { return m.Version }
func (m EventMeta) OccurredAt() time.Time { return m.At }

type OrderCreatedEvent struct {
	EventMeta
	CustomerID          string                `json:"customer_id"`
	TotalAmount         Money                 `json:"total_amount"`
	DeliveryAddress     string                `json:"delivery_address,omitempty"`
	PaymentMethod       string                `json:"payment_method,omitempty"`
	SpecialInstructions string                `json:"special_instructions,omitempty"`
	Items               []OrderItemAddedEvent `json:"items"`
}

func (OrderCreatedEvent) EventType() EventType { return EventOrderCreated }

type OrderItemAddedEvent struct {
	EventMeta
	ItemID    string          `json:"item_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice Money           `json:"unit_price"`
	Weight    decimal.Decimal `json:"weight"`
}

func (OrderItemAddedEvent) EventType() EventType { return EventOrderItemAdded }

type OrderShippedEvent struct {
	EventMeta
	TrackingNumber string    `json:"tracking_number"`
	DeliveryDate   time.Time `json:"delivery_date"`
}

func (OrderShippedEvent) EventType() EventType { return EventOrderShipped }

type OrderDeliveredEvent struct {
	EventMeta
}

func (OrderDeliveredEvent) EventType() EventType { return EventOrderDelivered }

type OrderCancelledEvent struct {
	EventMeta
	PreviousStatus OrderStatus `json:"previous_status"`
}

func (OrderCancelledEvent) EventType() EventType { return EventOrderCancelled }

type OrderCompletedEvent struct {
	EventMeta
}

func (OrderCompletedEvent) EventType() EventType { return EventOrderCompleted }

// ShippingCostCalculatedEvent carries the shipping cost version, not the order version.
type ShippingCostCalculatedEvent struct {
	EventMeta
	Weight         decimal.Decimal `json:"weight"`
	Dimensions     Dimensions      `json:"dimensions"`
	Options        ShippingOptions `json:"options"`
	CalculatedCost Money           `json:"calculated_cost"`
}

func (ShippingCostCalculatedEvent) EventType() EventType { return EventShippingCostCalculated }

type ParcelCreatedEvent struct {
	EventMeta
	ParcelID       string          `json:"parcel_id"`
	TrackingNumber string          `json:"tracking_number"`
	Weight         decimal.Decimal `json:"weight"`
	Dimensions     Dimensions      `json:"dimensions"`
	ItemIDs        []string        `json:"item_ids"`
}

func (ParcelCreatedEvent) EventType() EventType { return EventParcelCreated }

type RepaymentPreferencesSetEvent struct {
	EventMeta
	PreferencesID string             `json:"preferences_id"`
	CustomerID    string             `json:"customer_id"`
	Frequency     RepaymentFrequency `json:"frequency"`
	Type          RepaymentType      `json:"type"`
}

func (RepaymentPreferencesSetEvent) EventType() EventType { return EventRepaymentPreferencesSet }
