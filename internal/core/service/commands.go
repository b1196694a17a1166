package service

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const (
	CmdCreateOrder             bus.CommandType = "order.create"
	CmdAddOrderItem            bus.CommandType = "order.add_item"
	CmdShipOrder               bus.CommandType = "order.ship"
	CmdDeliverOrder            bus.CommandType = "order.deliver"
	CmdCancelOrder             bus.CommandType = "order.cancel"
	CmdCompleteOrder           bus.CommandType = "order.complete"
	CmdCalculateShippingCost   bus.CommandType = "shipping.calculate_cost"
	CmdCreateParcel            bus.CommandType = "shipping.create_parcel"
	CmdSetRepaymentPreferences bus.CommandType = "repayment.set_preferences"

	QryFindOrders    bus.QueryType = "orders.find"
	QryFindOrderByID bus.QueryType = "orders.find_by_id"
)

// ItemInput describes an item to add; the item id is assigned by the handler.
type ItemInput struct {
	ProductID string
	Quantity  int
	UnitPrice domain.Money
	Weight    decimal.Decimal
}

func (in ItemInput) validate(i int) error {
	if strings.TrimSpace(in.ProductID) == "" {
		return domain.NewValidationError("item %d: product id is required", i)
	}
	if in.Quantity <= 0 {
		return domain.NewValidationError("item %d: quantity must be > 0", i)
	}
	if !in.Weight.IsPositive() {
		return domain.NewValidationError("item %d: weight must be positive", i)
	}
	return in.UnitPrice.Validate()
}

type CreateOrderCommand struct {
	CustomerID          string
	TotalAmount         domain.Money
	Items               []ItemInput
	DeliveryAddress     string
	PaymentMethod       string
	SpecialInstructions string
}

func (CreateOrderCommand) CommandType() bus.CommandType { return CmdCreateOrder }

func (c CreateOrderCommand) Validate() error {
	if strings.TrimSpace(c.CustomerID) == "" {
		return domain.NewValidationError("customer id is required")
	}
	if err := c.TotalAmount.Validate(); err != nil {
		return err
	}
	if len(c.Items) == 0 {
		return domain.NewValidationError("at least one item is required")
	}
	for i, item := range c.Items {
		if err := item.validate(i); err != nil {
			return err
		}
	}
	return nil
}

type AddOrderItemCommand struct {
	OrderID string
	Item    ItemInput
}

func (AddOrderItemCommand) CommandType() bus.CommandType { return CmdAddOrderItem }

func (c AddOrderItemCommand) Validate() error {
	if err := requireOrderID(c.OrderID); err != nil {
		return err
	}
	return c.Item.validate(0)
}

type ShipOrderCommand struct {
	OrderID        string
	TrackingNumber string
	DeliveryDate   time.Time
}

func (ShipOrderCommand) CommandType() bus.CommandType { return CmdShipOrder }

func (c ShipOrderCommand) Validate() error {
	if err := requireOrderID(c.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(c.TrackingNumber) == "" {
		return domain.NewValidationError("tracking number is required")
	}
	if c.DeliveryDate.IsZero() {
		return domain.NewValidationError("delivery date is required")
	}
	return nil
}

type DeliverOrderCommand struct{ OrderID string }

func (DeliverOrderCommand) CommandType() bus.CommandType { return CmdDeliverOrder }
func (c DeliverOrderCommand) Validate() error { return requireOrderID(c.OrderID) }

type CancelOrderCommand struct{ OrderID string }

func (CancelOrderCommand) CommandType() bus.CommandType { return CmdCancelOrder }
func (c CancelOrderCommand) Validate() error { return requireOrderID(c.OrderID) }

type CompleteOrderCommand struct{ OrderID string }

func (CompleteOrderCommand) CommandType() bus.CommandType { return CmdCompleteOrder }
func (c CompleteOrderCommand) Validate() error { return requireOrderID(c.OrderID) }

type CalculateShippingCostCommand struct {
	OrderID    string
	Weight     decimal.Decimal
	Dimensions domain.Dimensions
	Options    domain.ShippingOptions
}

func (CalculateShippingCostCommand) CommandType() bus.CommandType { return CmdCalculateShippingCost }

func (c CalculateShippingCostCommand) Validate() error {
	if err := requireOrderID(c.OrderID); err != nil {
		return err
	}
	if !c.Weight.IsPositive() {
		return domain.NewValidationError("weight must be positive")
	}
	return c.Dimensions.Validate()
}

type CreateParcelCommand struct {
	OrderID    string
	Weight     decimal.Decimal
	Dimensions domain.Dimensions
	ItemIDs    []string
}

func (CreateParcelCommand) CommandType() bus.CommandType { return CmdCreateParcel }

func (c CreateParcelCommand) Validate() error {
	if err := requireOrderID(c.OrderID); err != nil {
		return err
	}
	if !c.Weight.IsPositive() {
		return domain.NewValidationError("weight must be positive")
	}
	if len(c.ItemIDs) == 0 {
		return domain.NewValidationError("a parcel needs at least one item")
	}
	return c.Dimensions.Validate()
}

type SetRepaymentPreferencesCommand struct {
	OrderID     string
	CustomerID  string
	Frequency   domain.RepaymentFrequency
	Type        domain.RepaymentType
	BankAccount *domain.BankAccount
}

func (SetRepaymentPreferencesCommand) CommandType() bus.CommandType {
	return CmdSetRepaymentPreferences
}

func (c SetRepaymentPreferencesCommand) Validate() error {
	if err := requireOrderID(c.OrderID); err != nil {
		return err
	}
	if strings.TrimSpace(c.CustomerID) == "" {
		return domain.NewValidationError("customer id is required")
	}
	return nil
}

type FindOrdersQuery struct {
	Filter domain.OrderFilter
}

func (FindOrdersQuery) QueryType() bus.QueryType { return QryFindOrders }

type FindOrderByIDQuery struct {
	ID string
}

func (FindOrderByIDQuery) QueryType() bus.QueryType { return QryFindOrderByID }
func (q FindOrderByIDQuery) Validate() error { return requireOrderID(q.ID) }

func requireOrderID(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("order id is required")
	}
	return nil
}
