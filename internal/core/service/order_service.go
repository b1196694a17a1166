package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

type OrderService struct {
	orders port.OrderRepository
	events EventPublisher
	log    *logrus.Logger
	opts   Options
}

func NewOrderService(orders port.OrderRepository, events EventPublisher, log *logrus.Logger, opts Options) *OrderService {
	return &OrderService{
		orders: orders,
		events: events,
		log:    log,
		opts:   opts.withDefaults(),
	}
}

func (s *OrderService) Register(b *bus.CommandBus) error {
	return errors.Join(
		b.Register(CmdCreateOrder, bus.HandleCommand(func(ctx context.Context, c CreateOrderCommand) (any, error) {
			return s.CreateOrder(ctx, c)
		})),
		b.Register(CmdAddOrderItem, bus.HandleCommand(func(ctx context.Context, c AddOrderItemCommand) (any, error) {
			return s.AddOrderItem(ctx, c)
		})),
		b.Register(CmdShipOrder, bus.HandleCommand(func(ctx context.Context, c ShipOrderCommand) (any, error) {
			return s.ShipOrder(ctx, c)
		})),
		b.Register(CmdDeliverOrder, bus.HandleCommand(func(ctx context.Context, c DeliverOrderCommand) (any, error) {
			return s.DeliverOrder(ctx, c)
		})),
		b.Register(CmdCancelOrder, bus.HandleCommand(func(ctx context.Context, c CancelOrderCommand) (any, error) {
			return s.CancelOrder(ctx, c)
		})),
		b.Register(CmdCompleteOrder, bus.HandleCommand(func(ctx context.Context, c CompleteOrderCommand) (any, error) {
			return s.CompleteOrder(ctx, c)
		})),
	)
}

func (s *OrderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		items = append(items, s.newItem(in))
	}

	order, evt, err := domain.NewOrder(domain.NewOrderParams{
		ID:                  s.opts.NewID(),
		CustomerID:          cmd.CustomerID,
		TotalAmount:         cmd.TotalAmount,
		DeliveryAddress:     cmd.DeliveryAddress,
		PaymentMethod:       cmd.PaymentMethod,
		SpecialInstructions: cmd.SpecialInstructions,
		Items:               items,
		At:                  s.opts.Now(),
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"items":       len(order.Items),
	}).Info("order created")
	publish(ctx, s.log, s.events, evt)
	return order, nil
}

func (s *OrderService) AddOrderItem(ctx context.Context, cmd AddOrderItemCommand) (domain.Order, error) {
	item := s.newItem(cmd.Item)
	return s.mutate(ctx, cmd.OrderID, func(o domain.Order) (domain.Order, domain.Event, error) {
		return o.AddItem(item, s.opts.Now())
	})
}

func (s *OrderService) ShipOrder(ctx context.Context, cmd ShipOrderCommand) (domain.Order, error) {
	return s.mutate(ctx, cmd.OrderID, func(o domain.Order) (domain.Order, domain.Event, error) {
		return o.Ship(cmd.TrackingNumber, cmd.DeliveryDate, s.opts.Now())
	})
}

func (s *OrderService) DeliverOrder(ctx context.Context, cmd DeliverOrderCommand) (domain.Order, error) {
	return s.mutate(ctx, cmd.OrderID, func(o domain.Order) (domain.Order, domain.Event, error) {
		return o.Deliver(s.opts.Now())
	})
}

func (s *OrderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	return s.mutate(ctx, cmd.OrderID, func(o domain.Order) (domain.Order, domain.Event, error) {
		return o.Cancel(s.opts.Now())
	})
}

func (s *OrderService) CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (domain.Order, error) {
	return s.mutate(ctx, cmd.OrderID, func(o domain.Order) (domain.Order, domain.Event, error) {
		return o.Complete(s.opts.Now())
	})
}

func (s *OrderService) newItem(in ItemInput) domain.OrderItem {
	return domain.OrderItem{
		ID:        s.opts.NewID(),
		ProductID: in.ProductID,
		Quantity:  in.Quantity,
		UnitPrice: domain.NewMoney(in.UnitPrice.Currency, in.UnitPrice.Amount),
		Weight:    in.Weight,
	}
}

// mutate loads the order, applies fn and stores the result under the
// version check. Events are published only once the update is committed.
func (s *OrderService) mutate(ctx context.Context, orderID string, fn func(domain.Order) (domain.Order, domain.Event, error)) (domain.Order, error) {
	var evt domain.Event
	next, err := withConflictRetry(s.opts.ConflictRetries, func() (domain.Order, error) {
		current, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		next, e, err := fn(current)
		if err != nil {
			return domain.Order{}, err
		}
		if err := s.orders.Update(ctx, next); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				s.log.WithFields(logrus.Fields{"order_id": orderID, "version": next.Version}).Debug("order changed underneath, retrying")
			}
			return domain.Order{}, err
		}
		evt = e
		return next, nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":   next.ID,
		"status":     next.Status,
		"version":    next.Version,
		"event_type": evt.EventType(),
	}).Info("order updated")
	publish(ctx, s.log, s.events, evt)
	return next, nil
}
