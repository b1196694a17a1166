package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

type ShippingService struct {
	orders   port.OrderRepository
	shipping port.ShippingRepository
	events   EventPublisher
	pricing  domain.ShippingPolicy
	packing  domain.ParcelPolicy
	log      *logrus.Logger
	opts     Options
}

func NewShippingService(
	orders port.OrderRepository,
	shipping port.ShippingRepository,
	events EventPublisher,
	pricing domain.ShippingPolicy,
	packing domain.ParcelPolicy,
	log *logrus.Logger,
	opts Options,
) *ShippingService {
	return &ShippingService{
		orders:   orders,
		shipping: shipping,
		events:   events,
		pricing:  pricing,
		packing:  packing,
		log:      log,
		opts:     opts.withDefaults(),
	}
}

func (s *ShippingService) Register(b *bus.CommandBus) error {
	return errors.Join(
		b.Register(CmdCalculateShippingCost, bus.HandleCommand(func(ctx context.Context, c CalculateShippingCostCommand) (any, error) {
			return s.CalculateShippingCost(ctx, c)
		})),
		b.Register(CmdCreateParcel, bus.HandleCommand(func(ctx context.Context, c CreateParcelCommand) (any, error) {
			return s.CreateParcel(ctx, c)
		})),
	)
}

// CalculateShippingCost prices the shipment and stores it as the order's
// shipping cost, replacing an earlier quote while keeping its parcels.
func (s *ShippingService) CalculateShippingCost(ctx context.Context, cmd CalculateShippingCostCommand) (domain.ShippingCost, error) {
	order, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return domain.ShippingCost{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.ShippingCost{}, domain.NewInvalidStateError("order %s is cancelled", order.ID)
	}

	cost, err := s.pricing.Calculate(cmd.Weight, cmd.Dimensions, cmd.Options, order.TotalAmount)
	if err != nil {
		return domain.ShippingCost{}, err
	}
	quote := domain.ShippingQuote{
		Weight:     cmd.Weight,
		Dimensions: cmd.Dimensions,
		Options:    cmd.Options,
		Cost:       cost,
	}

	var evt domain.ShippingCostCalculatedEvent
	sc, err := withConflictRetry(s.opts.ConflictRetries, func() (domain.ShippingCost, error) {
		var next domain.ShippingCost
		existing, err := s.shipping.GetShippingCost(ctx, order.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			next, evt, err = domain.NewShippingCost(order.ID, quote, s.opts.Now())
		case err == nil:
			next, evt, err = existing.Recalculate(quote, s.opts.Now())
		}
		if err != nil {
			return domain.ShippingCost{}, err
		}
		if err := s.shipping.SaveShippingCost(ctx, next); err != nil {
			return domain.ShippingCost{}, err
		}
		return next, nil
	})
	if err != nil {
		return domain.ShippingCost{}, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"cost":     sc.CalculatedCost.Amount,
		"currency": sc.CalculatedCost.Currency,
		"version":  sc.Version,
	}).Info("shipping cost calculated")
	publish(ctx, s.log, s.events, evt)
	return sc, nil
}

// CreateParcel packs items of the order into a new parcel attached to the
// order's shipping cost. The tracking number is fixed at creation.
func (s *ShippingService) CreateParcel(ctx context.Context, cmd CreateParcelCommand) (domain.Parcel, error) {
	order, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return domain.Parcel{}, err
	}

	parcelID := s.opts.NewID()
	tracking := trackingNumber(s.opts.NewID())

	var evt domain.ParcelCreatedEvent
	parcel, err := withConflictRetry(s.opts.ConflictRetries, func() (domain.Parcel, error) {
		sc, err := s.shipping.GetShippingCost(ctx, order.ID)
		if err != nil {
			return domain.Parcel{}, err
		}
		assigned, err := s.shipping.ParcelAssignments(ctx, order.ID)
		if err != nil {
			return domain.Parcel{}, err
		}

		now := s.opts.Now()
		var parcel domain.Parcel
		parcel, evt, err = domain.NewParcel(domain.NewParcelParams{
			ID:             parcelID,
			TrackingNumber: tracking,
			Weight:         cmd.Weight,
			Dimensions:     cmd.Dimensions,
			Order:          order,
			ShippingCost:   sc,
			ItemIDs:        cmd.ItemIDs,
			Assigned:       assigned,
			At:             now,
		}, s.packing)
		if err != nil {
			return domain.Parcel{}, err
		}
		if err := s.shipping.CreateParcel(ctx, parcel, sc.AttachParcel(parcel.ID, now)); err != nil {
			return domain.Parcel{}, err
		}
		return parcel, nil
	})
	if err != nil {
		return domain.Parcel{}, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"parcel_id": parcel.ID,
		"tracking":  parcel.TrackingNumber,
		"items":     len(parcel.ItemIDs),
	}).Info("parcel created")
	publish(ctx, s.log, s.events, evt)
	return parcel, nil
}

func trackingNumber(seed string) string {
	raw := strings.ToUpper(strings.ReplaceAll(seed, "-", ""))
	if len(raw) > 12 {
		raw = raw[:12]
	}
	return "TRK-" + raw
}
