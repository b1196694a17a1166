package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

type RepaymentService struct {
	orders      port.OrderRepository
	preferences port.RepaymentRepository
	events      EventPublisher
	log         *logrus.Logger
	opts        Options
}

func NewRepaymentService(orders port.OrderRepository, preferences port.RepaymentRepository, events EventPublisher, log *logrus.Logger, opts Options) *RepaymentService {
	return &RepaymentService{
		orders:      orders,
		preferences: preferences,
		events:      events,
		log:         log,
		opts:        opts.withDefaults(),
	}
}

func (s *RepaymentService) Register(b *bus.CommandBus) error {
	return b.Register(CmdSetRepaymentPreferences, bus.HandleCommand(func(ctx context.Context, c SetRepaymentPreferencesCommand) (any, error) {
		return s.SetRepaymentPreferences(ctx, c)
	}))
}

// SetRepaymentPreferences upserts the preferences of an order. An existing
// record keeps its id.
func (s *RepaymentService) SetRepaymentPreferences(ctx context.Context, cmd SetRepaymentPreferencesCommand) (domain.RepaymentPreferences, error) {
	order, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return domain.RepaymentPreferences{}, err
	}

	id := s.opts.NewID()
	existing, err := s.preferences.GetRepaymentPreferences(ctx, order.ID)
	switch {
	case err == nil:
		id = existing.ID
	case !errors.Is(err, domain.ErrNotFound):
		return domain.RepaymentPreferences{}, err
	}

	prefs, evt, err := domain.NewRepaymentPreferences(domain.RepaymentParams{
		ID:          id,
		Order:       order,
		CustomerID:  cmd.CustomerID,
		Frequency:   cmd.Frequency,
		Type:        cmd.Type,
		BankAccount: cmd.BankAccount,
		At:          s.opts.Now(),
	})
	if err != nil {
		return domain.RepaymentPreferences{}, err
	}
	if err := s.preferences.SaveRepaymentPreferences(ctx, prefs); err != nil {
		return domain.RepaymentPreferences{}, err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"frequency": prefs.Frequency,
		"type":      prefs.Type,
	}).Info("repayment preferences set")
	publish(ctx, s.log, s.events, evt)
	return prefs, nil
}
