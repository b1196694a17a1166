// Package app assembles buses, services, the read-model projector and the
// broker bridge from already opened adapters.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/adapter/messaging"
	"github.com/rl1809/order-fulfillment/internal/config"
	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/projection"
	"github.com/rl1809/order-fulfillment/internal/core/service"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
)

type Dependencies struct {
	Orders      port.OrderRepository
	Shipping    port.ShippingRepository
	Repayments  port.RepaymentRepository
	Projections port.ProjectionStore
	// Inbox de-duplicates broker deliveries; may be nil.
	Inbox   port.Inbox
	Writers messaging.WriterFactory
	// Readers is required in broker projection mode only.
	Readers messaging.ReaderFactory
	Metrics *metrics.Metrics
	Log     *logrus.Logger
	// Options overrides clocks and id generation in tests.
	Options service.Options
}

type App struct {
	Commands  *bus.CommandBus
	Queries   *bus.QueryBus
	Events    *bus.EventBus
	Producer  *messaging.Producer
	Consumer  *messaging.Consumer
	Projector *projection.OrderProjector

	cfg     *config.Config
	inbound *messaging.InboundHandler
	log     *logrus.Logger
}

func New(cfg *config.Config, deps Dependencies) (*App, error) {
	if deps.Orders == nil || deps.Shipping == nil || deps.Repayments == nil || deps.Projections == nil {
		return nil, errors.New("app: command repositories and projection store are required")
	}
	if deps.Writers == nil {
		return nil, errors.New("app: writer factory is required")
	}
	if cfg.ProjectionMode == config.ProjectionBroker && deps.Readers == nil {
		return nil, errors.New("app: broker projection mode needs a reader factory")
	}
	log := deps.Log

	a := &App{
		Commands: bus.NewCommandBus(log, deps.Metrics),
		Queries:  bus.NewQueryBus(log, deps.Metrics),
		Events: bus.NewEventBus(log, deps.Metrics, bus.EventBusOptions{
			Workers:      cfg.EventBusWorkers,
			Retries:      cfg.EventHandlerRetries,
			RetryBackoff: cfg.EventHandlerRetryBackoff,
		}),
		Producer:  messaging.NewProducer(deps.Writers, cfg.TransactionalID, log, deps.Metrics),
		Projector: projection.NewOrderProjector(deps.Projections, log),
		cfg:       cfg,
		log:       log,
	}

	opts := deps.Options
	opts.ConflictRetries = cfg.CommandConflictRetries
	orders := service.NewOrderService(deps.Orders, a.Events, log, opts)
	shipping := service.NewShippingService(deps.Orders, deps.Shipping, a.Events, cfg.ShippingPolicy(), cfg.ParcelPolicy(), log, opts)
	repayments := service.NewRepaymentService(deps.Orders, deps.Repayments, a.Events, log, opts)
	if err := errors.Join(
		orders.Register(a.Commands),
		shipping.Register(a.Commands),
		repayments.Register(a.Commands),
		service.NewQueryService(deps.Projections).Register(a.Queries),
	); err != nil {
		return nil, fmt.Errorf("app: register handlers: %w", err)
	}

	messaging.NewEventRelay(a.Producer, cfg.OrderEventsTopic, log).Register(a.Events)

	switch cfg.ProjectionMode {
	case config.ProjectionBroker:
		a.Consumer = messaging.NewConsumer(deps.Readers, a.Producer, log, deps.Metrics)
		a.inbound = messaging.NewInboundHandler(a.Projector.Handle, deps.Inbox, log)
	default:
		a.Projector.Register(a.Events)
	}
	return a, nil
}

// Start begins consuming the order events topic in broker projection mode.
// It returns immediately; use Wait to observe a fatal consumer error.
func (a *App) Start(ctx context.Context) error {
	if a.Consumer == nil {
		a.log.WithField("mode", a.cfg.ProjectionMode).Info("projection fed from the in-process bus")
		return nil
	}
	a.log.WithFields(logrus.Fields{"mode": a.cfg.ProjectionMode, "topic": a.cfg.OrderEventsTopic}).Info("projection fed from the broker")
	return a.Consumer.Consume(ctx, []string{a.cfg.OrderEventsTopic}, messaging.ConsumerConfig{
		Brokers:          a.cfg.KafkaBrokers,
		GroupID:          a.cfg.KafkaGroupID,
		PartitionWorkers: a.cfg.PartitionWorkers,
	}, a.inbound.Handle)
}

// Wait blocks until the consumer stops. Without a consumer it returns nil
// at once.
func (a *App) Wait() error {
	if a.Consumer == nil {
		return nil
	}
	return a.Consumer.Wait()
}

// Close drains queued events before the transport goes away.
func (a *App) Close() error {
	a.Events.Close()
	var errs []error
	if a.Consumer != nil {
		if err := a.Consumer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Producer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
