package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

// Publisher is satisfied by *Producer.
type Publisher interface {
	Produce(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// EventRelay forwards every committed domain event to a broker topic.
type EventRelay struct {
	producer Publisher
	topic    string
	log      *logrus.Logger
}

func NewEventRelay(producer Publisher, topic string, log *logrus.Logger) *EventRelay {
	return &EventRelay{producer: producer, topic: topic, log: log}
}

func (r *EventRelay) Register(b *bus.EventBus) {
	b.SubscribeAll("relay."+r.topic, r.Forward)
}

func (r *EventRelay) Forward(ctx context.Context, evt domain.Event) error {
	msg, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := r.producer.Produce(ctx, r.topic, msg); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{
		"topic":      r.topic,
		"order_id":   evt.AggregateID(),
		"event_type": evt.EventType(),
		"version":    evt.AggregateVersion(),
	}).Debug("event relayed")
	return nil
}

// InboundHandler turns broker messages back into domain events and hands
// them to apply. With an inbox, a message whose event was already applied is
// acknowledged without applying it again.
type InboundHandler struct {
	apply bus.EventHandler
	inbox port.Inbox
	log   *logrus.Logger
}

func NewInboundHandler(apply bus.EventHandler, inbox port.Inbox, log *logrus.Logger) *InboundHandler {
	return &InboundHandler{apply: apply, inbox: inbox, log: log}
}

func (h *InboundHandler) Handle(ctx context.Context, msg kafka.Message) error {
	env, evt, err := Decode(msg.Value)
	if err != nil {
		return err
	}
	entry := h.log.WithFields(logrus.Fields{
		"event_id":   env.EventID,
		"event_type": env.EventType,
		"order_id":   env.AggregateID,
	})

	if h.inbox != nil {
		seen, err := h.inbox.Seen(ctx, env.EventID)
		if err != nil {
			return err
		}
		if seen {
			entry.Debug("duplicate event skipped")
			return nil
		}
	}

	if err := h.apply(ctx, evt); err != nil {
		return err
	}

	if h.inbox != nil {
		if err := h.inbox.MarkProcessed(ctx, env.EventID); err != nil {
			entry.WithField("error", err).Warn("failed to record processed event")
		}
	}
	return nil
}
