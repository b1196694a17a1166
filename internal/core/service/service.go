package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// EventPublisher receives events after the state they describe is committed.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
}

type Options struct {
	Now   func() time.Time
	NewID func() string
	// ConflictRetries is how many times a command reloads and reapplies after
	// losing an optimistic-lock race.
	ConflictRetries int
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.ConflictRetries < 0 {
		o.ConflictRetries = 0
	}
	return o
}

// publish never fails the command: the state is already committed and
// subscriber failures are reported by the bus itself.
func publish(ctx context.Context, log *logrus.Logger, pub EventPublisher, events ...domain.Event) {
	if err := pub.Publish(ctx, events...); err != nil {
		log.WithFields(logrus.Fields{
			"order_id":   events[0].AggregateID(),
			"event_type": events[0].EventType(),
		}).Warnf("events published with failures: %v", err)
	}
}

// withConflictRetry runs attempt until it succeeds, fails with anything other
// than a conflict, or the retry budget runs out.
func withConflictRetry[T any](retries int, attempt func() (T, error)) (T, error) {
	var (
		res T
		err error
	)
	for i := 0; i <= retries; i++ {
		res, err = attempt()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return res, err
		}
	}
	return res, err
}
