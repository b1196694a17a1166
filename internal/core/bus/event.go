package bus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
)

var ErrBusClosed = errors.New("event bus closed")

type EventHandler func(ctx context.Context, evt domain.Event) error

type EventBusOptions struct {
	// Workers > 0 makes Publish asynchronous. Events of one aggregate always
	// land on the same worker so their order is kept.
	Workers   int
	QueueSize int
	// Retries is the number of extra attempts per failing handler.
	Retries      int
	RetryBackoff time.Duration
}

type subscription struct {
	name    string
	handler EventHandler
}

type queuedEvent struct {
	ctx context.Context
	evt domain.Event
}

// EventBus fans every published event out to its subscribers. A failing or
// panicking subscriber never prevents the others from running.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[domain.EventType][]subscription
	all     []subscription
	closed  bool
	queues  []chan queuedEvent
	wg      sync.WaitGroup
	opts    EventBusOptions
	log     *logrus.Logger
	metrics *metrics.Metrics
}

func NewEventBus(log *logrus.Logger, m *metrics.Metrics, opts EventBusOptions) *EventBus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	b := &EventBus{
		subs:    make(map[domain.EventType][]subscription),
		opts:    opts,
		log:     log,
		metrics: m,
	}
	for i := 0; i < opts.Workers; i++ {
		q := make(chan queuedEvent, opts.QueueSize)
		b.queues = append(b.queues, q)
		b.wg.Add(1)
		go func(id int) {
			defer b.wg.Done()
			b.workerLoop(id, q)
		}(i)
	}
	return b
}

func (b *EventBus) Subscribe(t domain.EventType, name string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], subscription{name: name, handler: h})
}

// SubscribeAll registers h for every event type.
func (b *EventBus) SubscribeAll(name string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, subscription{name: name, handler: h})
}

// Publish delivers events in order. In inline mode it returns the joined
// handler failures; in async mode it only reports enqueue failures.
func (b *EventBus) Publish(ctx context.Context, events ...domain.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}

	if len(b.queues) == 0 {
		b.mu.RUnlock()
		var errs []error
		for _, evt := range events {
			if err := b.dispatch(ctx, evt); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	defer b.mu.RUnlock()
	detached := context.WithoutCancel(ctx)
	for _, evt := range events {
		q := b.queues[shard(evt.AggregateID(), len(b.queues))]
		select {
		case q <- queuedEvent{ctx: detached, evt: evt}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be handled.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *EventBus) workerLoop(id int, queue <-chan queuedEvent) {
	for item := range queue {
		if err := b.dispatch(item.ctx, item.evt); err != nil {
			b.log.WithFields(logrus.Fields{
				"worker":     id,
				"event_type": item.evt.EventType(),
				"order_id":   item.evt.AggregateID(),
			}).Warnf("event handled with failures: %v", err)
		}
	}
}

func (b *EventBus) dispatch(ctx context.Context, evt domain.Event) error {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs[evt.EventType()])+len(b.all))
	subs = append(subs, b.subs[evt.EventType()]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if err := b.deliver(ctx, sub, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *EventBus) deliver(ctx context.Context, sub subscription, evt domain.Event) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "event "+string(evt.EventType()))
	span.SetAttributes(
		attribute.String("event.type", string(evt.EventType())),
		attribute.String("event.handler", sub.name),
		attribute.String("order.id", evt.AggregateID()),
	)
	defer span.End()

	var err error
	for attempt := 0; attempt <= b.opts.Retries; attempt++ {
		if attempt > 0 && b.opts.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-time.After(b.opts.RetryBackoff * time.Duration(attempt)):
			}
			if ctx.Err() != nil {
				break
			}
		}
		err = invoke(ctx, sub.handler, evt)
		if err == nil {
			break
		}
	}
	b.metrics.ObserveEvent(string(evt.EventType()), sub.name, err)
	if err == nil {
		return nil
	}

	err = domain.WrapHandler(fmt.Sprintf("handler %s failed on %s for order %s", sub.name, evt.EventType(), evt.AggregateID()), err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	b.log.WithFields(logrus.Fields{
		"handler":    sub.name,
		"event_type": evt.EventType(),
		"order_id":   evt.AggregateID(),
		"version":    evt.AggregateVersion(),
	}).Errorf("event handler failed: %v", err)
	return err
}

func invoke(ctx context.Context, h EventHandler, evt domain.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, evt)
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
