package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type memInbox struct {
	mu      sync.Mutex
	keys    map[string]bool
	seenErr error
}

func newMemInbox() *memInbox { return &memInbox{keys: make(map[string]bool)} }

func (i *memInbox) Seen(ctx context.Context, key string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.seenErr != nil {
		return false, i.seenErr
	}
	return i.keys[key], nil
}

func (i *memInbox) MarkProcessed(ctx context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.keys[key] = true
	return nil
}

type applied struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (a *applied) apply(ctx context.Context, evt domain.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, evt)
	return nil
}

func (a *applied) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func TestEventRelay_ForwardsBusEvents(t *testing.T) {
	broker := newFakeBroker()
	producer := NewProducer(broker.WriterFactory(), "tx", quietLogger(), nil)
	defer producer.Close()

	events := bus.NewEventBus(quietLogger(), nil, bus.EventBusOptions{})
	defer events.Close()
	NewEventRelay(producer, "order-events", quietLogger()).Register(events)

	created := domain.OrderCreatedEvent{EventMeta: domain.EventMeta{OrderID: "o1", Version: 1, At: at}, CustomerID: "c1"}
	shipped := domain.OrderShippedEvent{EventMeta: domain.EventMeta{OrderID: "o1", Version: 2, At: at}, TrackingNumber: "TRK-1"}
	require.NoError(t, events.Publish(context.Background(), created, shipped))

	msgs := broker.messages("order-events")
	require.Len(t, msgs, 2)
	assert.Equal(t, string(domain.EventOrderCreated), header(msgs[0], HeaderEventType))
	assert.Equal(t, string(domain.EventOrderShipped), header(msgs[1], HeaderEventType))
	assert.Equal(t, []byte("o1"), msgs[1].Key)
}

func TestEventRelay_DeliveryFailureReachesBus(t *testing.T) {
	broker := newFakeBroker()
	broker.writeErr = errors.New("not enough replicas")
	producer := NewProducer(broker.WriterFactory(), "tx", quietLogger(), nil)
	defer producer.Close()

	err := NewEventRelay(producer, "order-events", quietLogger()).Forward(context.Background(),
		domain.OrderDeliveredEvent{EventMeta: domain.EventMeta{OrderID: "o1", Version: 3, At: at}})
	assert.ErrorIs(t, err, domain.ErrDeliveryFailure)
}

func TestInboundHandler_AppliesOnceByEventID(t *testing.T) {
	var sink applied
	inbox := newMemInbox()
	h := NewInboundHandler(sink.apply, inbox, quietLogger())

	msg, err := Encode(domain.OrderCancelledEvent{
		EventMeta:      domain.EventMeta{OrderID: "o1", Version: 2, At: at},
		PreviousStatus: domain.OrderStatusPending,
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, domain.EventOrderCancelled, sink.events[0].EventType())
}

func TestInboundHandler_FailureLeavesEventUnmarked(t *testing.T) {
	sink := applied{err: errors.New("store down")}
	inbox := newMemInbox()
	h := NewInboundHandler(sink.apply, inbox, quietLogger())

	msg, err := Encode(domain.OrderCompletedEvent{EventMeta: domain.EventMeta{OrderID: "o1", Version: 4, At: at}})
	require.NoError(t, err)

	assert.Error(t, h.Handle(context.Background(), msg))
	seen, err := inbox.Seen(context.Background(), header(msg, HeaderEventID))
	require.NoError(t, err)
	assert.False(t, seen)

	sink.err = nil
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 1, sink.count())
}

func TestInboundHandler_InboxErrorIsReturned(t *testing.T) {
	var sink applied
	inbox := newMemInbox()
	inbox.seenErr = errors.New("redis: connection refused")
	h := NewInboundHandler(sink.apply, inbox, quietLogger())

	msg, err := Encode(domain.OrderCompletedEvent{EventMeta: domain.EventMeta{OrderID: "o1", Version: 4, At: at}})
	require.NoError(t, err)
	assert.Error(t, h.Handle(context.Background(), msg))
	assert.Zero(t, sink.count())
}

func TestInboundHandler_WithoutInbox(t *testing.T) {
	var sink applied
	h := NewInboundHandler(sink.apply, nil, quietLogger())
	assert.Error(t, h.Handle(context.Background(), kafka.Message{Value: []byte("garbage")}))

	msg, err := Encode(domain.OrderCompletedEvent{EventMeta: domain.EventMeta{OrderID: "o1", Version: 4, At: at}})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), msg))
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Equal(t, 2, sink.count())
}

// A message that fails once goes to the dead-letter topic; replaying that
// topic through the same inbound handler applies the event exactly once.
func TestDeadLetterReplayAppliesOnce(t *testing.T) {
	broker := newFakeBroker()
	producer := NewProducer(broker.WriterFactory(), "tx", quietLogger(), nil)
	defer producer.Close()

	msg, err := Encode(domain.OrderShippedEvent{EventMeta: domain.EventMeta{OrderID: "o1", Version: 2, At: at}, TrackingNumber: "TRK-9"})
	require.NoError(t, err)
	msg.Offset = 10

	sink := applied{err: errors.New("projection store unavailable")}
	inbox := newMemInbox()
	inbound := NewInboundHandler(sink.apply, inbox, quietLogger())

	primary := newFakeReader("order-events", msg)
	readers := newReaderSet(primary)
	c := NewConsumer(readers.Factory(), producer, quietLogger(), nil)
	require.NoError(t, c.Consume(context.Background(), []string{"order-events"}, ConsumerConfig{}, inbound.Handle))
	require.Eventually(t, func() bool { return len(primary.commits()) == 1 }, eventually, 5*time.Millisecond)

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	parked := broker.messages("order-events-dlq")
	require.Len(t, parked, 1)
	replay := newFakeReader("order-events-dlq", parked[0], parked[0])
	readers.mu.Lock()
	readers.readers[replay.topic] = replay
	readers.mu.Unlock()

	require.NoError(t, c.Consume(context.Background(), []string{replay.topic}, ConsumerConfig{}, inbound.Handle))
	require.Eventually(t, func() bool { return len(replay.commits()) == 2 }, eventually, 5*time.Millisecond)
	require.NoError(t, c.Close())

	assert.Equal(t, 1, sink.count())
	assert.Len(t, broker.messages("order-events-dlq"), 1)
}
