package bus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type pingCommand struct {
	Name string
}

func (pingCommand) CommandType() CommandType { return "ping" }

func (c pingCommand) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

type echoQuery struct{ Value int }

func (echoQuery) QueryType() QueryType { return "echo" }

func TestCommandBus_RegisterAndDispatch(t *testing.T) {
	b := NewCommandBus(quietLogger(), nil)

	calls := 0
	require.NoError(t, b.Register("ping", HandleCommand(func(ctx context.Context, c pingCommand) (any, error) {
		calls++
		return "pong " + c.Name, nil
	})))

	res, err := b.Dispatch(context.Background(), pingCommand{Name: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "pong bob", res)
	assert.Equal(t, 1, calls)
}

func TestCommandBus_RejectsInvalidCommandBeforeHandler(t *testing.T) {
	b := NewCommandBus(quietLogger(), nil)
	called := false
	require.NoError(t, b.Register("ping", HandleCommand(func(ctx context.Context, c pingCommand) (any, error) {
		called = true
		return nil, nil
	})))

	_, err := b.Dispatch(context.Background(), pingCommand{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, called)
}

func TestCommandBus_RegistryErrors(t *testing.T) {
	b := NewCommandBus(quietLogger(), nil)
	h := HandleCommand(func(ctx context.Context, c pingCommand) (any, error) { return nil, nil })

	assert.ErrorIs(t, b.Register("", h), ErrTypeRequired)
	assert.ErrorIs(t, b.Register("ping", nil), ErrHandlerRequired)
	require.NoError(t, b.Register("ping", h))
	assert.ErrorIs(t, b.Register("ping", h), ErrAlreadyRegistered)

	b2 := NewCommandBus(quietLogger(), nil)
	_, err := b2.Dispatch(context.Background(), pingCommand{Name: "x"})
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestQueryBus_AskAs(t *testing.T) {
	b := NewQueryBus(quietLogger(), nil)
	require.NoError(t, b.Register("echo", HandleQuery(func(ctx context.Context, q echoQuery) (any, error) {
		return q.Value * 2, nil
	})))

	got, err := AskAs[int](context.Background(), b, echoQuery{Value: 21})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = AskAs[string](context.Background(), b, echoQuery{Value: 1})
	assert.Error(t, err)
}

func shipped(orderID string, version int) domain.OrderShippedEvent {
	return domain.OrderShippedEvent{
		EventMeta:      domain.EventMeta{OrderID: orderID, Version: version, At: time.Now()},
		TrackingNumber: "TRK",
	}
}

func TestEventBus_InlineIsolatesFailingHandlers(t *testing.T) {
	b := NewEventBus(quietLogger(), nil, EventBusOptions{})
	defer b.Close()

	var got []string
	b.Subscribe(domain.EventOrderShipped, "broken", func(ctx context.Context, evt domain.Event) error {
		return errors.New("projection store down")
	})
	b.Subscribe(domain.EventOrderShipped, "panicky", func(ctx context.Context, evt domain.Event) error {
		panic("boom")
	})
	b.Subscribe(domain.EventOrderShipped, "healthy", func(ctx context.Context, evt domain.Event) error {
		got = append(got, evt.AggregateID())
		return nil
	})

	err := b.Publish(context.Background(), shipped("o1", 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHandlerFailure)
	assert.Contains(t, err.Error(), "panic: boom")
	assert.Equal(t, []string{"o1"}, got)
}

func TestEventBus_RetriesUntilSuccess(t *testing.T) {
	b := NewEventBus(quietLogger(), nil, EventBusOptions{Retries: 2})
	defer b.Close()

	attempts := 0
	b.SubscribeAll("flaky", func(ctx context.Context, evt domain.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), shipped("o1", 2)))
	assert.Equal(t, 3, attempts)
}

func TestEventBus_AsyncKeepsPerAggregateOrder(t *testing.T) {
	b := NewEventBus(quietLogger(), nil, EventBusOptions{Workers: 4, QueueSize: 16})

	var mu sync.Mutex
	seen := map[string][]int{}
	b.Subscribe(domain.EventOrderShipped, "recorder", func(ctx context.Context, evt domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[evt.AggregateID()] = append(seen[evt.AggregateID()], evt.AggregateVersion())
		return nil
	})

	for v := 1; v <= 50; v++ {
		require.NoError(t, b.Publish(context.Background(), shipped("a", v), shipped("b", v)))
	}
	b.Close()

	for _, id := range []string{"a", "b"} {
		require.Len(t, seen[id], 50)
		for i, v := range seen[id] {
			assert.Equal(t, i+1, v)
		}
	}
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	b := NewEventBus(quietLogger(), nil, EventBusOptions{Workers: 1})
	b.Close()
	b.Close()
	assert.ErrorIs(t, b.Publish(context.Background(), shipped("o1", 1)), ErrBusClosed)
}
