package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
)

type QueryType string

type Query interface {
	QueryType() QueryType
}

type QueryHandler func(ctx context.Context, q Query) (any, error)

func HandleQuery[Q Query](fn func(ctx context.Context, q Q) (any, error)) QueryHandler {
	return func(ctx context.Context, q Query) (any, error) {
		typed, ok := q.(Q)
		if !ok {
			return nil, fmt.Errorf("query %s: unexpected payload %T", q.QueryType(), q)
		}
		return fn(ctx, typed)
	}
}

type QueryBus struct {
	mu       sync.RWMutex
	handlers map[QueryType]QueryHandler
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

func NewQueryBus(log *logrus.Logger, m *metrics.Metrics) *QueryBus {
	return &QueryBus{
		handlers: make(map[QueryType]QueryHandler),
		log:      log,
		metrics:  m,
	}
}

func (b *QueryBus) Register(t QueryType, h QueryHandler) error {
	if t == "" {
		return ErrTypeRequired
	}
	if h == nil {
		return fmt.Errorf("query %s: %w", t, ErrHandlerRequired)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("query %s: %w", t, ErrAlreadyRegistered)
	}
	b.handlers[t] = h
	return nil
}

func (b *QueryBus) Ask(ctx context.Context, q Query) (result any, err error) {
	if q == nil {
		return nil, domain.NewValidationError("query is required")
	}
	t := q.QueryType()

	b.mu.RLock()
	h, ok := b.handlers[t]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("query %s: %w", t, ErrNotRegistered)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "query "+string(t))
	span.SetAttributes(attribute.String("query.type", string(t)))
	defer func() {
		b.metrics.ObserveQuery(string(t), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if v, ok := q.(Validator); ok {
		if err := v.Validate(); err != nil {
			if !errors.Is(err, domain.ErrValidation) {
				err = &domain.Error{Kind: domain.KindValidation, Message: "invalid query", Cause: err}
			}
			return nil, err
		}
	}
	return h(ctx, q)
}

// AskAs dispatches q and asserts the result type.
func AskAs[R any](ctx context.Context, b *QueryBus, q Query) (R, error) {
	var zero R
	res, err := b.Ask(ctx, q)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("query %s: unexpected result %T", q.QueryType(), res)
	}
	return typed, nil
}
