// Package bus routes commands and queries to exactly one registered handler
// and fans events out to any number of subscribers. Routing is an explicit
// registry keyed by type identifier, filled once at startup.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
)

const tracerName = "github.com/rl1809/order-fulfillment/internal/core/bus"

var (
	ErrTypeRequired      = errors.New("type is required")
	ErrHandlerRequired   = errors.New("handler is required")
	ErrAlreadyRegistered = errors.New("handler already registered")
	ErrNotRegistered     = errors.New("no handler registered")
)

type CommandType string

// Command is a data-only intent to change state.
type Command interface {
	CommandType() CommandType
}

// Validator is implemented by commands and queries that can be rejected
// before reaching their handler.
type Validator interface {
	Validate() error
}

type CommandHandler func(ctx context.Context, cmd Command) (any, error)

// HandleCommand adapts a handler for one concrete command type.
func HandleCommand[C Command](fn func(ctx context.Context, cmd C) (any, error)) CommandHandler {
	return func(ctx context.Context, cmd Command) (any, error) {
		c, ok := cmd.(C)
		if !ok {
			return nil, fmt.Errorf("command %s: unexpected payload %T", cmd.CommandType(), cmd)
		}
		return fn(ctx, c)
	}
}

type CommandBus struct {
	mu       sync.RWMutex
	handlers map[CommandType]CommandHandler
	log      *logrus.Logger
	metrics  *metrics.Metrics
}

func NewCommandBus(log *logrus.Logger, m *metrics.Metrics) *CommandBus {
	return &CommandBus{
		handlers: make(map[CommandType]CommandHandler),
		log:      log,
		metrics:  m,
	}
}

func (b *CommandBus) Register(t CommandType, h CommandHandler) error {
	if t == "" {
		return ErrTypeRequired
	}
	if h == nil {
		return fmt.Errorf("command %s: %w", t, ErrHandlerRequired)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("command %s: %w", t, ErrAlreadyRegistered)
	}
	b.handlers[t] = h
	return nil
}

// Dispatch validates cmd, runs its handler and returns the handler result.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (result any, err error) {
	if cmd == nil {
		return nil, domain.NewValidationError("command is required")
	}
	t := cmd.CommandType()

	b.mu.RLock()
	h, ok := b.handlers[t]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("command %s: %w", t, ErrNotRegistered)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "command "+string(t))
	span.SetAttributes(attribute.String("command.type", string(t)))
	start := time.Now()
	defer func() {
		b.metrics.ObserveCommand(string(t), err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			b.log.WithFields(logrus.Fields{"command": t, "error": err}).Warn("command rejected")
		}
		span.End()
	}()

	if v, ok := cmd.(Validator); ok {
		if err := v.Validate(); err != nil {
			if !errors.Is(err, domain.ErrValidation) {
				err = &domain.Error{Kind: domain.KindValidation, Message: "invalid command", Cause: err}
			}
			return nil, err
		}
	}
	return h(ctx, cmd)
}
