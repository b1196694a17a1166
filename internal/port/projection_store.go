package port

import (
	"context"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// ProjectionMutator receives the stored projection (zero value when absent)
// and returns the projection to store. Returning changed=false skips the write.
type ProjectionMutator func(current domain.OrderProjection, found bool) (next domain.OrderProjection, changed bool, err error)

type ProjectionStore interface {
	// Upsert runs mutate as an atomic read-modify-write on one projection.
	Upsert(ctx context.Context, id string, mutate ProjectionMutator) error

	// Get returns a projection or domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.OrderProjection, error)

	// Find returns projections newest first.
	Find(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderProjection, error)
}

type Inbox interface {
	// Seen reports whether key was already marked processed.
	Seen(ctx context.Context, key string) (bool, error)

	// MarkProcessed records key; marking twice is not an error.
	MarkProcessed(ctx context.Context, key string) error
}
