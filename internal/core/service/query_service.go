package service

import (
	"context"
	"errors"

	"github.com/rl1809/order-fulfillment/internal/core/bus"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

// QueryService reads projections only; it never touches the command store.
type QueryService struct {
	store port.ProjectionStore
}

func NewQueryService(store port.ProjectionStore) *QueryService {
	return &QueryService{store: store}
}

func (s *QueryService) Register(b *bus.QueryBus) error {
	return errors.Join(
		b.Register(QryFindOrders, bus.HandleQuery(func(ctx context.Context, q FindOrdersQuery) (any, error) {
			return s.FindOrders(ctx, q)
		})),
		b.Register(QryFindOrderByID, bus.HandleQuery(func(ctx context.Context, q FindOrderByIDQuery) (any, error) {
			return s.FindOrderByID(ctx, q)
		})),
	)
}

func (s *QueryService) FindOrders(ctx context.Context, q FindOrdersQuery) ([]domain.OrderProjection, error) {
	return s.store.Find(ctx, q.Filter.Normalize())
}

func (s *QueryService) FindOrderByID(ctx context.Context, q FindOrderByIDQuery) (domain.OrderProjection, error) {
	return s.store.Get(ctx, q.ID)
}
