package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testOptions() Options {
	var seq atomic.Int64
	return Options{
		Now:             func() time.Time { return testNow },
		NewID:           func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
		ConflictRetries: 3,
	}
}

// Mock OrderRepository
type mockOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	failWrite error
	// beforeUpdate runs with the lock released, just before the version check.
	beforeUpdate func()
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]domain.Order)}
}

func (m *mockOrderRepo) Create(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return domain.WrapPersistence("create order", m.failWrite)
	}
	if _, exists := m.orders[order.ID]; exists {
		return domain.NewConflictError("order", order.ID)
	}
	m.orders[order.ID] = order
	return nil
}

func (m *mockOrderRepo) Get(ctx context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.NewNotFoundError("order", id)
	}
	return o, nil
}

func (m *mockOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return domain.WrapPersistence("update order", m.failWrite)
	}
	current, ok := m.orders[order.ID]
	if !ok {
		return domain.NewNotFoundError("order", order.ID)
	}
	if current.Version != order.Version-1 {
		return domain.NewConflictError("order", order.ID)
	}
	m.orders[order.ID] = order
	return nil
}

func (m *mockOrderRepo) put(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

// Mock ShippingRepository
type mockShippingRepo struct {
	mu      sync.Mutex
	costs   map[string]domain.ShippingCost
	parcels map[string]domain.Parcel
}

func newMockShippingRepo() *mockShippingRepo {
	return &mockShippingRepo{
		costs:   make(map[string]domain.ShippingCost),
		parcels: make(map[string]domain.Parcel),
	}
}

func (m *mockShippingRepo) GetShippingCost(ctx context.Context, orderID string) (domain.ShippingCost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.costs[orderID]
	if !ok {
		return domain.ShippingCost{}, domain.NewNotFoundError("shipping cost", orderID)
	}
	return sc, nil
}

func (m *mockShippingRepo) SaveShippingCost(ctx context.Context, cost domain.ShippingCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(cost)
}

func (m *mockShippingRepo) saveLocked(cost domain.ShippingCost) error {
	current, ok := m.costs[cost.OrderID]
	if (!ok && cost.Version != 1) || (ok && current.Version != cost.Version-1) {
		return domain.NewConflictError("shipping cost", cost.OrderID)
	}
	m.costs[cost.OrderID] = cost
	return nil
}

func (m *mockShippingRepo) CreateParcel(ctx context.Context, parcel domain.Parcel, cost domain.ShippingCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(cost); err != nil {
		return err
	}
	m.parcels[parcel.ID] = parcel
	return nil
}

func (m *mockShippingRepo) ParcelAssignments(ctx context.Context, orderID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for _, p := range m.parcels {
		if p.OrderID != orderID {
			continue
		}
		for _, id := range p.ItemIDs {
			out[id] = p.ID
		}
	}
	return out, nil
}

// Mock RepaymentRepository
type mockRepaymentRepo struct {
	mu    sync.Mutex
	prefs map[string]domain.RepaymentPreferences
}

func (m *mockRepaymentRepo) GetRepaymentPreferences(ctx context.Context, orderID string) (domain.RepaymentPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[orderID]
	if !ok {
		return domain.RepaymentPreferences{}, domain.NewNotFoundError("repayment preferences", orderID)
	}
	return p, nil
}

func (m *mockRepaymentRepo) SaveRepaymentPreferences(ctx context.Context, prefs domain.RepaymentPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs == nil {
		m.prefs = make(map[string]domain.RepaymentPreferences)
	}
	m.prefs[prefs.OrderID] = prefs
	return nil
}

// Mock ProjectionStore
type mockProjectionStore struct {
	mu    sync.Mutex
	items map[string]domain.OrderProjection
	last  domain.OrderFilter
}

func (m *mockProjectionStore) Upsert(ctx context.Context, id string, mutate port.ProjectionMutator) error {
	return errors.New("not used")
}

func (m *mockProjectionStore) Get(ctx context.Context, id string) (domain.OrderProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return domain.OrderProjection{}, domain.NewNotFoundError("order projection", id)
	}
	return p, nil
}

func (m *mockProjectionStore) Find(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderProjection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = filter
	var out []domain.OrderProjection
	for _, p := range m.items {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, events ...domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return r.err
}

func (r *recordingPublisher) count(t domain.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}
