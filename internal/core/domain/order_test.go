package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testItem(id string) OrderItem {
	return OrderItem{
		ID:        id,
		ProductID: "p1",
		Quantity:  2,
		UnitPrice: NewMoney("usd", 2500),
		Weight:    decimal.NewFromFloat(1.0),
	}
}

func newTestOrder(t *testing.T) Order {
	t.Helper()
	order, _, err := NewOrder(NewOrderParams{
		ID:          "o1",
		CustomerID:  "c1",
		TotalAmount: NewMoney("USD", 10000),
		Items:       []OrderItem{testItem("i1")},
		At:          testNow,
	})
	require.NoError(t, err)
	return order
}

func withStatus(t *testing.T, status OrderStatus) Order {
	t.Helper()
	o := newTestOrder(t)
	o.Status = status
	return o
}

func TestNewOrder_CreatesPendingOrderWithEmbeddedItemEvent(t *testing.T) {
	order, evt, err := NewOrder(NewOrderParams{
		ID:          "o1",
		CustomerID:  "c1",
		TotalAmount: NewMoney("USD", 10000),
		Items:       []OrderItem{testItem("i1")},
		At:          testNow,
	})
	require.NoError(t, err)

	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, int64(10000), order.TotalAmount.Amount)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, 1, order.Version)

	assert.Equal(t, EventOrderCreated, evt.EventType())
	assert.Equal(t, "o1", evt.AggregateID())
	require.Len(t, evt.Items, 1)
	assert.Equal(t, EventOrderItemAdded, evt.Items[0].EventType())
	assert.Equal(t, "p1", evt.Items[0].ProductID)
	assert.Equal(t, 2, evt.Items[0].Quantity)
}

func TestNewOrder_Validation(t *testing.T) {
	cases := map[string]NewOrderParams{
		"missing customer": {ID: "o1", TotalAmount: NewMoney("USD", 1), Items: []OrderItem{testItem("i1")}},
		"negative total":   {ID: "o1", CustomerID: "c1", TotalAmount: NewMoney("USD", -1), Items: []OrderItem{testItem("i1")}},
		"no items":         {ID: "o1", CustomerID: "c1", TotalAmount: NewMoney("USD", 1)},
		"zero quantity": {ID: "o1", CustomerID: "c1", TotalAmount: NewMoney("USD", 1), Items: []OrderItem{
			{ID: "i1", ProductID: "p1", Quantity: 0, UnitPrice: NewMoney("USD", 1), Weight: decimal.NewFromInt(1)},
		}},
		"zero weight": {ID: "o1", CustomerID: "c1", TotalAmount: NewMoney("USD", 1), Items: []OrderItem{
			{ID: "i1", ProductID: "p1", Quantity: 1, UnitPrice: NewMoney("USD", 1), Weight: decimal.Zero},
		}},
		"currency mismatch": {ID: "o1", CustomerID: "c1", TotalAmount: NewMoney("EUR", 1), Items: []OrderItem{testItem("i1")}},
		"duplicate item":    {ID: "o1", CustomerID: "c1", TotalAmount: NewMoney("USD", 1), Items: []OrderItem{testItem("i1"), testItem("i1")}},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := NewOrder(params)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestOrder_TransitionGraph(t *testing.T) {
	all := []OrderStatus{OrderStatusPending, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusCompleted}
	valid := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusShipped}:   true,
		{OrderStatusPending, OrderStatusCancelled}: true,
		{OrderStatusShipped, OrderStatusDelivered}: true,
		{OrderStatusShipped, OrderStatusCompleted}: true,
		{OrderStatusShipped, OrderStatusCancelled}: true,
	}
	apply := map[OrderStatus]func(Order) (Order, error){
		OrderStatusShipped: func(o Order) (Order, error) {
			n, _, err := o.Ship("TRK-1", testNow.Add(48*time.Hour), testNow)
			return n, err
		},
		OrderStatusDelivered: func(o Order) (Order, error) {
			n, _, err := o.Deliver(testNow)
			return n, err
		},
		OrderStatusCancelled: func(o Order) (Order, error) {
			n, _, err := o.Cancel(testNow)
			return n, err
		},
		OrderStatusCompleted: func(o Order) (Order, error) {
			n, _, err := o.Complete(testNow)
			return n, err
		},
	}

	for _, from := range all {
		for to, fn := range apply {
			from, to, fn := from, to, fn
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				origin := withStatus(t, from)
				next, err := fn(origin)
				if valid[[2]OrderStatus{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, next.Status)
					assert.Equal(t, origin.Version+1, next.Version)
				} else {
					assert.ErrorIs(t, err, ErrInvalidState)
				}
				assert.Equal(t, from, origin.Status, "origin must not be mutated")
			})
		}
	}
}

func TestOrder_ShipCarriesTrackingAndDate(t *testing.T) {
	order := newTestOrder(t)
	deliveryDate := testNow.Add(72 * time.Hour)

	shipped, evt, err := order.Ship("TRK-42", deliveryDate, testNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "TRK-42", shipped.TrackingNumber)
	assert.Equal(t, deliveryDate, shipped.DeliveryDate)
	assert.Equal(t, testNow.Add(time.Hour), shipped.ShippedAt)
	assert.Equal(t, "TRK-42", evt.TrackingNumber)
	assert.Equal(t, 2, evt.AggregateVersion())
	assert.Empty(t, order.TrackingNumber)
}

func TestOrder_ShipRequiresTrackingNumber(t *testing.T) {
	_, _, err := newTestOrder(t).Ship(" ", testNow, testNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrder_CancelRecordsPreviousStatus(t *testing.T) {
	shipped, _, err := newTestOrder(t).Ship("TRK-1", testNow, testNow)
	require.NoError(t, err)

	_, evt, err := shipped.Cancel(testNow)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, evt.PreviousStatus)
}

func TestOrder_AddItemIsCopyOnWrite(t *testing.T) {
	order := newTestOrder(t)

	next, evt, err := order.AddItem(testItem("i2"), testNow)
	require.NoError(t, err)

	assert.Len(t, order.Items, 1)
	assert.Len(t, next.Items, 2)
	assert.Equal(t, "i2", evt.ItemID)
	assert.Equal(t, 2, evt.AggregateVersion())
}

func TestOrder_AddItemRejectedOutsidePending(t *testing.T) {
	shipped, _, err := newTestOrder(t).Ship("TRK-1", testNow, testNow)
	require.NoError(t, err)

	_, _, err = shipped.AddItem(testItem("i2"), testNow)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestOrder_AddItemRejectsDuplicate(t *testing.T) {
	_, _, err := newTestOrder(t).AddItem(testItem("i1"), testNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseOrderStatus(t *testing.T) {
	s, err := ParseOrderStatus(" Shipped ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, s)

	_, err = ParseOrderStatus("lost")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestError_IsMatchesByKind(t *testing.T) {
	err := NewNotFoundError("order", "o1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidState))

	wrapped := WrapPersistence("save order", errors.New("connection reset"))
	assert.ErrorIs(t, wrapped, ErrPersistence)
	assert.Contains(t, wrapped.Error(), "connection reset")
}
