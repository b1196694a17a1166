package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

func getRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func seed(t *testing.T, store *RedisProjectionStore, p domain.OrderProjection) {
	t.Helper()
	err := store.Upsert(context.Background(), p.ID, func(domain.OrderProjection, bool) (domain.OrderProjection, bool, error) {
		return p, true, nil
	})
	require.NoError(t, err)
}

func TestRedisProjectionStore_UpsertAndGet(t *testing.T) {
	client, _ := getRedisClient(t)
	store := NewRedisProjectionStore(client, quietLogger())
	ctx := context.Background()

	_, err := store.Get(ctx, "o1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	shippedAt := testNow.Add(time.Hour)
	seed(t, store, domain.OrderProjection{
		ID:          "o1",
		CustomerID:  "c1",
		TotalAmount: domain.NewMoney("USD", 10000),
		Status:      domain.OrderStatusShipped,
		ShippedAt:   &shippedAt,
		Items:       []domain.ProjectedItem{{ID: "i1", ProductID: "p1", Quantity: 2}},
		CreatedAt:   testNow,
		Version:     2,
	})

	got, err := store.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, got.Status)
	require.NotNil(t, got.ShippedAt)
	assert.True(t, shippedAt.Equal(*got.ShippedAt))
	assert.Len(t, got.Items, 1)

	// An unchanged mutation writes nothing.
	calls := 0
	err = store.Upsert(ctx, "o1", func(cur domain.OrderProjection, found bool) (domain.OrderProjection, bool, error) {
		calls++
		assert.True(t, found)
		assert.Equal(t, 2, cur.Version)
		return cur, false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRedisProjectionStore_MutatorErrorIsReturned(t *testing.T) {
	client, _ := getRedisClient(t)
	store := NewRedisProjectionStore(client, quietLogger())

	err := store.Upsert(context.Background(), "o1", func(domain.OrderProjection, bool) (domain.OrderProjection, bool, error) {
		return domain.OrderProjection{}, false, domain.NewNotFoundError("order projection", "o1")
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisProjectionStore_ConcurrentUpsertsDoNotLoseUpdates(t *testing.T) {
	client, _ := getRedisClient(t)
	store := NewRedisProjectionStore(client, quietLogger())
	seed(t, store, domain.OrderProjection{ID: "o1", CustomerID: "c1", CreatedAt: testNow})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Upsert(context.Background(), "o1", func(cur domain.OrderProjection, _ bool) (domain.OrderProjection, bool, error) {
				cur.UpsertItem(domain.ProjectedItem{ID: fmt.Sprintf("i%d", i)})
				return cur, true, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Len(t, got.Items, 5)
}

func TestRedisProjectionStore_Find(t *testing.T) {
	client, _ := getRedisClient(t)
	store := NewRedisProjectionStore(client, quietLogger())
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		customer, status := "c1", domain.OrderStatusPending
		if i%3 == 0 {
			customer = "c2"
		}
		if i%2 == 0 {
			status = domain.OrderStatusShipped
		}
		seed(t, store, domain.OrderProjection{
			ID:         fmt.Sprintf("o%02d", i),
			CustomerID: customer,
			Status:     status,
			CreatedAt:  testNow.Add(time.Duration(i) * time.Minute),
		})
	}

	page, err := store.Find(ctx, domain.OrderFilter{})
	require.NoError(t, err)
	require.Len(t, page, domain.DefaultPageSize)
	assert.Equal(t, "o29", page[0].ID)
	assert.Equal(t, "o10", page[19].ID)

	page, err = store.Find(ctx, domain.OrderFilter{CustomerID: "c2", Status: domain.OrderStatusShipped})
	require.NoError(t, err)
	ids := make([]string, 0, len(page))
	for _, p := range page {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"o24", "o18", "o12", "o06", "o00"}, ids)

	page, err = store.Find(ctx, domain.OrderFilter{CustomerID: "c2", Status: domain.OrderStatusShipped, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "o18", page[0].ID)
	assert.Equal(t, "o12", page[1].ID)

	page, err = store.Find(ctx, domain.OrderFilter{CustomerID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestRedisInbox(t *testing.T) {
	client, mr := getRedisClient(t)
	inbox := NewRedisInbox(client, time.Minute)
	ctx := context.Background()

	seen, err := inbox.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, inbox.MarkProcessed(ctx, "evt-1"))
	require.NoError(t, inbox.MarkProcessed(ctx, "evt-1"))

	seen, err = inbox.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Minute)
	seen, err = inbox.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisInbox_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	inbox := NewRedisInbox(client, 0)

	_, err := inbox.Seen(context.Background(), "evt-1")
	assert.ErrorIs(t, err, domain.ErrPersistence)
}
