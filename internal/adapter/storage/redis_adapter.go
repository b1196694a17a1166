package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

const (
	projectionKeyPrefix    = "projection:order:"
	ordersIndexKey         = "projection:orders:by_created"
	customerIndexKeyPrefix = "projection:orders:customer:"
	inboxKeyPrefix         = "inbox:"
	defaultInboxTTL        = 7 * 24 * time.Hour

	upsertAttempts = 10
	findBatchSize  = 100
)

// RedisProjectionStore keeps each order projection as a JSON document plus
// sorted-set indexes on creation time, globally and per customer.
type RedisProjectionStore struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedisProjectionStore(client *redis.Client, log *logrus.Logger) *RedisProjectionStore {
	return &RedisProjectionStore{client: client, log: log}
}

// Upsert is an optimistic read-modify-write: the key is watched and the
// write is retried when another writer got in between.
func (r *RedisProjectionStore) Upsert(ctx context.Context, id string, mutate port.ProjectionMutator) error {
	key := projectionKeyPrefix + id

	txf := func(tx *redis.Tx) error {
		cur, found, err := load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, changed, err := mutate(cur, found)
		if err != nil || !changed {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode projection: %w", err)
		}

		score := float64(next.CreatedAt.UnixMilli())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, ordersIndexKey, redis.Z{Score: score, Member: id})
			if next.CustomerID != "" {
				pipe.ZAdd(ctx, customerIndexKeyPrefix+next.CustomerID, redis.Z{Score: score, Member: id})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < upsertAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			r.log.WithFields(logrus.Fields{"order_id": id, "attempt": attempt + 1}).Debug("projection changed during upsert, retrying")
			continue
		}
		return asPersistence("upsert projection "+id, err)
	}
	return domain.NewConflictError("order projection", id)
}

func (r *RedisProjectionStore) Get(ctx context.Context, id string) (domain.OrderProjection, error) {
	p, found, err := load(ctx, r.client, projectionKeyPrefix+id)
	if err != nil {
		return domain.OrderProjection{}, asPersistence("get projection "+id, err)
	}
	if !found {
		return domain.OrderProjection{}, domain.NewNotFoundError("order projection", id)
	}
	return p, nil
}

// Find walks the creation-time index newest first, filtering in batches
// until the page is full.
func (r *RedisProjectionStore) Find(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderProjection, error) {
	filter = filter.Normalize()
	index := ordersIndexKey
	if filter.CustomerID != "" {
		index = customerIndexKeyPrefix + filter.CustomerID
	}

	out := make([]domain.OrderProjection, 0, filter.Limit)
	skipped := 0
	for start := int64(0); ; start += findBatchSize {
		ids, err := r.client.ZRevRange(ctx, index, start, start+findBatchSize-1).Result()
		if err != nil {
			return nil, asPersistence("scan projection index", err)
		}
		if len(ids) == 0 {
			return out, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = projectionKeyPrefix + id
		}
		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, asPersistence("load projections", err)
		}

		for i, raw := range values {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			var p domain.OrderProjection
			if err := json.Unmarshal([]byte(s), &p); err != nil {
				return nil, domain.WrapPersistence("decode projection "+ids[i], err)
			}
			if !filter.Matches(p) {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			out = append(out, p)
			if len(out) == filter.Limit {
				return out, nil
			}
		}
	}
}

func load(ctx context.Context, c redis.Cmdable, key string) (domain.OrderProjection, bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.OrderProjection{}, false, nil
	}
	if err != nil {
		return domain.OrderProjection{}, false, err
	}
	var p domain.OrderProjection
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.OrderProjection{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return p, true, nil
}

// RedisInbox remembers processed message ids so redelivered messages can be
// acknowledged without running their handler again.
type RedisInbox struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisInbox(client *redis.Client, ttl time.Duration) *RedisInbox {
	if ttl <= 0 {
		ttl = defaultInboxTTL
	}
	return &RedisInbox{client: client, ttl: ttl}
}

func (r *RedisInbox) Seen(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, inboxKeyPrefix+key).Result()
	if err != nil {
		return false, asPersistence("check inbox", err)
	}
	return n > 0, nil
}

func (r *RedisInbox) MarkProcessed(ctx context.Context, key string) error {
	_, err := r.client.SetNX(ctx, inboxKeyPrefix+key, 1, r.ttl).Result()
	return asPersistence("mark inbox", err)
}

func asPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	return domain.WrapPersistence(op, err)
}
