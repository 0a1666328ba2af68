package redisx

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// OrderCache is the redis-backed orders.Cache.
type OrderCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *OrderCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return TTLListCache
}

func (c *OrderCache) Generation(ctx context.Context) (int64, error) {
	n, err := c.RDB.Get(ctx, KeyCacheGen).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read cache generation")
	}
	return n, nil
}

// putIfCurrent runs fill in a MULTI only while the generation is still gen.
// An invalidation that lands between the check and EXEC aborts the
// transaction; both cases drop the put silently.
func (c *OrderCache) putIfCurrent(ctx context.Context, gen int64, fill func(p redis.Pipeliner)) error {
	err := c.RDB.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, KeyCacheGen).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			fill(p)
			return nil
		})
		return err
	}, KeyCacheGen)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *OrderCache) GetList(ctx context.Context, limit int) ([]orders.Order, bool, error) {
	s, err := c.RDB.HGet(ctx, KeyOrderList, strconv.Itoa(limit)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "read cached orders")
	}
	var out []orders.Order
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false, errors.Wrap(err, "decode cached orders")
	}
	return out, true, nil
}

// PutList stores the list read under generation gen. The hash expiry is
// only set when the hash is created, so every field lives at most one TTL.
func (c *OrderCache) PutList(ctx context.Context, gen int64, limit int, list []orders.Order) error {
	b, err := json.Marshal(list)
	if err != nil {
		return errors.Wrap(err, "encode orders")
	}
	err = c.putIfCurrent(ctx, gen, func(p redis.Pipeliner) {
		p.HSet(ctx, KeyOrderList, strconv.Itoa(limit), b)
		p.ExpireNX(ctx, KeyOrderList, c.ttl())
	})
	return errors.Wrap(err, "cache orders")
}

func (c *OrderCache) GetSummary(ctx context.Context) (orders.Summary, bool, error) {
	s, err := c.RDB.Get(ctx, KeyOrderSummary).Result()
	if errors.Is(err, redis.Nil) {
		return orders.Summary{}, false, nil
	}
	if err != nil {
		return orders.Summary{}, false, errors.Wrap(err, "read cached summary")
	}
	var out orders.Summary
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return orders.Summary{}, false, errors.Wrap(err, "decode cached summary")
	}
	return out, true, nil
}

func (c *OrderCache) PutSummary(ctx context.Context, gen int64, s orders.Summary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode summary")
	}
	err = c.putIfCurrent(ctx, gen, func(p redis.Pipeliner) {
		p.Set(ctx, KeyOrderSummary, b, c.ttl())
	})
	return errors.Wrap(err, "cache summary")
}

// Invalidate bumps the generation and drops every cached read in one MULTI.
func (c *OrderCache) Invalidate(ctx context.Context) error {
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, KeyCacheGen)
		p.Del(ctx, KeyOrderList, KeyOrderSummary)
		return nil
	})
	return errors.Wrap(err, "invalidate order cache")
}
