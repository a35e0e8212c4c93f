package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Farid-Ze/alfa-beauty-sub000/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// Cache stores resolved single-item prices per (customer, product, quantity).
type Cache interface {
	Get(ctx context.Context, customerID, productID string, qty int) (Result, bool, error)
	Set(ctx context.Context, customerID, productID string, qty int, res Result, ttl time.Duration) error
	Invalidate(ctx context.Context, customerID, productID string) error
}

const guestKey = "guest"

type RedisCache struct {
	Client *redis.Client
}

func priceKey(customerID, productID string, qty int) string {
	return fmt.Sprintf(redisx.KeyPrice, orGuest(customerID), productID, qty)
}

func (c *RedisCache) Get(ctx context.Context, customerID, productID string, qty int) (Result, bool, error) {
	raw, err := c.Client.Get(ctx, priceKey(customerID, productID, qty)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, false, err
	}
	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, customerID, productID string, qty int, res Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = redisx.TTLPrice
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	key := priceKey(customerID, productID, qty)
	custIdx := fmt.Sprintf(redisx.KeyPriceByCustomer, orGuest(customerID))
	prodIdx := fmt.Sprintf(redisx.KeyPriceByProduct, productID)

	_, err = c.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, raw, ttl)
		p.SAdd(ctx, custIdx, key)
		p.SAdd(ctx, prodIdx, key)
		// indexes outlive their entries so a late invalidation still finds them
		p.Expire(ctx, custIdx, 2*ttl)
		p.Expire(ctx, prodIdx, 2*ttl)
		return nil
	})
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context, customerID, productID string) error {
	var idx []string
	if customerID != "" {
		idx = append(idx, fmt.Sprintf(redisx.KeyPriceByCustomer, customerID))
	}
	if productID != "" {
		idx = append(idx, fmt.Sprintf(redisx.KeyPriceByProduct, productID))
	}
	for _, k := range idx {
		keys, err := c.Client.SMembers(ctx, k).Result()
		if err != nil {
			return err
		}
		keys = append(keys, k)
		if err := c.Client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func orGuest(customerID string) string {
	if customerID == "" {
		return guestKey
	}
	return customerID
}
