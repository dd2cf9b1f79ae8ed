// Package rediscache holds the redis-backed current-status cache (read path
// of the API) and the per-carrier rate limiter (guard in front of carrier
// calls).
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/spediware/trackhub/internal/models"
)

type RedisCache struct {
	c *redis.Client
}

func New(addr string) *RedisCache {
	return &RedisCache{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.c.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

func shipmentKey(shipmentID uint64) string {
	return fmt.Sprintf("shipment:%d", shipmentID)
}

// GetShipment reads a cached shipment snapshot. A decode failure is treated
// as a miss: the caller falls through to the store and overwrites the entry.
func (r *RedisCache) GetShipment(ctx context.Context, shipmentID uint64) (*models.Shipment, bool, error) {
	b, ok, err := r.Get(ctx, shipmentKey(shipmentID))
	if err != nil || !ok {
		return nil, false, err
	}
	var sh models.Shipment
	if err := json.Unmarshal(b, &sh); err != nil {
		return nil, false, nil
	}
	return &sh, true, nil
}

func (r *RedisCache) SetShipment(ctx context.Context, sh *models.Shipment, ttl time.Duration) error {
	b, err := json.Marshal(sh)
	if err != nil {
		return errors.Wrap(err, "marshal shipment")
	}
	return r.Set(ctx, shipmentKey(sh.ID), b, ttl)
}

func (r *RedisCache) InvalidateShipment(ctx context.Context, shipmentID uint64) error {
	return r.Delete(ctx, shipmentKey(shipmentID))
}
