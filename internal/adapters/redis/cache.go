package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const availableCountTTL = 10 * time.Second

// Cache keeps short-lived per-event AVAILABLE counts. Writers invalidate
// after any transition that changes availability, so a stale entry lives
// at most one TTL.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func availableKey(eventID uuid.UUID) string {
	return "avail:" + eventID.String()
}

func (c *Cache) GetAvailableCount(ctx context.Context, eventID uuid.UUID) (int, bool, error) {
	val, err := c.client.Get(ctx, availableKey(eventID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (c *Cache) SetAvailableCount(ctx context.Context, eventID uuid.UUID, count int) error {
	return c.client.Set(ctx, availableKey(eventID), strconv.Itoa(count), availableCountTTL).Err()
}

func (c *Cache) Invalidate(ctx context.Context, eventID uuid.UUID) error {
	return c.client.Del(ctx, availableKey(eventID)).Err()
}
