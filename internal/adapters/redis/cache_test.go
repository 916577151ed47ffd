package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisadapter "github.com/hoanghamhok/ticket-booking/internal/adapters/redis"
)

func TestCache_GetAvailableCount(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := redisadapter.NewCache(client)

	ctx := context.Background()
	eventID := uuid.New()
	key := "avail:" + eventID.String()

	mock.ExpectGet(key).SetVal("42")
	count, ok, err := cache.GetAvailableCount(ctx, eventID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, count)

	mock.ExpectGet(key).RedisNil()
	_, ok, err = cache.GetAvailableCount(ctx, eventID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_SetAndInvalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := redisadapter.NewCache(client)

	ctx := context.Background()
	eventID := uuid.New()
	key := "avail:" + eventID.String()

	mock.ExpectSet(key, "7", 10*time.Second).SetVal("OK")
	require.NoError(t, cache.SetAvailableCount(ctx, eventID, 7))

	mock.ExpectDel(key).SetVal(1)
	require.NoError(t, cache.Invalidate(ctx, eventID))

	require.NoError(t, mock.ExpectationsWereMet())
}
