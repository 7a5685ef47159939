package redisclient

import (
	"context"
	"testing"
	"time"

	"cart-service/internal/apperr"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*IdempotencyStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewIdempotencyStore(NewFromRedis(rdb), time.Hour), mr
}

func TestClaimFreshKey(t *testing.T) {
	store, mr := setupTestRedis(t)

	_, claimed, err := store.Claim(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	value, err := mr.Get(idempotencyKey("k1"))
	require.NoError(t, err)
	assert.Equal(t, pendingMarker, value)
}

func TestClaimInFlightIsConflict(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := store.Claim(ctx, "k1")
	require.NoError(t, err)

	_, claimed, err := store.Claim(ctx, "k1")
	assert.False(t, claimed)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestClaimCompletedReturnsOrder(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := store.Claim(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "k1", 77))

	orderID, claimed, err := store.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(77), orderID)
}

func TestReleaseAllowsRetry(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := store.Claim(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k1"))

	_, claimed, err := store.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimExpires(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	_, _, err := store.Claim(ctx, "k1")
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	_, claimed, err := store.Claim(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, claimed)
}
