package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	c := NewIdempotencyCache(client, "image_gen_service:", time.Minute)
	_, ok := c.Get(ctx, "user:1", "abc")
	require.False(t, ok)

	c.Set(ctx, "user:1", "abc", []byte(`{"created":1}`))
	got, ok := c.Get(ctx, "user:1", "abc")
	require.True(t, ok)
	require.JSONEq(t, `{"created":1}`, string(got))

	_, ok = c.Get(ctx, "user:2", "abc")
	require.False(t, ok, "keys are scoped per caller")
	require.Equal(t, time.Minute, mr.TTL("image_gen_service:idem:user:1:abc"))

	c.Set(ctx, "user:1", "", []byte("x"))
	c.Set(ctx, "user:1", "empty", nil)
	require.Len(t, mr.Keys(), 1)
}

func TestNilCache(t *testing.T) {
	var c *IdempotencyCache
	c.Set(context.Background(), "s", "k", []byte("x"))
	_, ok := c.Get(context.Background(), "s", "k")
	require.False(t, ok)
	require.Equal(t, defaultTTL, NewIdempotencyCache(nil, "", 0).ttl)
}
