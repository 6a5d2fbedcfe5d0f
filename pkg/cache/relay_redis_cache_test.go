package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, "relay"), mr
}

func TestRedisCache_JSONRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	type doc struct {
		FormID int64             `json:"form_id"`
		Map    map[string]string `json:"map"`
	}

	var got doc
	found, err := c.GetJSON(ctx, "form:1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.SetJSON(ctx, "form:1", doc{FormID: 1, Map: map[string]string{"f1": "Email"}}, time.Minute))
	assert.True(t, mr.Exists("relay:form:1"))

	found, err = c.GetJSON(ctx, "form:1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, doc{FormID: 1, Map: map[string]string{"f1": "Email"}}, got)

	ttl, err := c.TTL(ctx, "form:1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	found, err = c.GetJSON(ctx, "form:1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_DeleteAndCorruptValue(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("relay:bad", "{not json"))
	var v map[string]any
	_, err := c.GetJSON(ctx, "bad", &v)
	assert.Error(t, err)

	require.NoError(t, c.Delete(ctx, "bad", "missing"))
	assert.False(t, mr.Exists("relay:bad"))
	require.NoError(t, c.Delete(ctx))
	require.NoError(t, c.Ping(ctx))
}
