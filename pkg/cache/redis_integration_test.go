package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server only when REDIS_TEST_ADDR is set.
func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, WithAddress(addr), WithPrefix("qaw-test:"+uuid.NewString()+":"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type snapshot struct {
	Domain string  `json:"domain"`
	DQS    float64 `json:"dqs"`
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var got snapshot
	assert.ErrorIs(t, c.Get(ctx, "latest", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "latest", snapshot{Domain: "dom-1", DQS: 82}, time.Minute))
	require.NoError(t, c.Get(ctx, "latest", &got))
	assert.Equal(t, snapshot{Domain: "dom-1", DQS: 82}, got)

	require.NoError(t, c.Delete(ctx, "latest", "never-set"))
	assert.ErrorIs(t, c.Get(ctx, "latest", &got), ErrMiss)
	assert.NoError(t, c.Delete(ctx))
}

func TestCacheExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", 1, 50*time.Millisecond))
	assert.Eventually(t, func() bool {
		var v int
		return c.Get(ctx, "short", &v) == ErrMiss
	}, 2*time.Second, 25*time.Millisecond)
}

func TestNewUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, WithAddress("127.0.0.1:1"))
	assert.ErrorContains(t, err, "ping redis")
}
