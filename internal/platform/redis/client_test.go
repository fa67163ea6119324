package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/platform/config"
)

func TestNewRequiresURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{})
	assert.ErrorContains(t, err, "REDIS_URL is empty")
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), config.RedisConfig{
		URL:          "redis://" + mr.Addr(),
		PoolSize:     2,
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, mr.Addr(), c.Addr())
	assert.Equal(t, 2, c.Options().PoolSize)
	assert.NoError(t, c.Health(context.Background()))

	mr.Close()
	assert.ErrorContains(t, c.Health(context.Background()), "redis "+c.Addr())
}

func TestNewKeepsDefaultsForZeroValues(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	assert.Positive(t, c.Options().PoolSize)
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), config.RedisConfig{URL: "redis://" + addr, DialTimeout: 200 * time.Millisecond})
	assert.ErrorContains(t, err, "ping redis at "+addr)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "://nope"})
	assert.ErrorContains(t, err, "parse redis URL")
}
