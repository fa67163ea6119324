package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessorsOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ClientIP(ctx))
	assert.Empty(t, UserAgent(ctx))
	assert.Empty(t, DeviceName(ctx))
	assert.Empty(t, RequestID(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)
}

func TestAccessorsRoundTrip(t *testing.T) {
	pinned := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := WithClientMetadata(context.Background(), "192.0.2.1", "curl/8.4")
	ctx = WithDeviceName(ctx, "curl on Linux")
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTime(ctx, pinned)

	assert.Equal(t, "192.0.2.1", ClientIP(ctx))
	assert.Equal(t, "curl/8.4", UserAgent(ctx))
	assert.Equal(t, "curl on Linux", DeviceName(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, pinned, Now(ctx))
}

func TestKeysDoNotCollideWithForeignValues(t *testing.T) {
	ctx := context.WithValue(context.Background(), 0, "not a request id")
	assert.Empty(t, RequestID(ctx))
}
