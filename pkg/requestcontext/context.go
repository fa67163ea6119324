// Package requestcontext carries request-scoped values (request id, pinned
// time, client metadata) through context.Context so services can read them
// without importing net/http. Middleware writes them; tests may inject them
// directly with the With* functions.
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	clientIPKey key = iota
	userAgentKey
	deviceNameKey
	requestIDKey
	requestTimeKey
)

func value[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

func str(ctx context.Context, k key) string {
	v, _ := value[string](ctx, k)
	return v
}

func ClientIP(ctx context.Context) string   { return str(ctx, clientIPKey) }
func UserAgent(ctx context.Context) string  { return str(ctx, userAgentKey) }
func DeviceName(ctx context.Context) string { return str(ctx, deviceNameKey) }
func RequestID(ctx context.Context) string  { return str(ctx, requestIDKey) }

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// WithDeviceName stores the display label derived from the User-Agent.
func WithDeviceName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, deviceNameKey, name)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now is the pinned request time, or the wall clock outside a request
// (export workers, the seeder).
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, requestTimeKey); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
