// Package now provides an injectable source of the current time.
//
// Production code calls Now(ctx) instead of time.Now() directly so that
// tests can pin or fast-forward the clock by storing a time.Time or a
// NowProvider in the context, rather than sleeping on a wall clock.
package now

import (
	"context"
	"time"
)

type contextKeyType string

// ContextKey is the key used to store a time.Time or a NowProvider in a
// context.Context.
const ContextKey contextKeyType = "now.ContextKey"

// NowProvider is a function that returns the current time. Storing one in
// a context allows a test to advance a monotonic fake clock on each call.
type NowProvider func() time.Time

// Now returns the current time. If ctx carries a time.Time under
// ContextKey, that fixed value is returned. If ctx carries a NowProvider,
// it is invoked and its result returned. Otherwise time.Now() is used.
func Now(ctx context.Context) time.Time {
	if ctx == nil {
		return time.Now()
	}
	switch v := ctx.Value(ContextKey).(type) {
	case nil:
		return time.Now()
	case time.Time:
		return v
	case NowProvider:
		return v()
	default:
		panic("now.Now: ContextKey holds a value that is neither time.Time nor NowProvider")
	}
}

// WithTime returns a context that makes Now always return t.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKey, t)
}

// WithProvider returns a context that makes Now defer to provider on
// every call.
func WithProvider(ctx context.Context, provider NowProvider) context.Context {
	return context.WithValue(ctx, ContextKey, provider)
}
