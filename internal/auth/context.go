package auth

import (
	"context"
	"time"
)

type contextKey struct{}

// AuthContext describes the session that admitted a request.
type AuthContext struct {
	LoginTime    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// Remaining returns how long the admitting session has left, or zero when
// the request was not authenticated.
func Remaining(ctx context.Context, now time.Time) time.Duration {
	ac, ok := FromContext(ctx)
	if !ok || !now.Before(ac.ExpiresAt) {
		return 0
	}
	return ac.ExpiresAt.Sub(now)
}
