package ratelimit

import "context"

type Limiter interface {
	// Limit records an attempt for key and reports whether it is over the limit.
	Limit(ctx context.Context, key string) (bool, error)
}
