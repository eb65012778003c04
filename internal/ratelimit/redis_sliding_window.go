package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/sliding_window.lua
	slidingWindowScript string

	_ Limiter = (*RedisSlidingWindowLimiter)(nil)
)

// RedisSlidingWindowLimiter allows at most rate attempts per key within any
// rolling interval. Rejected attempts are not counted.
type RedisSlidingWindowLimiter struct {
	cmd       redis.Cmdable
	interval  time.Duration
	rate      int
	keyPrefix string
	now       func() time.Time
}

func NewRedisSlidingWindowLimiter(cmd redis.Cmdable, interval time.Duration, rate int) *RedisSlidingWindowLimiter {
	return &RedisSlidingWindowLimiter{
		cmd:       cmd,
		interval:  interval,
		rate:      rate,
		keyPrefix: "ratelimit:",
		now:       time.Now,
	}
}

func (r *RedisSlidingWindowLimiter) Limit(ctx context.Context, key string) (bool, error) {
	limited, err := r.cmd.Eval(ctx, slidingWindowScript,
		[]string{r.countKey(key)},
		r.interval.Milliseconds(),
		r.rate,
		r.now().UnixMilli(),
		uuid.NewString(),
	).Bool()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return limited, nil
}

func (r *RedisSlidingWindowLimiter) countKey(key string) string {
	return fmt.Sprintf("%scount:%s", r.keyPrefix, key)
}
