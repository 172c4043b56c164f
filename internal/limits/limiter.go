package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_image_gateway/internal/config"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

type LimitConfig struct {
	RequestsPerMinute int
	ParallelRequests  int
}

// FromConfig converts the static rate limit section.
func FromConfig(cfg config.RateLimitConfig) LimitConfig {
	return LimitConfig{RequestsPerMinute: cfg.RequestsPerMinute, ParallelRequests: cfg.ParallelRequests}
}

// Enabled reports whether any limit is configured.
func (c LimitConfig) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.ParallelRequests > 0
}

// RateLimiter enforces per-caller limits in redis. A nil limiter or one
// without a client allows everything.
type RateLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, prefix string) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, now: time.Now}
}

// Allow checks the requests-per-minute window and then takes a parallel
// slot. Callers that pass must call Release with the same config.
func (l *RateLimiter) Allow(ctx context.Context, key string, cfg LimitConfig) error {
	if l == nil || l.client == nil {
		return nil
	}
	if cfg.RequestsPerMinute > 0 {
		if err := l.countCheck(ctx, l.prefix+"rpm:"+key, time.Minute, cfg.RequestsPerMinute); err != nil {
			return err
		}
	}
	if cfg.ParallelRequests > 0 {
		if err := l.semaphoreAcquire(ctx, l.prefix+"sem:"+key, cfg.ParallelRequests); err != nil {
			return err
		}
	}
	return nil
}

func (l *RateLimiter) Release(ctx context.Context, key string, cfg LimitConfig) {
	if l == nil || l.client == nil {
		return
	}
	if cfg.ParallelRequests > 0 {
		l.client.Decr(ctx, l.prefix+"sem:"+key)
	}
}

func (l *RateLimiter) countCheck(ctx context.Context, key string, window time.Duration, limit int) error {
	bucket := l.now().UTC().Unix() / int64(window.Seconds())
	redisKey := fmt.Sprintf("%s:%d", key, bucket)

	cnt, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, redisKey, window)
	}
	if int(cnt) > limit {
		return ErrLimitExceeded
	}
	return nil
}

// Image generation can poll for minutes, so slots expire well after the
// longest expected request.
const semaphoreTTL = 10 * time.Minute

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int) error {
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if cnt == 1 {
		l.client.Expire(ctx, key, semaphoreTTL)
	}
	if int(cnt) > max {
		l.client.Decr(ctx, key)
		return ErrLimitExceeded
	}
	return nil
}
