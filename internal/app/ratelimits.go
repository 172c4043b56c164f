package app

import (
	"context"

	"github.com/ncecere/open_image_gateway/internal/requestctx"
)

// AcquireRateLimits applies the per-caller limits. The returned release must
// be called once the request finishes, including on streaming replies.
func (c *Container) AcquireRateLimits(ctx context.Context) (func(), error) {
	noop := func() {}
	if c == nil || c.RateLimiter == nil || !c.RateLimits.Enabled() {
		return noop, nil
	}
	caller, ok := requestctx.FromContext(ctx)
	if !ok {
		return noop, nil
	}
	key := caller.LimitKey()
	cfg := c.RateLimits
	if err := c.RateLimiter.Allow(ctx, key, cfg); err != nil {
		return noop, err
	}
	return func() {
		c.RateLimiter.Release(context.WithoutCancel(ctx), key, cfg)
	}, nil
}
