// Package requestctx carries the resolved caller through a request.
package requestctx

import (
	"context"

	"github.com/ncecere/open_image_gateway/internal/models"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the caller.
var Key contextKey = "open-image-gateway/requestctx"

// Source names how a caller authenticated.
type Source string

const (
	SourceGuest   Source = "guest"
	SourceService Source = "service_key"
	SourceUserKey Source = "user_key"
	SourceAdmin   Source = "admin_session"
)

// Caller is the identity resolved from the Authorization header or the admin
// session.
type Caller struct {
	Level  models.Level
	Source Source
	// KeyID is set for user keys.
	KeyID string
	Name  string
	// RemoteIP identifies guests for rate limiting.
	RemoteIP string
}

// Guest returns the unauthenticated caller for ip.
func Guest(ip string) *Caller {
	return &Caller{Level: models.LevelGuest, Source: SourceGuest, RemoteIP: ip}
}

// LimitKey is the rate limit and idempotency scope for the caller.
func (c *Caller) LimitKey() string {
	if c == nil {
		return "anonymous"
	}
	switch c.Source {
	case SourceUserKey:
		return "user:" + c.KeyID
	case SourceService:
		return "service"
	case SourceAdmin:
		return "admin:" + c.Name
	default:
		return "guest:" + c.RemoteIP
	}
}

// WithContext embeds the caller into the parent context.
func WithContext(parent context.Context, c *Caller) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, c)
}

// FromContext retrieves the caller if present.
func FromContext(ctx context.Context) (*Caller, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(Key).(*Caller)
	return c, ok
}

// FiberLocalsKey returns the key used in fiber.Locals for caller storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
