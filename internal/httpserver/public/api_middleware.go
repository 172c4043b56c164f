package public

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/rbac"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
)

// callerAuth resolves the caller from the Authorization header and enforces
// the level configured for the request path.
func callerAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := userContext(c)
		caller, err := container.ResolveCaller(ctx, c.Get(fiber.HeaderAuthorization), c.IP())
		if err != nil {
			if errors.Is(err, app.ErrInvalidAPIKey) {
				return httputil.WriteOpenAIError(c, fiber.StatusUnauthorized, "invalid_api_key", "Invalid API key provided")
			}
			return httputil.WriteOpenAIError(c, fiber.StatusInternalServerError, "server_error", err.Error())
		}

		perms, err := container.Settings.Permissions(ctx)
		if err != nil {
			return httputil.WriteOpenAIError(c, fiber.StatusInternalServerError, "server_error", "permission lookup failed")
		}
		if err := rbac.Ensure(perms, c.Path(), caller.Level); err != nil {
			if caller.Level == models.LevelGuest {
				return httputil.WriteOpenAIError(c, fiber.StatusUnauthorized, "invalid_api_key", "Unauthorized: API key required")
			}
			return httputil.WriteOpenAIError(c, fiber.StatusForbidden, "permission_denied", "insufficient permissions for this endpoint")
		}

		c.Locals(requestctx.FiberLocalsKey(), caller)
		c.SetUserContext(requestctx.WithContext(ctx, caller))
		return c.Next()
	}
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
