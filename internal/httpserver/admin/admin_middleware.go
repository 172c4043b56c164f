package admin

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
)

const adminAuthHeaderPrefix = "bearer "

// adminAuthMiddleware accepts an admin session token from the Authorization
// header or the session cookie. An admin-level user key or the service key
// are accepted as well so the API can be scripted.
func adminAuthMiddleware(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := userContext(c)
		token := sessionToken(c, container.Config.Admin.Session.CookieName)
		if token != "" {
			if session, err := container.Tokens.Verify(token); err == nil {
				caller := &requestctx.Caller{
					Level:    models.LevelAdmin,
					Source:   requestctx.SourceAdmin,
					Name:     session.Username,
					RemoteIP: c.IP(),
				}
				return proceed(c, ctx, caller)
			}
		}

		header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if header == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "admin authorization required")
		}
		caller, err := container.ResolveCaller(ctx, header, c.IP())
		if err != nil {
			if errors.Is(err, app.ErrInvalidAPIKey) {
				return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
			}
			return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
		}
		if caller.Source == requestctx.SourceGuest || caller.Level != models.LevelAdmin {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}
		return proceed(c, ctx, caller)
	}
}

func proceed(c *fiber.Ctx, ctx context.Context, caller *requestctx.Caller) error {
	c.Locals(requestctx.FiberLocalsKey(), caller)
	c.SetUserContext(requestctx.WithContext(ctx, caller))
	return c.Next()
}

func sessionToken(c *fiber.Ctx, cookieName string) string {
	raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if raw != "" && strings.HasPrefix(strings.ToLower(raw), adminAuthHeaderPrefix) {
		return strings.TrimSpace(raw[len(adminAuthHeaderPrefix):])
	}
	if cookieName == "" {
		return ""
	}
	return strings.TrimSpace(c.Cookies(cookieName))
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

// writeFailure renders the {"success": false, "message": ...} shape the
// config panel expects.
func writeFailure(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "message": msg})
}
