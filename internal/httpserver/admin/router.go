package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
)

// Register wires up all /config routes (session auth + protected APIs).
func Register(app *fiber.App, container *app.Container) {
	authGroup := app.Group("/config")
	registerAdminAuthRoutes(authGroup, container)

	protected := app.Group("/config/api", adminAuthMiddleware(container))
	registerAdminStatusRoutes(protected, container)
	registerAdminProviderRoutes(protected, container)
	registerAdminDefaultModelRoutes(protected, container)
	registerAdminSettingsRoutes(protected, container)
	registerAdminUserKeyRoutes(protected, container)
	registerAdminCredentialRoutes(protected, container)
}
