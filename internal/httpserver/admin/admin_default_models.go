package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/catalog"
)

func registerAdminDefaultModelRoutes(router fiber.Router, _ *app.Container) {
	router.Get("/default-models/:type", listDefaultModels)
}

func listDefaultModels(c *fiber.Ctx) error {
	ptype, ok := catalog.NormalizeProviderType(c.Params("type"))
	if !ok {
		return writeFailure(c, fiber.StatusBadRequest, "无效的服务商类型")
	}
	return c.JSON(fiber.Map{"success": true, "models": catalog.DefaultModels(ptype)})
}
