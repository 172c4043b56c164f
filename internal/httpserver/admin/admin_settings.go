package admin

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/models"
)

const (
	defaultSystemPort       = 7860
	defaultImagesPerRequest = 4
)

func registerAdminStatusRoutes(router fiber.Router, container *app.Container) {
	router.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(container.Settings.Status(userContext(c)))
	})
}

func registerAdminSettingsRoutes(router fiber.Router, container *app.Container) {
	handler := &settingsHandler{container: container, settings: container.Settings}
	router.Get("/ai-prompt", handler.getPrompt)
	router.Post("/ai-prompt", handler.updatePrompt)
	router.Get("/image-hosting", handler.getHosting)
	router.Post("/image-hosting", handler.updateHosting)
	router.Get("/shortlink", handler.getShortLink)
	router.Post("/shortlink", handler.updateShortLink)
	router.Get("/system", handler.getSystem)
	router.Post("/system", handler.updateSystem)
	router.Get("/permissions", handler.getPermissions)
	router.Post("/permissions", handler.updatePermissions)
	router.Post("/import-env", handler.importEnv)
}

type settingsHandler struct {
	container *app.Container
	settings  *configstore.Settings
}

type importEnvRequest struct {
	Keys []string `json:"keys"`
}

func (h *settingsHandler) getPrompt(c *fiber.Ctx) error {
	return respondLoaded(c, h.settings.Prompt)
}

func (h *settingsHandler) updatePrompt(c *fiber.Ctx) error {
	req := models.PromptSettings{Enabled: true}
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.settings.SavePrompt(userContext(c), req); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *settingsHandler) getHosting(c *fiber.Ctx) error {
	return respondLoaded(c, h.settings.Hosting)
}

// updateHosting saves the rehost settings. For Lsky with auto_get_token set,
// a fresh token is fetched first; a failed fetch keeps the submitted token.
func (h *settingsHandler) updateHosting(c *fiber.Ctx) error {
	req := models.DefaultHostingSettings()
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	ctx := userContext(c)
	lsky := req.Backend == "" || strings.EqualFold(req.Backend, "lsky")
	if lsky && req.AutoGetToken && req.LskyURL != "" && req.Username != "" && req.Password != "" {
		token, err := h.container.Rehoster.Lsky().FetchToken(ctx, req.LskyURL, req.Username, req.Password)
		if err != nil {
			h.container.Logger.Warn("lsky token fetch failed", slog.String("error", err.Error()))
		} else {
			req.Token = token
		}
	}
	if err := h.settings.SaveHosting(ctx, req); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "token": req.Token})
}

func (h *settingsHandler) getShortLink(c *fiber.Ctx) error {
	return respondLoaded(c, h.settings.ShortLink)
}

func (h *settingsHandler) updateShortLink(c *fiber.Ctx) error {
	var req models.ShortLinkSettings
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.settings.SaveShortLink(userContext(c), req); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *settingsHandler) getSystem(c *fiber.Ctx) error {
	return respondLoaded(c, h.settings.System)
}

func (h *settingsHandler) updateSystem(c *fiber.Ctx) error {
	req := models.SystemSettings{Port: defaultSystemPort, MaxImagesPerRequest: defaultImagesPerRequest}
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.settings.SaveSystem(userContext(c), req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *settingsHandler) getPermissions(c *fiber.Ctx) error {
	return respondLoaded(c, h.settings.Permissions)
}

func (h *settingsHandler) updatePermissions(c *fiber.Ctx) error {
	var req models.EndpointPermissions
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.settings.SavePermissions(userContext(c), req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *settingsHandler) importEnv(c *fiber.Ctx) error {
	var req importEnvRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	n, err := h.settings.ImportFromEnv(userContext(c), req.Keys)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "imported_count": n})
}

func respondLoaded[T any](c *fiber.Ctx, load func(context.Context) (T, error)) error {
	v, err := load(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(v)
}
