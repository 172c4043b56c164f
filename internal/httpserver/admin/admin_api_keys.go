package admin

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/rbac"
)

func registerAdminUserKeyRoutes(router fiber.Router, container *app.Container) {
	handler := &userKeyHandler{container: container}
	group := router.Group("/user-keys")
	group.Get("/", handler.list)
	group.Post("/", handler.create)
	group.Delete("/:id", handler.delete)
}

type userKeyHandler struct {
	container *app.Container
}

type createUserKeyRequest struct {
	Name  string `json:"name"`
	Level string `json:"level"`
	Key   string `json:"key"`
}

type userKeyResponse struct {
	models.UserKey
	Key string `json:"key"`
}

// list masks secrets; the full key is only returned once on create.
func (h *userKeyHandler) list(c *fiber.Ctx) error {
	keys, err := h.container.Settings.ListUserKeys(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	out := make([]userKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, userKeyResponse{UserKey: k, Key: maskSecret(k.Key)})
	}
	return c.JSON(fiber.Map{"success": true, "keys": out})
}

func (h *userKeyHandler) create(c *fiber.Ctx) error {
	var req createUserKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return writeFailure(c, fiber.StatusBadRequest, "name required")
	}
	level := models.LevelUser
	if req.Level != "" {
		parsed, ok := rbac.ParseLevel(req.Level)
		if !ok || parsed == models.LevelGuest {
			return writeFailure(c, fiber.StatusBadRequest, "level must be user or admin")
		}
		level = parsed
	}
	key, err := h.container.Settings.CreateUserKey(userContext(c), req.Name, level, strings.TrimSpace(req.Key))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	h.container.Logger.Info("user key created",
		slog.String("key_id", key.ID),
		slog.String("level", string(key.Level)),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "key": key})
}

func (h *userKeyHandler) delete(c *fiber.Ctx) error {
	if err := h.container.Settings.DeleteUserKey(userContext(c), c.Params("id")); err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			return writeFailure(c, fiber.StatusNotFound, "key not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}

func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:5] + strings.Repeat("*", 8) + secret[len(secret)-4:]
}
