package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/catalog"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/providers"
)

const (
	defaultTestPrompt  = "A beautiful sunset over mountains"
	providerTestBudget = 2 * time.Minute
)

func registerAdminProviderRoutes(router fiber.Router, container *app.Container) {
	handler := &providerHandler{container: container}
	group := router.Group("/providers")
	group.Get("/", handler.list)
	group.Post("/", handler.create)
	group.Get("/:id", handler.get)
	group.Put("/:id", handler.update)
	group.Delete("/:id", handler.delete)
	group.Post("/:id/models", handler.addModel)
	group.Delete("/:id/models/:model", handler.removeModel)
	group.Post("/:id/test", handler.test)
}

type providerHandler struct {
	container *app.Container
}

// commaList accepts either a JSON array or a comma separated string.
type commaList []string

func (l *commaList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = splitTrimmed(list)
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expected string or array: %w", err)
	}
	*l = splitTrimmed(strings.Split(raw, ","))
	return nil
}

func splitTrimmed(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

type providerRequest struct {
	Name         *string   `json:"name"`
	ProviderType *string   `json:"provider_type"`
	BaseURL      *string   `json:"base_url"`
	APIKeys      commaList `json:"api_keys"`
	Models       commaList `json:"models"`
	Enabled      *bool     `json:"enabled"`
}

type providerSummary struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ProviderType models.ProviderType `json:"provider_type"`
	BaseURL      string              `json:"base_url"`
	APIKeysCount int                 `json:"api_keys_count"`
	ModelsCount  int                 `json:"models_count"`
	Enabled      bool                `json:"enabled"`
	CreatedAt    time.Time           `json:"created_at"`
}

type providerDetail struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	ProviderType models.ProviderType `json:"provider_type"`
	BaseURL      string              `json:"base_url"`
	APIKeys      string              `json:"api_keys"`
	Models       string              `json:"models"`
	Enabled      bool                `json:"enabled"`
}

type modelRequest struct {
	ModelName string `json:"model_name"`
}

type testRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (h *providerHandler) list(c *fiber.Ctx) error {
	list, err := h.container.Registry.List(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	out := make([]providerSummary, 0, len(list))
	for _, p := range list {
		out = append(out, providerSummary{
			ID:           p.ID,
			Name:         p.Name,
			ProviderType: p.Type,
			BaseURL:      p.BaseURL,
			APIKeysCount: len(p.APIKeys),
			ModelsCount:  len(p.Models),
			Enabled:      p.Enabled,
			CreatedAt:    p.CreatedAt,
		})
	}
	return c.JSON(out)
}

func (h *providerHandler) get(c *fiber.Ctx) error {
	p, err := h.container.Registry.Get(userContext(c), c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(providerDetail{
		ID:           p.ID,
		Name:         p.Name,
		ProviderType: p.Type,
		BaseURL:      p.BaseURL,
		APIKeys:      strings.Join(p.APIKeys, ","),
		Models:       strings.Join(p.Models, ","),
		Enabled:      p.Enabled,
	})
}

func (h *providerHandler) create(c *fiber.Ctx) error {
	var req providerRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == nil || req.ProviderType == nil || req.BaseURL == nil {
		return writeFailure(c, fiber.StatusBadRequest, "name, provider_type and base_url required")
	}
	ptype, ok := catalog.NormalizeProviderType(*req.ProviderType)
	if !ok {
		return writeFailure(c, fiber.StatusBadRequest, "无效的服务商类型")
	}

	p := models.Provider{
		Name:    *req.Name,
		Type:    ptype,
		BaseURL: normalizeBaseURL(ptype, *req.BaseURL),
		APIKeys: req.APIKeys,
		Models:  req.Models,
		Enabled: true,
	}
	if len(p.Models) == 0 {
		p.Models = catalog.DefaultModels(ptype)
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}

	saved, err := h.container.Registry.Save(userContext(c), p)
	if err != nil {
		return writeProviderError(c, err)
	}
	h.container.Logger.Info("provider created",
		slog.String("provider_id", saved.ID),
		slog.String("provider_type", string(saved.Type)),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "provider_id": saved.ID})
}

func (h *providerHandler) update(c *fiber.Ctx) error {
	ctx := userContext(c)
	p, err := h.container.Registry.Get(ctx, c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	var req providerRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.ProviderType != nil {
		ptype, ok := catalog.NormalizeProviderType(*req.ProviderType)
		if !ok {
			return writeFailure(c, fiber.StatusBadRequest, "无效的服务商类型")
		}
		p.Type = ptype
	}
	if req.BaseURL != nil {
		p.BaseURL = strings.TrimRight(strings.TrimSpace(*req.BaseURL), "/")
	}
	if len(req.APIKeys) > 0 {
		p.APIKeys = req.APIKeys
	}
	if len(req.Models) > 0 {
		p.Models = req.Models
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}

	if _, err := h.container.Registry.Save(ctx, p); err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *providerHandler) delete(c *fiber.Ctx) error {
	if err := h.container.Registry.Delete(userContext(c), c.Params("id")); err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (h *providerHandler) addModel(c *fiber.Ctx) error {
	var req modelRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
	}
	name := strings.TrimSpace(req.ModelName)
	if name == "" {
		return writeFailure(c, fiber.StatusBadRequest, "模型名称不能为空")
	}
	ctx := userContext(c)
	p, err := h.container.Registry.Get(ctx, c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	if p.HasModel(name) {
		return writeFailure(c, fiber.StatusConflict, "模型已存在")
	}
	saved, err := h.container.Registry.AddModel(ctx, p.ID, name)
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "models": saved.Models})
}

func (h *providerHandler) removeModel(c *fiber.Ctx) error {
	ctx := userContext(c)
	p, err := h.container.Registry.Get(ctx, c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	model := c.Params("model")
	if !p.HasModel(model) {
		return writeFailure(c, fiber.StatusNotFound, "模型不存在")
	}
	saved, err := h.container.Registry.RemoveModel(ctx, p.ID, model)
	if err != nil {
		return writeProviderError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "models": saved.Models})
}

// test runs one real generation against the provider, bypassing the model
// routing so a disabled provider can be checked before it is enabled.
func (h *providerHandler) test(c *fiber.Ctx) error {
	var req testRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return writeFailure(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	ctx := userContext(c)
	p, err := h.container.Registry.Get(ctx, c.Params("id"))
	if err != nil {
		return writeProviderError(c, err)
	}
	if len(p.Keys()) == 0 {
		return writeFailure(c, fiber.StatusBadRequest, "服务商未配置API密钥")
	}
	model := strings.TrimSpace(req.Model)
	if model != "" && !p.HasModel(model) {
		return writeFailure(c, fiber.StatusBadRequest, "指定的模型不存在")
	}
	if model == "" {
		model = "test-model"
		if len(p.Models) > 0 {
			model = p.Models[0]
		}
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = defaultTestPrompt
	}

	adapter, err := h.container.Registry.Adapter(p)
	if err != nil {
		return writeProviderError(c, err)
	}
	ctx, cancel := context.WithTimeout(ctx, providerTestBudget)
	defer cancel()
	images, err := adapter.Generate(ctx, model, prompt, models.GenerationOptions{N: 1})
	if err != nil {
		h.container.Logger.Warn("provider test failed",
			slog.String("provider_id", p.ID),
			slog.String("model", model),
			slog.String("error", err.Error()),
		)
		return c.JSON(fiber.Map{"success": false, "message": "测试失败: " + err.Error()})
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"message":     fmt.Sprintf("测试成功，模型 %s 生成了 %d 张图片", model, len(images)),
		"has_image":   len(images) > 0,
		"image_count": len(images),
	})
}

// normalizeBaseURL trims trailing slashes and, for OpenAI-compatible
// providers given a bare host, appends /v1.
func normalizeBaseURL(ptype models.ProviderType, raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if ptype != models.ProviderOpenAI || strings.HasSuffix(base, "/v1") {
		return base
	}
	_, rest, found := strings.Cut(base, "://")
	if found && rest != "" && !strings.Contains(rest, "/") {
		return base + "/v1"
	}
	return base
}

func writeProviderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, configstore.ErrNotFound):
		return writeFailure(c, fiber.StatusNotFound, "服务商不存在")
	case errors.Is(err, providers.ErrInvalidProvider):
		return writeFailure(c, fiber.StatusBadRequest, err.Error())
	default:
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
}
