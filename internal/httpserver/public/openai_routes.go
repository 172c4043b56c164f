package public

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/gateway"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/limits"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/providers"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
)

const idempotencyHeader = "Idempotency-Key"

type openAIHandler struct {
	container *app.Container
}

func (h *openAIHandler) listModels(c *fiber.Ctx) error {
	list, err := h.container.Dispatcher.ListModels(userContext(c))
	if err != nil {
		return httputil.WriteOpenAIError(c, fiber.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(list)
}

func (h *openAIHandler) chatCompletions(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "Bad Request: Missing required fields")
	}
	if _, err := gateway.ValidateChat(req); err != nil {
		return h.writeDispatchError(c, req.Model, err)
	}

	release, ok, err := h.acquire(c)
	if !ok {
		return err
	}
	var once sync.Once
	releaseOnce := func() { once.Do(release) }

	if req.Stream {
		return h.streamChat(c, req, releaseOnce)
	}
	defer releaseOnce()

	resp, err := h.container.Dispatcher.Chat(userContext(c), req)
	if err != nil {
		return h.writeDispatchError(c, req.Model, err)
	}
	return c.JSON(resp)
}

func (h *openAIHandler) streamChat(c *fiber.Ctx, req models.ChatRequest, release func()) error {
	ctx := userContext(c)
	logger := h.container.Logger
	httputil.SetEventStreamHeaders(c)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer release()
		err := h.container.Dispatcher.Stream(ctx, req, func(chunk models.ChatChunk) error {
			return httputil.WriteEvent(w, chunk)
		})
		if err != nil {
			logger.Warn("chat stream aborted", slog.String("model", req.Model), slog.String("error", err.Error()))
			return
		}
		if err := httputil.WriteDone(w); err != nil {
			logger.Warn("write stream terminator", slog.String("error", err.Error()))
		}
	})
	return nil
}

func (h *openAIHandler) imageGenerations(c *fiber.Ctx) error {
	var req models.ImagesRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteOpenAIError(c, fiber.StatusBadRequest, "invalid_request_error", "Missing or invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return httputil.WriteOpenAIError(c, fiber.StatusBadRequest, "invalid_request_error", "prompt is required")
	}

	ctx := userContext(c)
	scope := "anonymous"
	if caller, ok := requestctx.FromContext(ctx); ok {
		scope = caller.LimitKey()
	}
	idemKey := strings.TrimSpace(c.Get(idempotencyHeader))
	if cached, ok := h.container.Idempotency.Get(ctx, scope, idemKey); ok {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		c.Set("Idempotent-Replayed", "true")
		return c.Send(cached)
	}

	release, ok, err := h.acquire(c)
	if !ok {
		return err
	}
	defer release()

	resp, err := h.container.Dispatcher.Images(ctx, req)
	if err != nil {
		model := req.Model
		if model == "" {
			model = "flux-dev"
		}
		return h.writeDispatchError(c, model, err)
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return httputil.WriteOpenAIError(c, fiber.StatusInternalServerError, "server_error", err.Error())
	}
	if resp.Error == nil {
		h.container.Idempotency.Set(ctx, scope, idemKey, body)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(body)
}

// gen takes a plain-text prompt and replies with markdown. The model comes
// from the "model" query parameter.
func (h *openAIHandler) gen(c *fiber.Ctx) error {
	text := strings.TrimSpace(string(c.Body()))
	if text == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "prompt is required")
	}
	release, ok, err := h.acquire(c)
	if !ok {
		return err
	}
	defer release()

	out, err := h.container.Dispatcher.Gen(userContext(c), c.Query("model"), text)
	if err != nil {
		return h.writeDispatchError(c, c.Query("model"), err)
	}
	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	return c.SendString(out)
}

// acquire applies rate limits. When ok is false the error response has
// already been written and err is what the handler should return.
func (h *openAIHandler) acquire(c *fiber.Ctx) (release func(), ok bool, err error) {
	release, err = h.container.AcquireRateLimits(userContext(c))
	if err == nil {
		return release, true, nil
	}
	if errors.Is(err, limits.ErrLimitExceeded) {
		h.container.Observability.RecordRateLimited(c.Path())
		return nil, false, httputil.WriteOpenAIError(c, fiber.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded")
	}
	return nil, false, httputil.WriteOpenAIError(c, fiber.StatusInternalServerError, "server_error", err.Error())
}

func (h *openAIHandler) writeDispatchError(c *fiber.Ctx, model string, err error) error {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		return httputil.WriteError(c, fiber.StatusBadRequest, "Bad Request: Missing required fields")
	case errors.Is(err, gateway.ErrModelRetired):
		return httputil.WriteError(c, fiber.StatusGone, "该模型已下架: "+model)
	case errors.Is(err, providers.ErrNoProvider):
		return httputil.WriteOpenAIError(c, fiber.StatusBadRequest, "invalid_request_error", "Model '"+model+"' not found")
	default:
		h.container.Logger.Error("dispatch failed", slog.String("model", model), slog.String("error", err.Error()))
		return httputil.WriteOpenAIError(c, fiber.StatusInternalServerError, "server_error", err.Error())
	}
}
