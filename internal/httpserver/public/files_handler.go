package public

import (
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/httpserver/httputil"
	"github.com/ncecere/open_image_gateway/internal/storage/blob"
)

// filesHandler serves images rehosted to the local backend.
type filesHandler struct {
	container *app.Container
}

func (h *filesHandler) download(c *fiber.Ctx) error {
	key := c.Params("+")
	if key == "" {
		return httputil.WriteError(c, fiber.StatusNotFound, "file not found")
	}
	store, err := h.container.LocalFiles(userContext(c))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "file not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
	reader, info, err := store.Get(userContext(c), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "file not found")
		}
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	defer reader.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Set(fiber.HeaderContentType, contentType)
	if info.Size > 0 {
		c.Set(fiber.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	_, err = io.Copy(c, reader)
	return err
}
