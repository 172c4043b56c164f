package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// WriteError renders the admin API error shape {"error": msg}.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": messageOrStatus(status, msg),
	})
}

// WriteOpenAIError renders the OpenAI style {"error":{"message","type"}}.
func WriteOpenAIError(c *fiber.Ctx, status int, errType, msg string) error {
	if errType == "" {
		errType = "invalid_request_error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": models.APIError{Message: messageOrStatus(status, msg), Type: errType},
	})
}

func messageOrStatus(status int, msg string) string {
	if msg != "" {
		return msg
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unknown error"
}
