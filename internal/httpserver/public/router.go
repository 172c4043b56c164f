package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_image_gateway/internal/app"
)

// Register wires up the OpenAI-compatible public API routes.
func Register(app *fiber.App, container *app.Container) {
	handler := &openAIHandler{container: container}
	authed := callerAuth(container)

	group := app.Group("/v1", authed)
	group.Get("/models", handler.listModels)
	group.Post("/chat/completions", handler.chatCompletions)
	group.Post("/images/generations", handler.imageGenerations)

	app.Post("/gen", authed, handler.gen)

	files := &filesHandler{container: container}
	app.Get("/files/+", files.download)
}
