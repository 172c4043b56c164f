package providers

import (
	oai "github.com/ncecere/open_image_gateway/internal/adapters/openai"
	"github.com/ncecere/open_image_gateway/internal/models"
)

func init() {
	RegisterDefinition(Definition{
		Type:        models.ProviderOpenAI,
		Description: "OpenAI Images API compatible endpoint",
		Builder:     buildOpenAI,
	})
}

func buildOpenAI(p models.Provider, env Env) (Adapter, error) {
	return oai.New(oai.Options{
		BaseURL:    p.BaseURL,
		APIKeys:    p.Keys(),
		Picker:     env.Picker,
		HTTPClient: env.HTTPClient,
		Timeout:    env.Upstream.OpenAITimeout,
	})
}
