package providers

import (
	"github.com/ncecere/open_image_gateway/internal/adapters/native"
	"github.com/ncecere/open_image_gateway/internal/models"
)

func init() {
	RegisterDefinition(Definition{
		Type:        models.ProviderNative,
		Description: "Synchronous text-to-image API (SiliconFlow style)",
		Builder:     buildNative,
	})
}

func buildNative(p models.Provider, env Env) (Adapter, error) {
	return native.New(native.Options{
		BaseURL:    p.BaseURL,
		APIKeys:    p.Keys(),
		Picker:     env.Picker,
		HTTPClient: env.HTTPClient,
		Timeout:    env.Upstream.NativeTimeout,
	})
}
