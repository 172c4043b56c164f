package catalog

import (
	"strings"

	"github.com/ncecere/open_image_gateway/internal/models"
)

var providerAliases = map[string]models.ProviderType{
	"native":            models.ProviderNative,
	"openai_adapter":    models.ProviderOpenAI,
	"openai":            models.ProviderOpenAI,
	"openai-compatible": models.ProviderOpenAI,
	"openai_compatible": models.ProviderOpenAI,
	"fal_ai":            models.ProviderQueue,
	"fal":               models.ProviderQueue,
	"queue":             models.ProviderQueue,
}

// NormalizeProviderType canonicalizes provider type names accepted by the
// admin API and import files.
func NormalizeProviderType(name string) (models.ProviderType, bool) {
	t, ok := providerAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}
