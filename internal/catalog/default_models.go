package catalog

import (
	"slices"

	"github.com/ncecere/open_image_gateway/internal/models"
)

var defaultModels = map[models.ProviderType][]string{
	models.ProviderNative: {
		"black-forest-labs/FLUX.1-dev",
		"black-forest-labs/FLUX.1",
		"Kwai-Kolors/Kolors",
		"stabilityai/stable-diffusion-xl-base-1.0",
		"stabilityai/stable-diffusion-2-1-base",
		"runwayml/stable-diffusion-v1-5",
		"prompthero/openjourney",
		"Linaqruf/anything-v3.0",
		"hakurei/waifu-diffusion",
		"dreamlike-art/dreamlike-photoreal-2.0",
		"CompVis/stable-diffusion-v1-4",
		"stabilityai/stable-diffusion-2-base",
	},
	models.ProviderOpenAI: {
		"dall-e-3",
		"dall-e-2",
		"gpt-4-vision-preview",
		"stable-diffusion-xl-base-1.0",
		"midjourney-v6",
	},
	models.ProviderQueue: {
		"flux-1.1-ultra",
		"recraft-v3",
		"flux-1.1-pro",
		"ideogram-v2",
		"flux-dev",
	},
}

// typeOrder fixes the iteration order used when flattening the catalog.
var typeOrder = []models.ProviderType{models.ProviderNative, models.ProviderOpenAI, models.ProviderQueue}

// DefaultModels returns a copy of the built-in model list for a provider type.
func DefaultModels(t models.ProviderType) []string {
	return slices.Clone(defaultModels[t])
}

// AllDefaultModels flattens the catalog, de-duplicated, in a stable order.
func AllDefaultModels() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range typeOrder {
		for _, m := range defaultModels[t] {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}
