package providers

import (
	"sort"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// Definition captures the metadata required to register an adapter builder.
type Definition struct {
	Type        models.ProviderType
	Description string
	Builder     Builder
}

var defaultDefinitions = map[models.ProviderType]Definition{}

// RegisterDefinition stores a definition so factories can resolve builders by type.
func RegisterDefinition(def Definition) {
	if def.Builder == nil {
		panic("providers: definition builder required")
	}
	if def.Type == "" {
		panic("providers: definition type required")
	}
	if def.Description == "" {
		def.Description = string(def.Type)
	}
	defaultDefinitions[def.Type] = def
}

// DefaultDefinitions returns the registered definitions sorted by type.
func DefaultDefinitions() []Definition {
	defs := make([]Definition, 0, len(defaultDefinitions))
	for _, def := range defaultDefinitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Type < defs[j].Type
	})
	return defs
}

func cloneDefaultBuilders() map[models.ProviderType]Builder {
	builders := make(map[models.ProviderType]Builder, len(defaultDefinitions))
	for t, def := range defaultDefinitions {
		builders[t] = def.Builder
	}
	return builders
}
