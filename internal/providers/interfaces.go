package providers

import (
	"context"

	"github.com/ncecere/open_image_gateway/internal/models"
)

// Adapter generates images against one upstream wire protocol.
// Implementations return at least one image or an error, never both empty.
type Adapter interface {
	Generate(ctx context.Context, model, prompt string, opts models.GenerationOptions) ([]models.ImageResult, error)
}

// Store persists provider records. configstore.Settings implements it.
type Store interface {
	ListProviders(ctx context.Context) ([]models.Provider, error)
	GetProvider(ctx context.Context, id string) (models.Provider, error)
	SaveProvider(ctx context.Context, p models.Provider) (models.Provider, error)
	DeleteProvider(ctx context.Context, id string) error
}
