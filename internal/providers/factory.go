package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/providers/keypool"
)

var (
	ErrUnknownProviderType = errors.New("unknown provider type")
	ErrProviderHasNoKeys   = errors.New("provider has no api keys")
)

// Env carries the process-wide dependencies handed to every builder.
type Env struct {
	Upstream   config.UpstreamConfig
	HTTPClient *http.Client
	Picker     keypool.Picker
	Logger     *slog.Logger
}

// Builder constructs an adapter for a stored provider record.
type Builder func(p models.Provider, env Env) (Adapter, error)

// Factory selects an adapter implementation by provider type. It is the only
// place provider types are dispatched on.
type Factory struct {
	env      Env
	builders map[models.ProviderType]Builder
}

// NewFactory creates a factory with the registered default builders.
func NewFactory(env Env) *Factory {
	if env.Picker == nil {
		env.Picker = keypool.NewRandom(nil)
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &Factory{env: env, builders: cloneDefaultBuilders()}
}

// Register allows tests or callers to override provider builders.
func (f *Factory) Register(t models.ProviderType, builder Builder) {
	if f.builders == nil {
		f.builders = make(map[models.ProviderType]Builder)
	}
	f.builders[t] = builder
}

// Build instantiates the adapter for p.
func (f *Factory) Build(p models.Provider) (Adapter, error) {
	builder, ok := f.builders[p.Type]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w %q", p.Name, ErrUnknownProviderType, p.Type)
	}
	if len(p.Keys()) == 0 {
		return nil, fmt.Errorf("provider %q: %w", p.Name, ErrProviderHasNoKeys)
	}
	adapter, err := builder(p, f.env)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", p.Name, err)
	}
	return adapter, nil
}
