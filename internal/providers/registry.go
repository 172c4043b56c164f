package providers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/catalog"
	"github.com/ncecere/open_image_gateway/internal/models"
)

// ErrNoProvider means no enabled provider exists.
var ErrNoProvider = errors.New("no enabled provider available")

// ErrAdapterUnavailable wraps failures to build the selected provider's
// adapter.
var ErrAdapterUnavailable = errors.New("provider adapter unavailable")

// ErrInvalidProvider wraps validation failures on save.
var ErrInvalidProvider = errors.New("invalid provider")

// ModelRef is one entry of the public model listing.
type ModelRef struct {
	ID      string
	OwnedBy string
}

// Registry resolves models to providers over the config store.
type Registry struct {
	store   Store
	factory *Factory
}

func NewRegistry(store Store, factory *Factory) *Registry {
	return &Registry{store: store, factory: factory}
}

func (r *Registry) List(ctx context.Context) ([]models.Provider, error) {
	return r.store.ListProviders(ctx)
}

func (r *Registry) Get(ctx context.Context, id string) (models.Provider, error) {
	return r.store.GetProvider(ctx, id)
}

// Save validates and persists p. The type is normalized from any accepted alias.
func (r *Registry) Save(ctx context.Context, p models.Provider) (models.Provider, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return models.Provider{}, fmt.Errorf("%w: name required", ErrInvalidProvider)
	}
	t, ok := catalog.NormalizeProviderType(string(p.Type))
	if !ok {
		return models.Provider{}, fmt.Errorf("%w: %w %q", ErrInvalidProvider, ErrUnknownProviderType, p.Type)
	}
	p.Type = t
	p.BaseURL = strings.TrimSpace(p.BaseURL)
	p.APIKeys = p.Keys()
	p.Models = dedupe(p.Models)
	return r.store.SaveProvider(ctx, p)
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.store.DeleteProvider(ctx, id)
}

// AddModel appends model to the provider's list if absent.
func (r *Registry) AddModel(ctx context.Context, id, model string) (models.Provider, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return models.Provider{}, fmt.Errorf("%w: model name required", ErrInvalidProvider)
	}
	p, err := r.store.GetProvider(ctx, id)
	if err != nil {
		return models.Provider{}, err
	}
	if !p.HasModel(model) {
		p.Models = append(p.Models, model)
	}
	return r.store.SaveProvider(ctx, p)
}

// RemoveModel drops model from the provider's list.
func (r *Registry) RemoveModel(ctx context.Context, id, model string) (models.Provider, error) {
	p, err := r.store.GetProvider(ctx, id)
	if err != nil {
		return models.Provider{}, err
	}
	p.Models = slices.DeleteFunc(p.Models, func(m string) bool { return m == model })
	return r.store.SaveProvider(ctx, p)
}

// FindByModel returns the first usable provider listing model, else the
// first usable provider at all. A provider is usable when it is enabled and
// has at least one API key. ErrNoProvider only when none is usable.
func (r *Registry) FindByModel(ctx context.Context, model string) (models.Provider, error) {
	list, err := r.store.ListProviders(ctx)
	if err != nil {
		return models.Provider{}, err
	}
	var fallback *models.Provider
	for i := range list {
		p := list[i]
		if !p.Usable() {
			continue
		}
		if p.HasModel(model) {
			return p, nil
		}
		if fallback == nil {
			fallback = &list[i]
		}
	}
	if fallback == nil {
		return models.Provider{}, ErrNoProvider
	}
	return *fallback, nil
}

// Resolve finds the provider for model and builds its adapter.
func (r *Registry) Resolve(ctx context.Context, model string) (models.Provider, Adapter, error) {
	p, err := r.FindByModel(ctx, model)
	if err != nil {
		return models.Provider{}, nil, err
	}
	adapter, err := r.factory.Build(p)
	if err != nil {
		return p, nil, fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}
	return p, adapter, nil
}

// Adapter builds the adapter for a specific provider record.
func (r *Registry) Adapter(p models.Provider) (Adapter, error) {
	return r.factory.Build(p)
}

// AllModels is the union of enabled providers' models in provider order.
// With no enabled models it falls back to the built-in catalog.
func (r *Registry) AllModels(ctx context.Context) ([]ModelRef, error) {
	list, err := r.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []ModelRef
	for _, p := range list {
		if !p.Enabled {
			continue
		}
		for _, m := range p.Models {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, ModelRef{ID: m, OwnedBy: p.OwnedBy()})
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	for _, m := range catalog.AllDefaultModels() {
		out = append(out, ModelRef{ID: m, OwnedBy: "open-image-gateway"})
	}
	return out, nil
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
