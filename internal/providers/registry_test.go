package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ncecere/open_image_gateway/internal/adapters/queue"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
)

type memoryStore struct {
	providers []models.Provider
}

func (m *memoryStore) ListProviders(context.Context) ([]models.Provider, error) {
	return append([]models.Provider(nil), m.providers...), nil
}

func (m *memoryStore) GetProvider(_ context.Context, id string) (models.Provider, error) {
	for _, p := range m.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Provider{}, errors.New("not found")
}

func (m *memoryStore) SaveProvider(_ context.Context, p models.Provider) (models.Provider, error) {
	if p.ID == "" {
		p.ID = time.Now().Format("150405.000000000")
	}
	for i := range m.providers {
		if m.providers[i].ID == p.ID {
			m.providers[i] = p
			return p, nil
		}
	}
	m.providers = append(m.providers, p)
	return p, nil
}

func (m *memoryStore) DeleteProvider(_ context.Context, id string) error {
	for i := range m.providers {
		if m.providers[i].ID == id {
			m.providers = append(m.providers[:i], m.providers[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

func fixtureRegistry() *Registry {
	store := &memoryStore{providers: []models.Provider{
		{ID: "a", Name: "off", Type: models.ProviderQueue, Enabled: false, Models: []string{"flux-dev"}, APIKeys: []string{"k"}},
		{ID: "b", Name: "sf", Type: models.ProviderNative, Enabled: true, Models: []string{"Kwai-Kolors/Kolors"}, APIKeys: []string{"k"}},
		{ID: "c", Name: "fal", Type: models.ProviderQueue, Enabled: true, Models: []string{"flux-dev", "Kwai-Kolors/Kolors"}, APIKeys: []string{"k"}},
	}}
	return NewRegistry(store, NewFactory(Env{}))
}

func TestFindByModel(t *testing.T) {
	r := fixtureRegistry()
	ctx := context.Background()

	p, err := r.FindByModel(ctx, "flux-dev")
	if err != nil || p.ID != "c" {
		t.Fatalf("expected enabled provider c for flux-dev, got %q %v", p.ID, err)
	}
	p, _ = r.FindByModel(ctx, "Kwai-Kolors/Kolors")
	if p.ID != "b" {
		t.Fatalf("first enabled match should win, got %q", p.ID)
	}
	p, _ = r.FindByModel(ctx, "unlisted")
	if p.ID != "b" {
		t.Fatalf("unlisted model should fall back to first enabled, got %q", p.ID)
	}
}

func TestFindByModelNoneEnabled(t *testing.T) {
	r := NewRegistry(&memoryStore{providers: []models.Provider{{ID: "x", Enabled: false}}}, NewFactory(Env{}))
	if _, err := r.FindByModel(context.Background(), "m"); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestFindByModelSkipsKeylessProviders(t *testing.T) {
	store := &memoryStore{providers: []models.Provider{
		{ID: "nokeys", Name: "nokeys", Type: models.ProviderNative, Enabled: true, Models: []string{"flux-dev"}, APIKeys: []string{" "}},
		{ID: "fal", Name: "fal", Type: models.ProviderQueue, Enabled: true, Models: []string{"flux-schnell"}, APIKeys: []string{"k"}},
	}}
	r := NewRegistry(store, NewFactory(Env{}))

	p, err := r.FindByModel(context.Background(), "flux-dev")
	if err != nil || p.ID != "fal" {
		t.Fatalf("keyless provider must not be selected, got %q %v", p.ID, err)
	}

	store.providers = store.providers[:1]
	if _, err := r.FindByModel(context.Background(), "flux-dev"); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider with only a keyless provider, got %v", err)
	}
}

func TestResolveWrapsBuildFailure(t *testing.T) {
	store := &memoryStore{providers: []models.Provider{
		{ID: "x", Name: "legacy", Type: "replicate", Enabled: true, Models: []string{"m"}, APIKeys: []string{"k"}},
	}}
	r := NewRegistry(store, NewFactory(Env{}))

	p, adapter, err := r.Resolve(context.Background(), "m")
	if !errors.Is(err, ErrAdapterUnavailable) || !errors.Is(err, ErrUnknownProviderType) {
		t.Fatalf("expected wrapped build failure, got %v", err)
	}
	if adapter != nil || p.ID != "x" {
		t.Fatalf("expected provider without adapter, got %q %v", p.ID, adapter)
	}
}

func TestAllModels(t *testing.T) {
	refs, err := fixtureRegistry().AllModels(context.Background())
	if err != nil {
		t.Fatalf("all models: %v", err)
	}
	if len(refs) != 2 || refs[0].ID != "Kwai-Kolors/Kolors" || refs[0].OwnedBy != "native-sf" || refs[1].ID != "flux-dev" {
		t.Fatalf("unexpected refs %+v", refs)
	}

	empty := NewRegistry(&memoryStore{}, NewFactory(Env{}))
	refs, _ = empty.AllModels(context.Background())
	if len(refs) != 22 {
		t.Fatalf("expected catalog fallback, got %d", len(refs))
	}
}

func TestSaveNormalizesProvider(t *testing.T) {
	r := NewRegistry(&memoryStore{}, NewFactory(Env{}))
	ctx := context.Background()

	p, err := r.Save(ctx, models.Provider{Name: " fal ", Type: "fal", APIKeys: []string{" k1 ", ""}, Models: []string{"a", "a", " "}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.Name != "fal" || p.Type != models.ProviderQueue || len(p.APIKeys) != 1 || len(p.Models) != 1 {
		t.Fatalf("unexpected provider %+v", p)
	}
	if _, err := r.Save(ctx, models.Provider{Name: "x", Type: "bedrock"}); !errors.Is(err, ErrUnknownProviderType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}

	p, err = r.AddModel(ctx, p.ID, "b")
	if err != nil || !p.HasModel("b") {
		t.Fatalf("add model: %v %+v", err, p)
	}
	p, err = r.RemoveModel(ctx, p.ID, "a")
	if err != nil || p.HasModel("a") {
		t.Fatalf("remove model: %v %+v", err, p)
	}
}

func TestFactoryDispatchesOnType(t *testing.T) {
	f := NewFactory(Env{})
	for _, typ := range []models.ProviderType{models.ProviderNative, models.ProviderOpenAI, models.ProviderQueue} {
		adapter, err := f.Build(models.Provider{Name: "p", Type: typ, APIKeys: []string{"k"}})
		if err != nil || adapter == nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
	if _, err := f.Build(models.Provider{Name: "p", Type: "other", APIKeys: []string{"k"}}); !errors.Is(err, ErrUnknownProviderType) {
		t.Fatalf("expected unknown type, got %v", err)
	}
	if _, err := f.Build(models.Provider{Name: "p", Type: models.ProviderNative}); !errors.Is(err, ErrProviderHasNoKeys) {
		t.Fatalf("expected missing keys error, got %v", err)
	}
	if len(DefaultDefinitions()) != 3 {
		t.Fatalf("expected three registered definitions")
	}
}

func TestQueueBuilderPassesOutputFormat(t *testing.T) {
	f := NewFactory(Env{Upstream: config.UpstreamConfig{QueueOutputFormat: "png"}})
	adapter, err := f.Build(models.Provider{Name: "fal", Type: models.ProviderQueue, APIKeys: []string{"k"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	qa, ok := adapter.(*queue.Adapter)
	if !ok {
		t.Fatalf("expected queue adapter, got %T", adapter)
	}
	body := qa.BuildSubmitBody("flux-dev", "a cat", models.GenerationOptions{N: 1})
	if body["output_format"] != "png" {
		t.Fatalf("expected output_format png, got %v", body["output_format"])
	}
}
