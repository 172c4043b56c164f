package catalog

import (
	"testing"

	"github.com/ncecere/open_image_gateway/internal/models"
)

func TestNormalizeProviderType(t *testing.T) {
	cases := map[string]models.ProviderType{
		"native":            models.ProviderNative,
		" OpenAI ":          models.ProviderOpenAI,
		"openai-compatible": models.ProviderOpenAI,
		"FAL_AI":            models.ProviderQueue,
	}
	for in, want := range cases {
		got, ok := NormalizeProviderType(in)
		if !ok || got != want {
			t.Fatalf("%q: got %q ok=%v", in, got, ok)
		}
	}
	if _, ok := NormalizeProviderType("bedrock"); ok {
		t.Fatalf("expected unknown type")
	}
}

func TestDefaultModelsAreCopies(t *testing.T) {
	list := DefaultModels(models.ProviderQueue)
	if len(list) != 5 || list[4] != "flux-dev" {
		t.Fatalf("unexpected queue defaults %v", list)
	}
	list[0] = "mutated"
	if DefaultModels(models.ProviderQueue)[0] != "flux-1.1-ultra" {
		t.Fatalf("catalog mutated through returned slice")
	}
}

func TestAllDefaultModelsDeduplicates(t *testing.T) {
	all := AllDefaultModels()
	seen := map[string]bool{}
	for _, m := range all {
		if seen[m] {
			t.Fatalf("duplicate %q", m)
		}
		seen[m] = true
	}
	if len(all) != 12+5+5 {
		t.Fatalf("unexpected size %d", len(all))
	}
}
