package models

import (
	"slices"
	"strings"
	"time"
)

// ProviderType selects the adapter used for a provider.
type ProviderType string

const (
	ProviderNative ProviderType = "native"
	ProviderOpenAI ProviderType = "openai_adapter"
	ProviderQueue  ProviderType = "fal_ai"
)

// Provider is a configured upstream image-generation backend.
type Provider struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      ProviderType `json:"provider_type"`
	BaseURL   string       `json:"base_url"`
	APIKeys   []string     `json:"api_keys"`
	Models    []string     `json:"models"`
	Enabled   bool         `json:"enabled"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// HasModel reports exact membership in the provider's model list.
func (p Provider) HasModel(model string) bool {
	return slices.Contains(p.Models, model)
}

// Keys returns the non-blank API keys.
func (p Provider) Keys() []string {
	out := make([]string, 0, len(p.APIKeys))
	for _, k := range p.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Usable reports whether the provider may serve requests.
func (p Provider) Usable() bool {
	return p.Enabled && len(p.Keys()) > 0
}

// OwnedBy is the owner label reported by the models listing.
func (p Provider) OwnedBy() string {
	return string(p.Type) + "-" + p.Name
}
