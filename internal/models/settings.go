package models

import "time"

// SystemSettings holds service-wide knobs editable from the admin API.
type SystemSettings struct {
	Port                int    `json:"port"`
	MaxImagesPerRequest int    `json:"max_images_per_request"`
	BannedKeywords      string `json:"banned_keywords"`
	APIKey              string `json:"api_key"`
}

const DefaultEnhancerSystemPrompt = "你是一个技术精湛、善于观察、富有创造力和想象力、擅长使用精准语言描述画面的艺术家。请根据用户的作画请求（可能是一组包含绘画要求的上下文，跳过其中的非绘画内容），扩充为一段具体的画面描述，100 words以内。可以包括画面内容、风格、技法等，使用英文回复."

// PromptSettings configures the LLM prompt rewrite step.
type PromptSettings struct {
	Enabled      bool   `json:"enabled"`
	Model        string `json:"model"`
	APIURL       string `json:"api_url"`
	APIKey       string `json:"api_key"`
	SystemPrompt string `json:"system_prompt"`
}

// DefaultPromptSettings mirrors the values used before anything is saved.
func DefaultPromptSettings() PromptSettings {
	return PromptSettings{
		Enabled:      true,
		Model:        "Qwen/Qwen3-8B",
		APIURL:       "http://localhost:3000/v1/chat/completions",
		SystemPrompt: DefaultEnhancerSystemPrompt,
	}
}

// HostingSettings configures image rehosting. Backend is one of lsky, s3,
// minio, local; lsky is assumed when empty.
type HostingSettings struct {
	Enabled      bool   `json:"enabled"`
	Backend      string `json:"backend,omitempty"`
	LskyURL      string `json:"lsky_url"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Token        string `json:"token"`
	AutoGetToken bool   `json:"auto_get_token"`

	Bucket    string `json:"bucket,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	PublicURL string `json:"public_url,omitempty"`
	Directory string `json:"directory,omitempty"`
}

func DefaultHostingSettings() HostingSettings {
	return HostingSettings{AutoGetToken: true}
}

// ShortLinkSettings configures the external link shortener.
type ShortLinkSettings struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// Level is an access tier; higher tiers include lower ones.
type Level string

const (
	LevelGuest Level = "guest"
	LevelUser  Level = "user"
	LevelAdmin Level = "admin"
)

// UserKey is a caller credential issued from the admin API.
type UserKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	Level      Level      `json:"level"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	UsageCount int64      `json:"usage_count"`
}

// AdminCredentials protects the admin API. PasswordHash is an argon2id encoding.
type AdminCredentials struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EndpointPermissions maps a route path to its required level.
type EndpointPermissions map[string]Level

func DefaultEndpointPermissions() EndpointPermissions {
	return EndpointPermissions{
		"/v1/models":             LevelGuest,
		"/v1/chat/completions":   LevelUser,
		"/v1/images/generations": LevelUser,
		"/gen":                   LevelUser,
		"/admin":                 LevelAdmin,
		"/config":                LevelAdmin,
	}
}
