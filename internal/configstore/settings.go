package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/open_image_gateway/internal/auth"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/models"
)

const (
	providerPrefix = "provider:"
	userKeyPrefix  = "user_key:"

	keySystem      = "system_config"
	keyPrompt      = "ai_prompt_config"
	keyHosting     = "image_hosting_config"
	keyShortLink   = "shortlink_config"
	keyPermissions = "endpoint_permissions"
	keyAdmin       = "admin_config"
)

// Defaults are used for settings that have never been saved.
type Defaults struct {
	System        models.SystemSettings
	AdminUsername string
	AdminPassword string
}

// DefaultsFromConfig derives store defaults from the bootstrap section.
func DefaultsFromConfig(cfg config.Config) Defaults {
	port := 7860
	if _, p, err := net.SplitHostPort(cfg.Server.ListenAddr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return Defaults{
		System: models.SystemSettings{
			Port:                port,
			MaxImagesPerRequest: cfg.Bootstrap.MaxImagesPerRequest,
			BannedKeywords:      cfg.Bootstrap.BannedKeywords,
			APIKey:              cfg.Bootstrap.APIKey,
		},
		AdminUsername: cfg.Bootstrap.AdminUsername,
		AdminPassword: cfg.Bootstrap.AdminPassword,
	}
}

// Settings exposes typed records on top of a KV backend.
type Settings struct {
	kv       KV
	defaults Defaults
	now      func() time.Time

	// serializes read-modify-write cycles on user keys
	mu sync.Mutex
}

func NewSettings(kv KV, defaults Defaults) *Settings {
	if defaults.System.MaxImagesPerRequest <= 0 {
		defaults.System.MaxImagesPerRequest = 4
	}
	return &Settings{kv: kv, defaults: defaults, now: func() time.Time { return time.Now().UTC() }}
}

// KV returns the underlying backend.
func (s *Settings) KV() KV { return s.kv }

func (s *Settings) GetConfig(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Get(ctx, key)
}

func (s *Settings) SetConfig(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, key, value)
}

func (s *Settings) DeleteConfig(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, key)
}

// ImportFromEnv copies non-empty environment variables into the store under
// their own names and returns how many were written.
func (s *Settings) ImportFromEnv(ctx context.Context, keys []string) (int, error) {
	imported := 0
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		if err := s.kv.Set(ctx, key, value); err != nil {
			return imported, err
		}
		slog.Info("imported config from environment", slog.String("key", key))
		imported++
	}
	return imported, nil
}

// ListProviders returns all providers ordered by creation time.
func (s *Settings) ListProviders(ctx context.Context) ([]models.Provider, error) {
	entries, err := s.kv.List(ctx, providerPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.Provider, 0, len(entries))
	for key, raw := range entries {
		var p models.Provider
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			slog.Warn("skipping unreadable provider record", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Settings) GetProvider(ctx context.Context, id string) (models.Provider, error) {
	var p models.Provider
	found, err := s.load(ctx, providerPrefix+id, &p)
	if err != nil {
		return models.Provider{}, err
	}
	if !found {
		return models.Provider{}, ErrNotFound
	}
	return p, nil
}

// SaveProvider inserts or replaces a provider, assigning an id and
// timestamps as needed.
func (s *Settings) SaveProvider(ctx context.Context, p models.Provider) (models.Provider, error) {
	now := s.now()
	if strings.TrimSpace(p.ID) == "" {
		p.ID = newShortID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.APIKeys == nil {
		p.APIKeys = []string{}
	}
	if p.Models == nil {
		p.Models = []string{}
	}
	if err := s.save(ctx, providerPrefix+p.ID, p); err != nil {
		return models.Provider{}, err
	}
	return p, nil
}

func (s *Settings) DeleteProvider(ctx context.Context, id string) error {
	if _, err := s.GetProvider(ctx, id); err != nil {
		return err
	}
	return s.kv.Delete(ctx, providerPrefix+id)
}

func (s *Settings) System(ctx context.Context) (models.SystemSettings, error) {
	out := s.defaults.System
	if _, err := s.load(ctx, keySystem, &out); err != nil {
		return s.defaults.System, err
	}
	if out.MaxImagesPerRequest <= 0 {
		out.MaxImagesPerRequest = s.defaults.System.MaxImagesPerRequest
	}
	return out, nil
}

func (s *Settings) SaveSystem(ctx context.Context, v models.SystemSettings) error {
	if v.MaxImagesPerRequest <= 0 {
		return fmt.Errorf("max_images_per_request must be > 0")
	}
	return s.save(ctx, keySystem, v)
}

func (s *Settings) Prompt(ctx context.Context) (models.PromptSettings, error) {
	out := models.DefaultPromptSettings()
	_, err := s.load(ctx, keyPrompt, &out)
	return out, err
}

func (s *Settings) SavePrompt(ctx context.Context, v models.PromptSettings) error {
	return s.save(ctx, keyPrompt, v)
}

func (s *Settings) Hosting(ctx context.Context) (models.HostingSettings, error) {
	out := models.DefaultHostingSettings()
	_, err := s.load(ctx, keyHosting, &out)
	return out, err
}

func (s *Settings) SaveHosting(ctx context.Context, v models.HostingSettings) error {
	return s.save(ctx, keyHosting, v)
}

func (s *Settings) ShortLink(ctx context.Context) (models.ShortLinkSettings, error) {
	var out models.ShortLinkSettings
	_, err := s.load(ctx, keyShortLink, &out)
	return out, err
}

func (s *Settings) SaveShortLink(ctx context.Context, v models.ShortLinkSettings) error {
	return s.save(ctx, keyShortLink, v)
}

// Permissions returns the stored endpoint map, or the defaults when unset.
func (s *Settings) Permissions(ctx context.Context) (models.EndpointPermissions, error) {
	var out models.EndpointPermissions
	found, err := s.load(ctx, keyPermissions, &out)
	if err != nil || !found || len(out) == 0 {
		return models.DefaultEndpointPermissions(), err
	}
	return out, nil
}

func (s *Settings) SavePermissions(ctx context.Context, v models.EndpointPermissions) error {
	for path, level := range v {
		switch level {
		case models.LevelGuest, models.LevelUser, models.LevelAdmin:
		default:
			return fmt.Errorf("invalid level %q for %s", level, path)
		}
	}
	return s.save(ctx, keyPermissions, v)
}

func (s *Settings) ListUserKeys(ctx context.Context) ([]models.UserKey, error) {
	entries, err := s.kv.List(ctx, userKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.UserKey, 0, len(entries))
	for key, raw := range entries {
		var k models.UserKey
		if err := json.Unmarshal([]byte(raw), &k); err != nil {
			slog.Warn("skipping unreadable user key record", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CreateUserKey stores a new key, generating the secret when blank.
func (s *Settings) CreateUserKey(ctx context.Context, name string, level models.Level, secret string) (models.UserKey, error) {
	if level != models.LevelUser && level != models.LevelAdmin {
		return models.UserKey{}, fmt.Errorf("level must be user or admin")
	}
	if strings.TrimSpace(secret) == "" {
		generated, err := auth.GenerateAPIKey("sk-")
		if err != nil {
			return models.UserKey{}, err
		}
		secret = generated
	}
	now := s.now()
	k := models.UserKey{
		ID:        newShortID(),
		Name:      strings.TrimSpace(name),
		Key:       secret,
		Level:     level,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.save(ctx, userKeyPrefix+k.ID, k); err != nil {
		return models.UserKey{}, err
	}
	return k, nil
}

func (s *Settings) DeleteUserKey(ctx context.Context, id string) error {
	var k models.UserKey
	found, err := s.load(ctx, userKeyPrefix+id, &k)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return s.kv.Delete(ctx, userKeyPrefix+id)
}

// FindUserKey looks up an enabled or disabled key by its secret.
func (s *Settings) FindUserKey(ctx context.Context, secret string) (models.UserKey, bool, error) {
	if secret == "" {
		return models.UserKey{}, false, nil
	}
	keys, err := s.ListUserKeys(ctx)
	if err != nil {
		return models.UserKey{}, false, err
	}
	for _, k := range keys {
		if auth.SecretsEqual(k.Key, secret) {
			return k, true, nil
		}
	}
	return models.UserKey{}, false, nil
}

// RecordUsage bumps the usage counter and last-used time for a key.
func (s *Settings) RecordUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var k models.UserKey
	found, err := s.load(ctx, userKeyPrefix+id, &k)
	if err != nil || !found {
		return err
	}
	now := s.now()
	k.UsageCount++
	k.LastUsed = &now
	k.UpdatedAt = now
	return s.save(ctx, userKeyPrefix+id, k)
}

// EnsureAdmin seeds hashed admin credentials from the bootstrap defaults.
func (s *Settings) EnsureAdmin(ctx context.Context) error {
	var creds models.AdminCredentials
	found, err := s.load(ctx, keyAdmin, &creds)
	if err != nil {
		return err
	}
	if found && creds.PasswordHash != "" {
		return nil
	}
	return s.SetAdmin(ctx, s.defaults.AdminUsername, s.defaults.AdminPassword)
}

func (s *Settings) Admin(ctx context.Context) (models.AdminCredentials, error) {
	var creds models.AdminCredentials
	found, err := s.load(ctx, keyAdmin, &creds)
	if err != nil {
		return creds, err
	}
	if !found {
		return creds, ErrNotFound
	}
	return creds, nil
}

func (s *Settings) SetAdmin(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("admin username required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.save(ctx, keyAdmin, models.AdminCredentials{
		Username:     strings.TrimSpace(username),
		PasswordHash: hash,
		UpdatedAt:    s.now(),
	})
}

// Status summarizes the backend for the admin dashboard.
type Status struct {
	Backend        string `json:"config_source"`
	Connected      bool   `json:"connected"`
	Location       string `json:"location"`
	ProvidersCount int    `json:"providers_count"`
}

func (s *Settings) Status(ctx context.Context) Status {
	st := Status{Backend: s.kv.Backend(), Location: s.kv.Location()}
	st.Connected = s.kv.Ping(ctx) == nil
	if providers, err := s.ListProviders(ctx); err == nil {
		st.ProvidersCount = len(providers)
	}
	return st
}

func (s *Settings) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		slog.Warn("ignoring unreadable config entry", slog.String("key", key), slog.String("error", err.Error()))
		return false, nil
	}
	return true, nil
}

func (s *Settings) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(raw))
}

func newShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
