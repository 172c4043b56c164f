package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/limits"
	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/requestctx"
	"github.com/ncecere/open_image_gateway/internal/storage/blob"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":7860", PublicBaseURL: "http://gw.local"},
		Store: config.StoreConfig{
			Backend:   config.StoreSQLite,
			KeyPrefix: "image_gen_service:",
			SQLite:    config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "config.db")},
		},
		Admin: config.AdminConfig{Session: config.AdminSessionConfig{
			JWTSecret:      "secret",
			AccessTokenTTL: time.Hour,
			CookieName:     "gateway_session",
		}},
		Bootstrap: config.BootstrapConfig{
			MaxImagesPerRequest: 4,
			AdminUsername:       "admin",
			AdminPassword:       "admin123",
		},
	}
}

func newTestContainer(t *testing.T, rdb *redis.Client) *Container {
	t.Helper()
	cfg := testConfig(t)
	kv, err := configstore.OpenSQLite(cfg.Store.SQLite.Path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	container, err := NewContainer(context.Background(), cfg, Options{KV: kv, Redis: rdb})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() { _ = container.Close(context.Background()) })
	return container
}

func TestNewContainerBootstrapsAdmin(t *testing.T) {
	container := newTestContainer(t, nil)
	creds, err := container.Settings.Admin(context.Background())
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if creds.Username != "admin" || creds.PasswordHash == "" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	if container.Dispatcher == nil || container.Registry == nil {
		t.Fatalf("dispatcher and registry must be wired")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Key abc":     "abc",
		"abc":         "abc",
		"":            "",
	}
	for in, want := range cases {
		if got := BearerToken(in); got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
}

func TestResolveCaller(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t, nil)

	open, err := container.ResolveCaller(ctx, "", "10.0.0.1")
	if err != nil || open.Level != models.LevelUser {
		t.Fatalf("without a service key callers are users, got %+v err=%v", open, err)
	}

	if err := container.Settings.SaveSystem(ctx, models.SystemSettings{MaxImagesPerRequest: 4, APIKey: "svc"}); err != nil {
		t.Fatalf("save system: %v", err)
	}
	guest, err := container.ResolveCaller(ctx, "", "10.0.0.1")
	if err != nil || guest.Level != models.LevelGuest || guest.LimitKey() != "guest:10.0.0.1" {
		t.Fatalf("expected guest, got %+v err=%v", guest, err)
	}
	svc, err := container.ResolveCaller(ctx, "Key svc", "")
	if err != nil || svc.Source != requestctx.SourceService {
		t.Fatalf("expected service caller, got %+v err=%v", svc, err)
	}
	if _, err := container.ResolveCaller(ctx, "Bearer nope", ""); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("expected ErrInvalidAPIKey, got %v", err)
	}

	key, err := container.Settings.CreateUserKey(ctx, "alice", models.LevelUser, "")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	user, err := container.ResolveCaller(ctx, "Bearer "+key.Key, "")
	if err != nil || user.KeyID != key.ID || user.Level != models.LevelUser {
		t.Fatalf("expected user caller, got %+v err=%v", user, err)
	}
	stored, _, err := container.Settings.FindUserKey(ctx, key.Key)
	if err != nil || stored.UsageCount != 1 {
		t.Fatalf("usage not recorded: %+v err=%v", stored, err)
	}
}

func TestAcquireRateLimits(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	container := &Container{
		RateLimiter: limits.NewRateLimiter(client, "test:"),
		RateLimits:  limits.LimitConfig{ParallelRequests: 1},
	}
	ctx := requestctx.WithContext(context.Background(), &requestctx.Caller{Source: requestctx.SourceUserKey, KeyID: "k1"})

	release, err := container.AcquireRateLimits(ctx)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := container.AcquireRateLimits(ctx); !errors.Is(err, limits.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	release()
	releaseAgain, err := container.AcquireRateLimits(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	releaseAgain()

	// requests without a resolved caller are not limited
	if _, err := container.AcquireRateLimits(context.Background()); err != nil {
		t.Fatalf("anonymous acquire: %v", err)
	}
}

func TestLocalFiles(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t, nil)

	if _, err := container.LocalFiles(ctx); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for lsky hosting, got %v", err)
	}
	dir := t.TempDir()
	if err := container.Settings.SaveHosting(ctx, models.HostingSettings{Enabled: true, Backend: "local", Directory: dir}); err != nil {
		t.Fatalf("save hosting: %v", err)
	}
	store, err := container.LocalFiles(ctx)
	if err != nil {
		t.Fatalf("local files: %v", err)
	}
	if got := store.URL("2025/01/01/a.png"); got != "http://gw.local/files/2025/01/01/a.png" {
		t.Fatalf("unexpected url %q", got)
	}
}
