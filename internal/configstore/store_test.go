package configstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_image_gateway/internal/models"
)

func newSQLiteKV(t *testing.T) KV {
	t.Helper()
	kv, err := OpenSQLite(filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func newRedisKV(t *testing.T) KV {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "image_gen_service:")
}

func TestKVBackends(t *testing.T) {
	backends := map[string]func(*testing.T) KV{
		"sqlite": newSQLiteKV,
		"redis":  newRedisKV,
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kv := build(t)

			_, found, err := kv.Get(ctx, "missing")
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, kv.Set(ctx, "user_key:a", "1"))
			require.NoError(t, kv.Set(ctx, "user_key:b", "2"))
			require.NoError(t, kv.Set(ctx, "userXkey:c", "3"))
			require.NoError(t, kv.Set(ctx, "user_key:a", "11"))

			val, found, err := kv.Get(ctx, "user_key:a")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "11", val)

			listed, err := kv.List(ctx, "user_key:")
			require.NoError(t, err)
			require.Equal(t, map[string]string{"user_key:a": "11", "user_key:b": "2"}, listed)

			require.NoError(t, kv.Delete(ctx, "user_key:a"))
			_, found, err = kv.Get(ctx, "user_key:a")
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, kv.Ping(ctx))
			require.Equal(t, name, kv.Backend())
		})
	}
}

func TestRedisKeysArePrefixed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	kv := NewRedis(client, "image_gen_service:")

	if err := kv.Set(context.Background(), "system_config", "{}"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("image_gen_service:system_config") {
		t.Fatalf("expected prefixed key in redis, have %v", mr.Keys())
	}
}

func TestSettingsProviders(t *testing.T) {
	ctx := context.Background()
	s := NewSettings(newSQLiteKV(t), Defaults{})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := s.SaveProvider(ctx, models.Provider{Name: "fal", Type: models.ProviderQueue, APIKeys: []string{"k"}, Enabled: true})
	require.NoError(t, err)
	require.Len(t, first.ID, 8)
	second, err := s.SaveProvider(ctx, models.Provider{Name: "native", Type: models.ProviderNative, Enabled: true})
	require.NoError(t, err)

	list, err := s.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)
	require.Equal(t, second.ID, list[1].ID)
	require.NotNil(t, list[1].Models)

	first.Name = "fal-renamed"
	updated, err := s.SaveProvider(ctx, first)
	require.NoError(t, err)
	require.True(t, updated.CreatedAt.Equal(first.CreatedAt))
	require.True(t, updated.UpdatedAt.After(first.UpdatedAt))

	require.NoError(t, s.DeleteProvider(ctx, second.ID))
	require.ErrorIs(t, s.DeleteProvider(ctx, second.ID), ErrNotFound)
	_, err = s.GetProvider(ctx, second.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewSettings(newRedisKV(t), Defaults{System: models.SystemSettings{MaxImagesPerRequest: 6, BannedKeywords: "x"}})

	sys, err := s.System(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, sys.MaxImagesPerRequest)
	require.Equal(t, "x", sys.BannedKeywords)

	prompt, err := s.Prompt(ctx)
	require.NoError(t, err)
	require.True(t, prompt.Enabled)
	require.Equal(t, "Qwen/Qwen3-8B", prompt.Model)

	hosting, err := s.Hosting(ctx)
	require.NoError(t, err)
	require.False(t, hosting.Enabled)
	require.True(t, hosting.AutoGetToken)

	perms, err := s.Permissions(ctx)
	require.NoError(t, err)
	require.Equal(t, models.LevelGuest, perms["/v1/models"])

	require.Error(t, s.SavePermissions(ctx, models.EndpointPermissions{"/gen": "root"}))
	require.NoError(t, s.SavePermissions(ctx, models.EndpointPermissions{"/gen": models.LevelGuest}))
	perms, err = s.Permissions(ctx)
	require.NoError(t, err)
	require.Equal(t, models.EndpointPermissions{"/gen": models.LevelGuest}, perms)

	require.NoError(t, s.SaveSystem(ctx, models.SystemSettings{MaxImagesPerRequest: 2, APIKey: "svc"}))
	sys, err = s.System(ctx)
	require.NoError(t, err)
	require.Equal(t, "svc", sys.APIKey)
	require.Equal(t, 2, sys.MaxImagesPerRequest)
}

func TestSettingsUserKeys(t *testing.T) {
	ctx := context.Background()
	s := NewSettings(newSQLiteKV(t), Defaults{})

	_, err := s.CreateUserKey(ctx, "bad", models.LevelGuest, "")
	require.Error(t, err)

	k, err := s.CreateUserKey(ctx, "alice", models.LevelUser, "")
	require.NoError(t, err)
	require.NotEmpty(t, k.Key)

	found, ok, err := s.FindUserKey(ctx, k.Key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, k.ID, found.ID)

	require.NoError(t, s.RecordUsage(ctx, k.ID))
	require.NoError(t, s.RecordUsage(ctx, k.ID))
	found, _, err = s.FindUserKey(ctx, k.Key)
	require.NoError(t, err)
	require.EqualValues(t, 2, found.UsageCount)
	require.NotNil(t, found.LastUsed)

	require.NoError(t, s.DeleteUserKey(ctx, k.ID))
	_, ok, err = s.FindUserKey(ctx, k.Key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSettingsAdminAndImport(t *testing.T) {
	ctx := context.Background()
	s := NewSettings(newSQLiteKV(t), Defaults{AdminUsername: "admin", AdminPassword: "admin123"})

	require.NoError(t, s.EnsureAdmin(ctx))
	creds, err := s.Admin(ctx)
	require.NoError(t, err)
	require.Equal(t, "admin", creds.Username)
	require.NotEqual(t, "admin123", creds.PasswordHash)

	t.Setenv("GATEWAY_TEST_IMPORT", "value")
	n, err := s.ImportFromEnv(ctx, []string{"GATEWAY_TEST_IMPORT", "GATEWAY_TEST_UNSET"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	val, found, err := s.GetConfig(ctx, "GATEWAY_TEST_IMPORT")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value", val)

	st := s.Status(ctx)
	require.Equal(t, "sqlite", st.Backend)
	require.True(t, st.Connected)
}
