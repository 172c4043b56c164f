package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_image_gateway/internal/app"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/health"
)

func newTestServer(t *testing.T, rdb *redis.Client) *Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{BodyLimitMB: 1, ReadHeaderTimeout: 5 * time.Second},
		Store:  config.StoreConfig{Backend: config.StoreSQLite, SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "c.db")}},
		Admin:  config.AdminConfig{Session: config.AdminSessionConfig{JWTSecret: "s", AccessTokenTTL: time.Hour}},
		Bootstrap: config.BootstrapConfig{
			MaxImagesPerRequest: 4,
			AdminUsername:       "admin",
			AdminPassword:       "pw",
		},
	}
	kv, err := configstore.OpenSQLite(cfg.Store.SQLite.Path)
	require.NoError(t, err)
	container, err := app.NewContainer(context.Background(), cfg, app.Options{KV: kv, Redis: rdb})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(context.Background()) })

	srv, err := New(container)
	require.NoError(t, err)
	return srv
}

func TestHealthRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	srv := newTestServer(t, rdb)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, "OK", string(body))
	require.Equal(t, serverName, resp.Header.Get("Server"))

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report health.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Equal(t, health.StatusOK, report.Status)
	require.Contains(t, report.Checks, "redis")
	require.Contains(t, report.Checks, "store:sqlite")

	mr.Close()
	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRoutesMounted(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/v1/models", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.App().Test(httptest.NewRequest(http.MethodGet, "/config/api/status", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
