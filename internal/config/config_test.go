package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := []byte("store:\n  backend: sqlite\n  sqlite:\n    path: " + filepath.Join(dir, "cfg.db") + "\nupstream:\n  queue_poll_interval: 500ms\n  queue_output_format: PNG\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GATEWAY_ADMIN_SESSION_JWT_SECRET", "secret")
	t.Setenv("GATEWAY_BOOTSTRAP_BANNED_KEYWORDS", "foo,bar")

	cfg, err := Load(Options{ConfigFile: path, EnvFile: filepath.Join(dir, "missing.env")})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7860" {
		t.Fatalf("expected default listen addr, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Upstream.QueuePollInterval != 500*time.Millisecond {
		t.Fatalf("expected poll interval from file, got %s", cfg.Upstream.QueuePollInterval)
	}
	if cfg.Upstream.QueuePollAttempts != 60 || cfg.Upstream.QueueSubmitRetries != 3 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Upstream)
	}
	if cfg.Upstream.QueueOutputFormat != "png" {
		t.Fatalf("expected normalized output format, got %q", cfg.Upstream.QueueOutputFormat)
	}
	if cfg.Bootstrap.BannedKeywords != "foo,bar" {
		t.Fatalf("expected env override, got %q", cfg.Bootstrap.BannedKeywords)
	}
	if cfg.Store.KeyPrefix != "image_gen_service:" {
		t.Fatalf("unexpected key prefix %q", cfg.Store.KeyPrefix)
	}
}

func TestValidateReportsMissingValues(t *testing.T) {
	cfg := Config{Store: StoreConfig{Backend: StoreRedis}}
	cfg.Upstream.QueuePollAttempts = 1
	cfg.Upstream.QueuePollInterval = time.Second
	cfg.Bootstrap.MaxImagesPerRequest = 1

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	want := "missing required configuration: GATEWAY_REDIS_URL, GATEWAY_ADMIN_SESSION_JWT_SECRET"
	if err.Error() != want {
		t.Fatalf("unexpected error %q", err.Error())
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Config{Store: StoreConfig{Backend: "etcd"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestValidateRejectsUnknownOutputFormat(t *testing.T) {
	u := UpstreamConfig{QueuePollAttempts: 1, QueuePollInterval: time.Second, QueueOutputFormat: "webp"}
	if err := u.validate(); err == nil {
		t.Fatalf("expected error for unsupported output format")
	}
}
