package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_image_gateway/internal/auth"
	"github.com/ncecere/open_image_gateway/internal/cache"
	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/configstore"
	"github.com/ncecere/open_image_gateway/internal/enhance"
	"github.com/ncecere/open_image_gateway/internal/gateway"
	"github.com/ncecere/open_image_gateway/internal/limits"
	"github.com/ncecere/open_image_gateway/internal/observability"
	"github.com/ncecere/open_image_gateway/internal/postprocess"
	"github.com/ncecere/open_image_gateway/internal/providers"
	"github.com/ncecere/open_image_gateway/internal/providers/keypool"
	"github.com/ncecere/open_image_gateway/internal/storage/blob"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	Redis         *redis.Client
	Settings      *configstore.Settings
	Registry      *providers.Registry
	Dispatcher    *gateway.Dispatcher
	Rehoster      *postprocess.Rehoster
	Tokens        *auth.TokenManager
	RateLimiter   *limits.RateLimiter
	RateLimits    limits.LimitConfig
	Idempotency   *cache.IdempotencyCache
	Observability *observability.Provider
	Logger        *slog.Logger

	stores postprocess.StoreFactory
}

// Options carries the primitives NewContainer wires together. KV is
// required; everything else is optional.
type Options struct {
	KV            configstore.KV
	Redis         *redis.Client
	Observability *observability.Provider
	HTTPClient    *http.Client
	Logger        *slog.Logger
	// Base is cancelled on shutdown and bounds in-flight generations.
	Base context.Context
}

// NewContainer builds a dependency container from the provided primitives.
func NewContainer(ctx context.Context, cfg *config.Config, opts Options) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.KV == nil {
		return nil, fmt.Errorf("config store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	base := opts.Base
	if base == nil {
		base = ctx
	}

	settings := configstore.NewSettings(opts.KV, configstore.DefaultsFromConfig(*cfg))
	if err := settings.EnsureAdmin(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap admin credentials: %w", err)
	}
	if len(cfg.Bootstrap.ImportEnvKeys) > 0 {
		n, err := settings.ImportFromEnv(ctx, cfg.Bootstrap.ImportEnvKeys)
		if err != nil {
			return nil, fmt.Errorf("import env settings: %w", err)
		}
		logger.Info("imported settings from environment", slog.Int("count", n))
	}

	tokens, err := auth.NewTokenManager(cfg.Admin.Session.JWTSecret, cfg.Admin.Session.AccessTokenTTL, "open-image-gateway")
	if err != nil {
		return nil, fmt.Errorf("init admin sessions: %w", err)
	}

	factory := providers.NewFactory(providers.Env{
		Upstream:   cfg.Upstream,
		HTTPClient: httpClient,
		Picker:     keypool.NewRandom(nil),
		Logger:     logger,
	})
	registry := providers.NewRegistry(settings, factory)

	stores := postprocess.StoreFactory(blob.New)
	rehoster := postprocess.NewRehoster(postprocess.RehosterOptions{
		HTTPClient:      httpClient,
		DownloadTimeout: cfg.Upstream.DownloadTimeout,
		UploadTimeout:   cfg.Upstream.UploadTimeout,
		FilesBaseURL:    cfg.Server.PublicBaseURL,
		Stores:          stores,
		Logger:          logger,
	})

	deps := gateway.Deps{
		Settings:  settings,
		Resolver:  registry,
		Enhancer:  enhance.New(httpClient, cfg.Upstream.EnhancerTimeout, logger),
		Shortener: postprocess.NewShortener(httpClient, cfg.Upstream.ShortenerTimeout, logger),
		Rehoster:  rehoster,
		Logger:    logger,
		Base:      base,
	}
	if opts.Observability != nil {
		deps.Recorder = opts.Observability
	}

	prefix := cfg.Store.KeyPrefix
	return &Container{
		Config:        cfg,
		Redis:         opts.Redis,
		Settings:      settings,
		Registry:      registry,
		Dispatcher:    gateway.New(deps),
		Rehoster:      rehoster,
		Tokens:        tokens,
		RateLimiter:   limits.NewRateLimiter(opts.Redis, prefix),
		RateLimits:    limits.FromConfig(cfg.RateLimits),
		Idempotency:   cache.NewIdempotencyCache(opts.Redis, prefix, cfg.Server.IdempotencyTTL),
		Observability: opts.Observability,
		Logger:        logger,
		stores:        stores,
	}, nil
}

// LocalFiles opens the local blob store that backs /files/:key, or returns
// blob.ErrNotFound when rehosting is not configured for local storage.
func (c *Container) LocalFiles(ctx context.Context) (blob.Store, error) {
	hosting, err := c.Settings.Hosting(ctx)
	if err != nil {
		return nil, err
	}
	if strings.ToLower(strings.TrimSpace(hosting.Backend)) != blob.BackendLocal {
		return nil, blob.ErrNotFound
	}
	return c.stores(ctx, blob.ConfigFromHosting(hosting, c.Config.Server.PublicBaseURL))
}

// Close releases the config store and the observability exporters.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Settings != nil {
		if err := c.Settings.KV().Close(); err != nil {
			errs = append(errs, fmt.Errorf("close config store: %w", err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Observability.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown observability: %w", err))
	}
	return errors.Join(errs...)
}
