// Package configstore persists providers and runtime settings behind a small
// key-value contract with redis, sqlite and postgres backends.
package configstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/open_image_gateway/internal/config"
)

var ErrNotFound = errors.New("config entry not found")

// KV is the storage contract. Implementations must make Set atomic per key.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]string, error)
	Ping(ctx context.Context) error
	Backend() string
	Location() string
	Close() error
}

// Open builds the backend selected by cfg.Store.Backend. The redis client is
// only consulted for the redis backend and may be nil otherwise.
func Open(ctx context.Context, cfg config.Config, rdb *redis.Client) (KV, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		if rdb == nil {
			return nil, errors.New("redis backend selected but no redis client configured")
		}
		return NewRedis(rdb, cfg.Store.KeyPrefix), nil
	case config.StoreSQLite:
		return OpenSQLite(cfg.Store.SQLite.Path)
	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.Store.Postgres)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
