package configstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ncecere/open_image_gateway/internal/config"
	"github.com/ncecere/open_image_gateway/internal/database"
)

type postgresKV struct {
	pool *pgxpool.Pool
	host string
}

// OpenPostgres runs migrations then connects a pool.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (KV, error) {
	if err := database.RunMigrations(ctx, cfg); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool; the config_entries table must exist.
func NewPostgres(pool *pgxpool.Pool) KV {
	host := ""
	if cc := pool.Config().ConnConfig; cc != nil {
		host = fmt.Sprintf("%s:%d/%s", cc.Host, cc.Port, cc.Database)
	}
	return &postgresKV{pool: pool, host: host}
}

func (p *postgresKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := p.pool.QueryRow(ctx, `SELECT value FROM config_entries WHERE config_key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, true, nil
}

func (p *postgresKV) Set(ctx context.Context, key, value string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO config_entries (config_key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (config_key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	return nil
}

func (p *postgresKV) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM config_entries WHERE config_key = $1`, key); err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}

func (p *postgresKV) List(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT config_key, value FROM config_entries WHERE starts_with(config_key, $1)`, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres list %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (p *postgresKV) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *postgresKV) Backend() string { return "postgres" }

func (p *postgresKV) Location() string { return p.host }

func (p *postgresKV) Close() error {
	p.pool.Close()
	return nil
}
