package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the gateway service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Admin         AdminConfig         `mapstructure:"admin"`
	Bootstrap     BootstrapConfig     `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadHeaderTimeout     time.Duration `mapstructure:"read_header_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	PublicBaseURL         string        `mapstructure:"public_base_url"`
	IdempotencyTTL        time.Duration `mapstructure:"idempotency_ttl"`
}

// StoreConfig selects the backend that holds providers and runtime settings.
type StoreConfig struct {
	Backend   string         `mapstructure:"backend"`
	KeyPrefix string         `mapstructure:"key_prefix"`
	SQLite    SQLiteConfig   `mapstructure:"sqlite"`
	Postgres  DatabaseConfig `mapstructure:"postgres"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// UpstreamConfig holds the timing contract for every outbound call.
type UpstreamConfig struct {
	NativeTimeout      time.Duration `mapstructure:"native_timeout"`
	OpenAITimeout      time.Duration `mapstructure:"openai_timeout"`
	QueueSubmitTimeout time.Duration `mapstructure:"queue_submit_timeout"`
	QueuePollInterval  time.Duration `mapstructure:"queue_poll_interval"`
	QueuePollAttempts  int           `mapstructure:"queue_poll_attempts"`
	QueueSubmitRetries int           `mapstructure:"queue_submit_retries"`
	QueueOutputFormat  string        `mapstructure:"queue_output_format"`
	ShortenerTimeout   time.Duration `mapstructure:"shortener_timeout"`
	DownloadTimeout    time.Duration `mapstructure:"download_timeout"`
	UploadTimeout      time.Duration `mapstructure:"upload_timeout"`
	EnhancerTimeout    time.Duration `mapstructure:"enhancer_timeout"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	ParallelRequests  int `mapstructure:"parallel_requests"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

type AdminConfig struct {
	Session AdminSessionConfig `mapstructure:"session"`
}

type AdminSessionConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	CookieName     string        `mapstructure:"cookie_name"`
}

// BootstrapConfig seeds settings that have not been written to the store yet.
type BootstrapConfig struct {
	MaxImagesPerRequest int      `mapstructure:"max_images_per_request"`
	BannedKeywords      string   `mapstructure:"banned_keywords"`
	APIKey              string   `mapstructure:"api_key"`
	AdminUsername       string   `mapstructure:"admin_username"`
	AdminPassword       string   `mapstructure:"admin_password"`
	ImportEnvKeys       []string `mapstructure:"import_env_keys"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else if cfg := os.Getenv("GATEWAY_CONFIG_FILE"); cfg != "" {
		v.SetConfigFile(cfg)
		explicitFile = true
	}

	if !explicitFile {
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set.
func (c *Config) Validate() error {
	var missing []string

	switch c.Store.Backend {
	case StoreSQLite:
		if strings.TrimSpace(c.Store.SQLite.Path) == "" {
			missing = append(missing, "GATEWAY_STORE_SQLITE_PATH")
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			missing = append(missing, "GATEWAY_REDIS_URL")
		}
	case StorePostgres:
		if c.Store.Postgres.URL == "" {
			missing = append(missing, "GATEWAY_STORE_POSTGRES_URL")
		}
	default:
		return fmt.Errorf("store.backend must be one of sqlite, redis, postgres (got %q)", c.Store.Backend)
	}
	if c.Admin.Session.JWTSecret == "" {
		missing = append(missing, "GATEWAY_ADMIN_SESSION_JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if err := c.Upstream.validate(); err != nil {
		return err
	}
	if c.Bootstrap.MaxImagesPerRequest <= 0 {
		return fmt.Errorf("bootstrap.max_images_per_request must be > 0")
	}
	c.Bootstrap.ImportEnvKeys = normalizeStringSlice(c.Bootstrap.ImportEnvKeys)
	c.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicBaseURL), "/")
	return nil
}

const (
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

func (u *UpstreamConfig) validate() error {
	if u.QueuePollAttempts <= 0 {
		return fmt.Errorf("upstream.queue_poll_attempts must be > 0")
	}
	if u.QueueSubmitRetries < 0 {
		return fmt.Errorf("upstream.queue_submit_retries must be >= 0")
	}
	if u.QueuePollInterval <= 0 {
		return fmt.Errorf("upstream.queue_poll_interval must be > 0")
	}
	u.QueueOutputFormat = strings.ToLower(strings.TrimSpace(u.QueueOutputFormat))
	switch u.QueueOutputFormat {
	case "", "jpeg", "png":
	default:
		return fmt.Errorf("upstream.queue_output_format must be jpeg or png, got %q", u.QueueOutputFormat)
	}
	return nil
}

// UsesRedis reports whether any component needs a redis connection.
func (c *Config) UsesRedis() bool {
	return c.Redis.URL != "" || c.Store.Backend == StoreRedis
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":7860")
	v.SetDefault("server.body_limit_mb", 20)
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")
	v.SetDefault("server.idempotency_ttl", "10m")

	v.SetDefault("store.backend", StoreSQLite)
	v.SetDefault("store.key_prefix", "image_gen_service:")
	v.SetDefault("store.sqlite.path", "./data/config.db")
	v.SetDefault("store.postgres.run_migrations", true)
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.max_conn_idle_time", "10m")
	v.SetDefault("store.postgres.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("upstream.native_timeout", "60s")
	v.SetDefault("upstream.openai_timeout", "60s")
	v.SetDefault("upstream.queue_submit_timeout", "30s")
	v.SetDefault("upstream.queue_poll_interval", "2s")
	v.SetDefault("upstream.queue_poll_attempts", 60)
	v.SetDefault("upstream.queue_submit_retries", 3)
	v.SetDefault("upstream.queue_output_format", "")
	v.SetDefault("upstream.shortener_timeout", "5s")
	v.SetDefault("upstream.download_timeout", "10s")
	v.SetDefault("upstream.upload_timeout", "30s")
	v.SetDefault("upstream.enhancer_timeout", "30s")

	v.SetDefault("rate_limits.requests_per_minute", 120)
	v.SetDefault("rate_limits.parallel_requests", 8)

	v.SetDefault("observability.enable_otlp", false)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")

	v.SetDefault("admin.session.access_token_ttl", "12h")
	v.SetDefault("admin.session.cookie_name", "oig_admin_session")

	v.SetDefault("bootstrap.max_images_per_request", 4)
	v.SetDefault("bootstrap.banned_keywords", "")
	v.SetDefault("bootstrap.api_key", "")
	v.SetDefault("bootstrap.admin_username", "admin")
	v.SetDefault("bootstrap.admin_password", "admin123")
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return time.Duration(v) * time.Second, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
