package postprocess

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ncecere/open_image_gateway/internal/models"
	"github.com/ncecere/open_image_gateway/internal/normalize"
	"github.com/ncecere/open_image_gateway/internal/storage/blob"
)

// BackendLsky is the default rehost backend.
const BackendLsky = "lsky"

const maxDownloadBytes = 32 << 20

// StoreFactory builds a blob store for a backend config.
type StoreFactory func(ctx context.Context, cfg blob.Config) (blob.Store, error)

// RehosterOptions configure a Rehoster.
type RehosterOptions struct {
	HTTPClient      *http.Client
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	FilesBaseURL    string
	Stores          StoreFactory
	Logger          *slog.Logger
}

// Rehoster copies an image to a permanent host.
type Rehoster struct {
	client          *http.Client
	downloadTimeout time.Duration
	lsky            *LskyClient
	filesBaseURL    string
	stores          StoreFactory
	logger          *slog.Logger

	mu        sync.Mutex
	tokens    map[string]string
	storeCfg  blob.Config
	store     blob.Store
	storeInit bool
}

func NewRehoster(opts RehosterOptions) *Rehoster {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 10 * time.Second
	}
	if opts.Stores == nil {
		opts.Stores = blob.New
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Rehoster{
		client:          client,
		downloadTimeout: opts.DownloadTimeout,
		lsky:            NewLskyClient(client, opts.UploadTimeout),
		filesBaseURL:    opts.FilesBaseURL,
		stores:          opts.Stores,
		logger:          opts.Logger,
		tokens:          make(map[string]string),
	}
}

// Lsky exposes the Lsky client, used by the admin API to fetch tokens on save.
func (r *Rehoster) Lsky() *LskyClient { return r.lsky }

// Rehost accepts a URL or a data URI. It returns the hosted URL and true, or
// "" and false when disabled or on any failure.
func (r *Rehoster) Rehost(ctx context.Context, cfg models.HostingSettings, ref string) (string, bool) {
	if !cfg.Enabled || strings.TrimSpace(ref) == "" {
		return "", false
	}
	data, err := r.load(ctx, ref)
	if err != nil {
		r.logger.Warn("rehost: cannot read image", slog.String("error", err.Error()))
		return "", false
	}
	return r.RehostBytes(ctx, cfg, data)
}

// RehostBytes uploads raw image bytes.
func (r *Rehoster) RehostBytes(ctx context.Context, cfg models.HostingSettings, data []byte) (string, bool) {
	if !cfg.Enabled || len(data) == 0 {
		return "", false
	}
	url, err := r.upload(ctx, cfg, data)
	if err != nil {
		r.logger.Warn("rehost: upload failed", slog.String("backend", backendName(cfg)), slog.String("error", err.Error()))
		return "", false
	}
	return url, true
}

func backendName(cfg models.HostingSettings) string {
	b := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if b == "" {
		return BackendLsky
	}
	return b
}

func (r *Rehoster) upload(ctx context.Context, cfg models.HostingSettings, data []byte) (string, error) {
	if backendName(cfg) == BackendLsky {
		return r.uploadLsky(ctx, cfg, data)
	}
	store, err := r.blobStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	contentType := http.DetectContentType(data)
	key := time.Now().UTC().Format("2006/01/02") + "/" + uuid.NewString() + extensionFor(contentType)
	info, err := store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType, Size: int64(len(data))})
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (r *Rehoster) uploadLsky(ctx context.Context, cfg models.HostingSettings, data []byte) (string, error) {
	base := strings.TrimSpace(cfg.LskyURL)
	if base == "" {
		return "", errors.New("lsky url not configured")
	}
	token, cacheKey, err := r.lskyToken(ctx, cfg)
	if err != nil {
		return "", err
	}
	url, err := r.lsky.Upload(ctx, base, token, data)
	if cacheKey == "" || !errors.Is(err, ErrLskyUnauthorized) {
		return url, err
	}
	// The fetched token expired: drop it and retry once with a new one.
	r.evictToken(cacheKey, token)
	token, _, err = r.lskyToken(ctx, cfg)
	if err != nil {
		return "", err
	}
	return r.lsky.Upload(ctx, base, token, data)
}

// lskyToken uses the stored token, else a cached or freshly fetched one when
// auto_get_token is set. cacheKey is empty for a stored token.
func (r *Rehoster) lskyToken(ctx context.Context, cfg models.HostingSettings) (token, cacheKey string, err error) {
	if t := strings.TrimSpace(cfg.Token); t != "" {
		return t, "", nil
	}
	if !cfg.AutoGetToken || cfg.Username == "" || cfg.Password == "" {
		return "", "", errors.New("lsky token not configured")
	}
	cacheKey = cfg.LskyURL + "|" + cfg.Username
	r.mu.Lock()
	cached := r.tokens[cacheKey]
	r.mu.Unlock()
	if cached != "" {
		return cached, cacheKey, nil
	}
	token, err = r.lsky.FetchToken(ctx, cfg.LskyURL, cfg.Username, cfg.Password)
	if err != nil {
		return "", "", err
	}
	r.mu.Lock()
	r.tokens[cacheKey] = token
	r.mu.Unlock()
	return token, cacheKey, nil
}

func (r *Rehoster) evictToken(cacheKey, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens[cacheKey] == token {
		delete(r.tokens, cacheKey)
	}
}

func (r *Rehoster) blobStore(ctx context.Context, cfg models.HostingSettings) (blob.Store, error) {
	want := blob.ConfigFromHosting(cfg, r.filesBaseURL)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.storeInit && r.storeCfg == want {
		return r.store, nil
	}
	store, err := r.stores(ctx, want)
	if err != nil {
		return nil, err
	}
	r.store, r.storeCfg, r.storeInit = store, want, true
	return store, nil
}

// load resolves ref to image bytes: data URIs are decoded, URLs downloaded.
func (r *Rehoster) load(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		_, payload, ok := strings.Cut(ref, ",")
		if !ok {
			return nil, errors.New("malformed data uri")
		}
		return base64.StdEncoding.DecodeString(payload)
	}
	if !normalize.IsURL(ref) {
		return base64.StdEncoding.DecodeString(ref)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
