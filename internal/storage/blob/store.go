// Package blob stores rehosted images in object storage or on local disk and
// reports the public URL of each stored object.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ncecere/open_image_gateway/internal/models"
)

var ErrNotFound = errors.New("blob: object not found")

// Backend names.
const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
	BackendLocal = "local"
)

type PutOptions struct {
	ContentType string
	// Size is the body length, or -1 when unknown.
	Size     int64
	Metadata map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	URL         string
}

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
	PublicURL string
	Directory string
	// FilesBaseURL is the gateway's own base URL; local objects are served
	// under {FilesBaseURL}/files/{key}.
	FilesBaseURL string
}

// ConfigFromHosting maps the stored hosting settings onto a backend config.
func ConfigFromHosting(h models.HostingSettings, filesBaseURL string) Config {
	return Config{
		Backend:      strings.ToLower(strings.TrimSpace(h.Backend)),
		Bucket:       strings.TrimSpace(h.Bucket),
		Endpoint:     strings.TrimSpace(h.Endpoint),
		Region:       strings.TrimSpace(h.Region),
		AccessKey:    h.AccessKey,
		SecretKey:    h.SecretKey,
		UseSSL:       h.UseSSL,
		Prefix:       strings.Trim(h.Prefix, "/"),
		PublicURL:    strings.TrimRight(strings.TrimSpace(h.PublicURL), "/"),
		Directory:    h.Directory,
		FilesBaseURL: strings.TrimRight(strings.TrimSpace(filesBaseURL), "/"),
	}
}

// New builds the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendS3:
		return newS3Store(ctx, cfg)
	case BackendMinIO:
		return newMinIOStore(cfg)
	case BackendLocal, "":
		return newLocalStore(cfg)
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", cfg.Backend)
	}
}

func joinKey(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
