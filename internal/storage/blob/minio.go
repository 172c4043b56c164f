package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("open-image-gateway/blob")

type minioStore struct {
	client    *minio.Client
	bucket    string
	prefix    string
	baseURL   string
	publicURL string
}

func newMinIOStore(cfg Config) (*minioStore, error) {
	if cfg.Bucket == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint and bucket must be provided for minio storage")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return &minioStore{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		baseURL:   scheme + "://" + cfg.Endpoint,
		publicURL: cfg.PublicURL,
	}, nil
}

func (m *minioStore) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (m *minioStore) Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (ObjectInfo, error) {
	ctx, span := tracer.Start(ctx, "minio_upload")
	defer span.End()
	span.SetAttributes(attribute.String("minio.bucket", m.bucket), attribute.String("minio.key", key))

	if err := m.ensureBucket(ctx); err != nil {
		span.RecordError(err)
		return ObjectInfo{}, err
	}
	size := opts.Size
	if size == 0 {
		size = -1
	}
	info, err := m.client.PutObject(ctx, m.bucket, joinKey(m.prefix, key), body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		span.RecordError(err)
		return ObjectInfo{}, fmt.Errorf("failed to upload object: %w", err)
	}
	return ObjectInfo{Key: key, Size: info.Size, ContentType: opts.ContentType, Metadata: opts.Metadata, URL: m.URL(key)}, nil
}

func (m *minioStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, joinKey(m.prefix, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ObjectInfo{}, ErrNotFound
		}
		return nil, ObjectInfo{}, err
	}
	return obj, ObjectInfo{Key: key, Size: stat.Size, ContentType: stat.ContentType, Metadata: stat.UserMetadata, URL: m.URL(key)}, nil
}

func (m *minioStore) Delete(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, joinKey(m.prefix, key), minio.RemoveObjectOptions{})
}

func (m *minioStore) URL(key string) string {
	objectKey := joinKey(m.prefix, key)
	if m.publicURL != "" {
		return m.publicURL + "/" + objectKey
	}
	return m.baseURL + "/" + m.bucket + "/" + objectKey
}
