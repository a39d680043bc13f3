package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig locates a bucket on an S3-compatible server.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// MinIO stores audio objects in a bucket, keyed by prefix + logical path.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIO creates a client for cfg. No request is made until first use.
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIO{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (m *MinIO) objectName(p string) string {
	return path.Join(m.prefix, p)
}

func (m *MinIO) ReadBytes(ctx context.Context, p string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.objectName(p), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrap(p, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, m.wrap(p, err)
	}
	return data, nil
}

func (m *MinIO) FileSize(ctx context.Context, p string) (int64, error) {
	info, err := m.client.StatObject(ctx, m.bucket, m.objectName(p), minio.StatObjectOptions{})
	if err != nil {
		return 0, m.wrap(p, err)
	}
	return info.Size, nil
}

func (m *MinIO) Remove(ctx context.Context, p string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.objectName(p), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

func (m *MinIO) wrap(p string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return fmt.Errorf("minio %s: %w", p, err)
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}
