package objstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO stores objects in an S3-compatible bucket.
type MinIO struct {
	mc     *minio.Client
	bucket string
}

// NewMinIO connects to the endpoint and creates the bucket if missing.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("objstore: minio backend needs endpoint and bucket")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: minio client: %w", err)
	}
	ok, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("objstore: check bucket %s: %w", cfg.Bucket, err)
	}
	if !ok {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("objstore: create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinIO{mc: mc, bucket: cfg.Bucket}, nil
}

func (m *MinIO) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := m.mc.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("objstore: put %s: %w", key, err)
	}
	return nil
}

func (m *MinIO) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if _, err := m.mc.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore: stat %s: %w", key, err)
	}
	obj, err := m.mc.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objstore: get %s: %w", key, err)
	}
	return obj, nil
}

func (m *MinIO) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.mc.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: listPrefix(prefix), Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("objstore: list %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MinIO) DeletePrefix(ctx context.Context, prefix string) error {
	if err := validKey(strings.Trim(prefix, "/")); err != nil {
		return err
	}
	keys, err := m.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.mc.RemoveObject(ctx, m.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("objstore: delete %s: %w", k, err)
		}
	}
	return nil
}

func (m *MinIO) Location(prefix string) string {
	return "s3://" + m.bucket + "/" + strings.Trim(prefix, "/")
}

func listPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
