// Package objstore is primary backup storage: a local directory or an
// S3-compatible bucket.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("objstore: object not found")

// Backend stores backup objects under slash-separated keys.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns every key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) error
	// Location renders prefix as a human-readable URL or path.
	Location(prefix string) string
}

// Config selects and configures a backend.
type Config struct {
	Kind  string      `yaml:"kind"  json:"kind"` // "local" or "minio"
	Local LocalConfig `yaml:"local" json:"local"`
	MinIO MinIOConfig `yaml:"minio" json:"minio"`
}

// LocalConfig configures the directory backend.
type LocalConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// MinIOConfig configures the S3 backend.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"   json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"-"`
	SecretKey string `yaml:"secret_key" json:"-"`
	Bucket    string `yaml:"bucket"     json:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"    json:"use_ssl"`
}

// Open builds the backend named by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Kind {
	case "", "local":
		return NewLocal(cfg.Local.Dir)
	case "minio", "s3":
		return NewMinIO(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("objstore: unknown backend %q", cfg.Kind)
	}
}

// Join builds an object key from parts.
func Join(parts ...string) string {
	var clean []string
	for _, p := range parts {
		p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("objstore: invalid key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return fmt.Errorf("objstore: invalid key %q", key)
		}
	}
	return nil
}
