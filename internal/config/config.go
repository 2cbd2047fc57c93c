// Package config loads the backupsentry configuration file.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/backupsentry/internal/alert"
	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/honey"
	"github.com/ppiankov/backupsentry/internal/logging"
	"github.com/ppiankov/backupsentry/internal/objstore"
	"github.com/ppiankov/backupsentry/internal/scoring"
	"github.com/ppiankov/backupsentry/internal/signal"
)

// StoreConfig selects the metadata store.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// ServerConfig holds listen addresses for serve.
type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Config is the whole configuration file.
type Config struct {
	Scoring       scoring.Config   `yaml:"scoring"`
	Decision      decision.Config  `yaml:"decision"`
	Extractors    signal.Config    `yaml:"extractors"`
	Honey         honey.Config     `yaml:"honey"`
	Alerts        alert.Config     `yaml:"alerts"`
	NATS          alert.NATSConfig `yaml:"nats"`
	Store         StoreConfig      `yaml:"store"`
	Storage       objstore.Config  `yaml:"storage"`
	QuarantineDir string           `yaml:"quarantine_dir"`
	KeyPath       string           `yaml:"key_path"`
	AuditLog      string           `yaml:"audit_log"`
	Workers       int              `yaml:"workers"`
	Log           logging.Config   `yaml:"log"`
	Server        ServerConfig     `yaml:"server"`
}

// BaseDir is ~/.backupsentry, or a relative .backupsentry when the home
// directory is unknown.
func BaseDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".backupsentry")
	}
	return ".backupsentry"
}

// DefaultPath is where LoadConfig looks when no path is given.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.yaml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	base := BaseDir()
	return &Config{
		Scoring:    scoring.DefaultConfig(),
		Decision:   decision.DefaultConfig(),
		Extractors: signal.DefaultConfig(),
		Honey:      honey.DefaultConfig(),
		Alerts:     alert.DefaultConfig(),
		NATS:       alert.NATSConfig{SubjectPrefix: alert.DefaultSubjectPrefix},
		Store:      StoreConfig{DSN: filepath.Join(base, "backupsentry.db")},
		Storage: objstore.Config{
			Kind:  "local",
			Local: objstore.LocalConfig{Dir: filepath.Join(base, "backups")},
		},
		QuarantineDir: filepath.Join(base, "quarantine"),
		KeyPath:       filepath.Join(base, "backup.key"),
		AuditLog:      filepath.Join(base, "audit.jsonl"),
		Workers:       8,
		Log:           logging.DefaultConfig(),
		Server:        ServerConfig{GRPCAddr: "127.0.0.1:7443", MetricsAddr: "127.0.0.1:9464"},
	}
}

// LoadConfig reads path over the defaults and applies environment overrides.
// A missing file yields the defaults. Empty path means DefaultPath.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash is LoadConfig that also returns "sha256:<hex>" of the raw
// file bytes (of nothing when the file is missing), for audit entries.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// ApplyEnv loads .env from the working directory when present, then applies
// the BACKUPSENTRY_* and S3_* overrides.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if v := os.Getenv("BACKUPSENTRY_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("BACKUPSENTRY_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("BACKUPSENTRY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BACKUPSENTRY_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BACKUPSENTRY_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		c.Storage.Kind = "minio"
		c.Storage.MinIO.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		c.Storage.MinIO.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		c.Storage.MinIO.SecretKey = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Storage.MinIO.Bucket = v
	}
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("S3_USE_SSL: %w", err)
		}
		c.Storage.MinIO.UseSSL = b
	}
	return nil
}

// Validate checks every section. Scoring and decision problems are returned
// as *scoring.FusionConfigError.
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if err := c.Decision.Validate(); err != nil {
		return err
	}
	if err := c.Extractors.Validate(); err != nil {
		return err
	}
	if err := c.Honey.Validate(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	switch c.Storage.Kind {
	case "", "local":
		if c.Storage.Local.Dir == "" {
			return errors.New("storage.local.dir is empty")
		}
	case "minio", "s3":
		if c.Storage.MinIO.Endpoint == "" || c.Storage.MinIO.Bucket == "" {
			return errors.New("storage.minio needs endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown storage kind %q", c.Storage.Kind)
	}
	for i, w := range c.Alerts.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("alerts.webhooks[%d]: url is empty", i)
		}
		switch w.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown format %q", i, w.Format)
		}
	}
	if c.Store.DSN == "" {
		return errors.New("store.dsn is empty")
	}
	if c.QuarantineDir == "" || c.KeyPath == "" {
		return errors.New("quarantine_dir and key_path are required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
