package alert

import (
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
)

// WebhookConfig defines a webhook alert destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // event kinds; empty matches all
	Headers map[string]string `yaml:"headers" json:"headers"`
	// PerMinute caps deliveries to this endpoint. Zero means unlimited.
	PerMinute int `yaml:"per_minute" json:"per_minute"`
}

// Matches reports whether the webhook subscribes to kind.
func (c WebhookConfig) Matches(kind model.EventKind) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == string(kind) {
			return true
		}
	}
	return false
}

// NATSConfig enables publishing alerts to NATS.
type NATSConfig struct {
	URL           string `yaml:"url"            json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// Config is the alerts section of the configuration file.
type Config struct {
	Webhooks     []WebhookConfig `yaml:"webhooks"      json:"webhooks"`
	DedupeWindow time.Duration   `yaml:"dedupe_window" json:"dedupe_window"`
	DedupeSize   int             `yaml:"dedupe_size"   json:"dedupe_size"`
}

// DefaultConfig returns an alerts section with no webhooks and a one minute
// dedupe window.
func DefaultConfig() Config {
	return Config{DedupeWindow: time.Minute, DedupeSize: 4096}
}

// DefaultSubjectPrefix is used when NATSConfig.SubjectPrefix is empty.
const DefaultSubjectPrefix = "backupsentry.alerts"
