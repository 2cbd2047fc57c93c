package decision

import (
	"fmt"

	"github.com/ppiankov/backupsentry/internal/scoring"
	"github.com/ppiankov/backupsentry/internal/signal"
)

// MassRenameConfig tunes batch-wide mass-rename detection.
type MassRenameConfig struct {
	Enabled     bool     `yaml:"enabled"`
	MinFiles    int      `yaml:"min_files"`
	MinFraction float64  `yaml:"min_fraction"`
	Extensions  []string `yaml:"extensions"` // suffixes that are unexpected on their own
}

// Config holds the decision thresholds.
type Config struct {
	SensitiveThreshold  int              `yaml:"sensitive_threshold"`
	QuarantineThreshold int              `yaml:"quarantine_threshold"`
	SensitiveFloor      float64          `yaml:"sensitive_floor"`
	RansomwareFloor     float64          `yaml:"ransomware_floor"`
	MassRename          MassRenameConfig `yaml:"mass_rename"`

	// EncryptUnscanned seals files larger than the extractor read limit,
	// since their tail was never scored.
	EncryptUnscanned bool `yaml:"encrypt_unscanned"`
}

// DefaultConfig returns the built-in decision thresholds.
func DefaultConfig() Config {
	return Config{
		SensitiveThreshold:  40,
		QuarantineThreshold: 60,
		SensitiveFloor:      0.85,
		RansomwareFloor:     0.9,
		EncryptUnscanned:    true,
		MassRename: MassRenameConfig{
			Enabled:     true,
			MinFiles:    5,
			MinFraction: 0.3,
			Extensions:  append([]string(nil), signal.DefaultRansomExtensions...),
		},
	}
}

// Validate rejects thresholds outside their domain. Errors are
// *scoring.FusionConfigError so startup treats them like bad weights.
func (c Config) Validate() error {
	if c.SensitiveThreshold < 0 || c.SensitiveThreshold > 100 {
		return &scoring.FusionConfigError{Field: "decision.sensitive_threshold", Reason: fmt.Sprintf("%d outside 0..100", c.SensitiveThreshold)}
	}
	if c.QuarantineThreshold < 0 || c.QuarantineThreshold > 100 {
		return &scoring.FusionConfigError{Field: "decision.quarantine_threshold", Reason: fmt.Sprintf("%d outside 0..100", c.QuarantineThreshold)}
	}
	if c.SensitiveFloor <= 0 || c.SensitiveFloor > 1 {
		return &scoring.FusionConfigError{Field: "decision.sensitive_floor", Reason: fmt.Sprintf("%v outside (0,1]", c.SensitiveFloor)}
	}
	if c.RansomwareFloor <= 0 || c.RansomwareFloor > 1 {
		return &scoring.FusionConfigError{Field: "decision.ransomware_floor", Reason: fmt.Sprintf("%v outside (0,1]", c.RansomwareFloor)}
	}
	if c.MassRename.Enabled {
		if c.MassRename.MinFiles < 1 {
			return &scoring.FusionConfigError{Field: "decision.mass_rename.min_files", Reason: "must be >= 1"}
		}
		if c.MassRename.MinFraction < 0 || c.MassRename.MinFraction > 1 {
			return &scoring.FusionConfigError{Field: "decision.mass_rename.min_fraction", Reason: "outside [0,1]"}
		}
	}
	return nil
}
