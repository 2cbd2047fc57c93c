package scoring

import (
	"fmt"
	"math"
)

// Weights are the fusion weights for the three component scores. They must sum to 1.
type Weights struct {
	Heuristic  float64 `yaml:"heuristic"`
	Sensitive  float64 `yaml:"sensitive"`
	Classifier float64 `yaml:"classifier"`
}

// ConfidenceThresholds parameterize ThresholdPolicy.
type ConfidenceThresholds struct {
	// High: every score at least HighMinScore and spread at most HighMaxSpread.
	HighMinScore  float64 `yaml:"high_min_score"`
	HighMaxSpread float64 `yaml:"high_max_spread"`

	// Low: NeutralMinCount scores within NeutralBand of NeutralCenter,
	// or spread at least LowMinSpread, or peak below LowMaxPeak.
	NeutralCenter   float64 `yaml:"neutral_center"`
	NeutralBand     float64 `yaml:"neutral_band"`
	NeutralMinCount int     `yaml:"neutral_min_count"`
	LowMinSpread    float64 `yaml:"low_min_spread"`
	LowMaxPeak      float64 `yaml:"low_max_peak"`
}

// CurvePoint is the per-tier scale of the risk curve.
type CurvePoint struct {
	Base  float64 `yaml:"base"`
	Boost float64 `yaml:"boost"`
}

// CurveParams parameterize TieredCurve: risk = (base+boost) * (1+ctx)^exponent.
type CurveParams struct {
	Low      CurvePoint `yaml:"low"`
	Medium   CurvePoint `yaml:"medium"`
	High     CurvePoint `yaml:"high"`
	Exponent float64    `yaml:"exponent"`
}

// Config is the scoring section of the configuration file.
type Config struct {
	FusionWeights        Weights              `yaml:"fusion_weights"`
	ConfidenceThresholds ConfidenceThresholds `yaml:"confidence_thresholds"`
	RiskCurve            CurveParams          `yaml:"risk_curve"`
}

// DefaultConfig returns the calibrated scoring policy.
func DefaultConfig() Config {
	return Config{
		FusionWeights: Weights{
			Heuristic:  0.3,
			Sensitive:  0.4,
			Classifier: 0.3,
		},
		ConfidenceThresholds: ConfidenceThresholds{
			HighMinScore:    0.55,
			HighMaxSpread:   0.12,
			NeutralCenter:   0.5,
			NeutralBand:     0.05,
			NeutralMinCount: 2,
			LowMinSpread:    0.7,
			LowMaxPeak:      0.2,
		},
		RiskCurve: CurveParams{
			// Low confidence never produces risk; only the decision floors act on it.
			Low:      CurvePoint{Base: 0, Boost: 0},
			Medium:   CurvePoint{Base: 20, Boost: 10},
			High:     CurvePoint{Base: 40, Boost: 20},
			Exponent: 1,
		},
	}
}

// FusionConfigError reports an invalid scoring parameter. It is fatal at
// startup; invalid values are never replaced with defaults.
type FusionConfigError struct {
	Field  string
	Reason string
}

func (e *FusionConfigError) Error() string {
	return fmt.Sprintf("scoring config: %s: %s", e.Field, e.Reason)
}

const weightTolerance = 1e-6

// Validate checks every scoring parameter and returns the first violation.
func (c Config) Validate() error {
	w := c.FusionWeights
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"fusion_weights.heuristic", w.Heuristic},
		{"fusion_weights.sensitive", w.Sensitive},
		{"fusion_weights.classifier", w.Classifier},
	} {
		if !unit(f.v) {
			return &FusionConfigError{Field: f.name, Reason: fmt.Sprintf("%v outside [0,1]", f.v)}
		}
	}
	if sum := w.Heuristic + w.Sensitive + w.Classifier; math.Abs(sum-1) > weightTolerance {
		return &FusionConfigError{Field: "fusion_weights", Reason: fmt.Sprintf("sum %.6f, must be 1.0", sum)}
	}

	t := c.ConfidenceThresholds
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"confidence_thresholds.high_min_score", t.HighMinScore},
		{"confidence_thresholds.high_max_spread", t.HighMaxSpread},
		{"confidence_thresholds.neutral_center", t.NeutralCenter},
		{"confidence_thresholds.neutral_band", t.NeutralBand},
		{"confidence_thresholds.low_min_spread", t.LowMinSpread},
		{"confidence_thresholds.low_max_peak", t.LowMaxPeak},
	} {
		if !unit(f.v) {
			return &FusionConfigError{Field: f.name, Reason: fmt.Sprintf("%v outside [0,1]", f.v)}
		}
	}
	if t.NeutralMinCount < 1 || t.NeutralMinCount > 3 {
		return &FusionConfigError{Field: "confidence_thresholds.neutral_min_count", Reason: fmt.Sprintf("%d outside 1..3", t.NeutralMinCount)}
	}
	if t.HighMaxSpread >= t.LowMinSpread {
		return &FusionConfigError{Field: "confidence_thresholds.high_max_spread", Reason: "must be below low_min_spread"}
	}

	r := c.RiskCurve
	if r.Exponent <= 0 || math.IsNaN(r.Exponent) || math.IsInf(r.Exponent, 0) {
		return &FusionConfigError{Field: "risk_curve.exponent", Reason: fmt.Sprintf("%v must be > 0", r.Exponent)}
	}
	for _, p := range []struct {
		name string
		pt   CurvePoint
	}{
		{"risk_curve.low", r.Low},
		{"risk_curve.medium", r.Medium},
		{"risk_curve.high", r.High},
	} {
		if p.pt.Base < 0 || p.pt.Boost < 0 {
			return &FusionConfigError{Field: p.name, Reason: "base and boost must be >= 0"}
		}
	}
	if r.Low.scale() > r.Medium.scale() || r.Medium.scale() > r.High.scale() {
		return &FusionConfigError{Field: "risk_curve", Reason: "tiers must be ordered low <= medium <= high"}
	}
	return nil
}

func (p CurvePoint) scale() float64 { return p.Base + p.Boost }

func unit(v float64) bool { return v >= 0 && v <= 1 }
