// Package scoring fuses per-file signals into a context score, a confidence
// tier and an integer risk score. Everything here is a pure function of the
// FileSignal and the configuration.
package scoring

import (
	"math"

	"github.com/ppiankov/backupsentry/internal/model"
)

// ConfidencePolicy classifies the certainty of a three-score tuple.
// It is deliberately independent of the fused context score.
type ConfidencePolicy interface {
	Classify(scores [3]float64) model.ConfidenceTier
}

// RiskCurve maps a context score and tier onto an integer risk in [0,100].
type RiskCurve interface {
	Risk(ctx float64, tier model.ConfidenceTier) int
}

// ThresholdPolicy is the default ConfidencePolicy. Low is checked first.
type ThresholdPolicy struct {
	T ConfidenceThresholds
}

// Classify implements ConfidencePolicy.
func (p ThresholdPolicy) Classify(s [3]float64) model.ConfidenceTier {
	lo, hi := s[0], s[0]
	neutral := 0
	for _, v := range s {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		if math.Abs(v-p.T.NeutralCenter) <= p.T.NeutralBand {
			neutral++
		}
	}
	spread := hi - lo

	switch {
	case neutral >= p.T.NeutralMinCount:
		return model.Low
	case spread >= p.T.LowMinSpread:
		return model.Low
	case hi < p.T.LowMaxPeak:
		return model.Low
	case lo >= p.T.HighMinScore && spread <= p.T.HighMaxSpread:
		return model.High
	default:
		return model.Medium
	}
}

// TieredCurve is the default RiskCurve.
type TieredCurve struct {
	P CurveParams
}

// Risk implements RiskCurve. Halves round to even.
func (c TieredCurve) Risk(ctx float64, tier model.ConfidenceTier) int {
	var pt CurvePoint
	switch tier {
	case model.High:
		pt = c.P.High
	case model.Medium:
		pt = c.P.Medium
	default:
		pt = c.P.Low
	}
	ctx = clamp(ctx, 0, 1)
	r := pt.scale() * math.Pow(1+ctx, c.P.Exponent)
	return int(clamp(math.RoundToEven(r), 0, 100))
}

// Assessment is the scored form of one FileSignal.
type Assessment struct {
	ContextScore float64              `json:"context_score"`
	Tier         model.ConfidenceTier `json:"confidence"`
	RiskScore    int                  `json:"risk_score"`
	Partial      bool                 `json:"partial"`
}

// Engine combines fusion weights, a confidence policy and a risk curve.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	weights Weights
	policy  ConfidencePolicy
	curve   RiskCurve
}

// NewEngine validates cfg and builds an engine with the default policy and curve.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		weights: cfg.FusionWeights,
		policy:  ThresholdPolicy{T: cfg.ConfidenceThresholds},
		curve:   TieredCurve{P: cfg.RiskCurve},
	}, nil
}

// WithPolicy returns a copy of e using p for confidence classification.
func (e *Engine) WithPolicy(p ConfidencePolicy) *Engine {
	cp := *e
	cp.policy = p
	return &cp
}

// WithCurve returns a copy of e using c as the risk curve.
func (e *Engine) WithCurve(c RiskCurve) *Engine {
	cp := *e
	cp.curve = c
	return &cp
}

// ContextScore fuses the three component scores, clamped to [0,1].
func (e *Engine) ContextScore(sig model.FileSignal) float64 {
	return ContextScore(e.weights, sig)
}

// ContextScore is the weighted sum of the component scores, clamped to [0,1].
func ContextScore(w Weights, sig model.FileSignal) float64 {
	v := w.Heuristic*sig.HeuristicScore + w.Sensitive*sig.SensitiveScore + w.Classifier*sig.ClassifierScore
	return clamp(v, 0, 1)
}

// Confidence classifies the signal; a partial signal is downgraded one tier.
func (e *Engine) Confidence(sig model.FileSignal) model.ConfidenceTier {
	tier := e.policy.Classify(sig.Scores())
	if sig.Partial {
		tier = tier.Downgrade()
	}
	return tier
}

// Assess scores one signal.
func (e *Engine) Assess(sig model.FileSignal) Assessment {
	ctx := e.ContextScore(sig)
	tier := e.Confidence(sig)
	return Assessment{
		ContextScore: ctx,
		Tier:         tier,
		RiskScore:    e.curve.Risk(ctx, tier),
		Partial:      sig.Partial,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
