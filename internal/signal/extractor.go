// Package signal produces the normalized per-file scores consumed by the
// risk scoring engine. Every extractor is a pure function of file content.
package signal

import (
	"context"
	"fmt"
)

// Input is what an extractor scores: a path, its (possibly truncated) bytes, or both.
type Input struct {
	Path string
	Data []byte
}

// Extractor scores one file. Implementations return a value in [0,1] or an
// *ExtractionError when the file is unreadable or cannot be scored.
type Extractor interface {
	Name() string
	Score(ctx context.Context, in Input) (float64, error)
}

// EntityReporter is implemented by extractors that can name what they found.
type EntityReporter interface {
	Entities(in Input) []string
}

// ExtractionError is a per-file extractor failure. The collector recovers from it
// by substituting a neutral score and marking the signal partial.
type ExtractionError struct {
	Extractor string
	Path      string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s: %v", e.Extractor, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Func adapts a plain function to the Extractor interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, in Input) (float64, error)
}

// Name returns the extractor id.
func (f Func) Name() string { return f.ID }

// Score calls the wrapped function.
func (f Func) Score(ctx context.Context, in Input) (float64, error) {
	return f.Fn(ctx, in)
}

// clamp01 bounds v into [0,1]; NaN maps to 0.
func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ramp maps x linearly from [lo,hi] onto [0,1].
func ramp(x, lo, hi float64) float64 {
	if hi <= lo {
		if x >= hi {
			return 1
		}
		return 0
	}
	return clamp01((x - lo) / (hi - lo))
}

// noisyOr combines independent evidence weights into one probability.
func noisyOr(ws ...float64) float64 {
	miss := 1.0
	for _, w := range ws {
		miss *= 1 - clamp01(w)
	}
	return clamp01(1 - miss)
}
