// Package decision turns scored file signals into verdicts and reduces
// verdicts into a batch verdict.
package decision

import (
	"fmt"
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/scoring"
)

// State is the lifecycle of one file inside the controller.
type State int

const (
	Unscored State = iota
	Scored
	Decided
)

func (s State) String() string {
	switch s {
	case Unscored:
		return "unscored"
	case Scored:
		return "scored"
	case Decided:
		return "decided"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DecisionOverrideConflict signals that a resolved action contradicts the
// fixed override order Quarantine > Encrypt > Pass. It is always a bug.
type DecisionOverrideConflict struct {
	FileID string
	Action model.Action
	Reason string
}

func (e *DecisionOverrideConflict) Error() string {
	return fmt.Sprintf("decision override conflict for %s (action %s): %s", e.FileID, e.Action, e.Reason)
}

// trigger is one condition that demands an action.
type trigger struct {
	action model.Action
	reason string
}

// Controller decides per-file actions. It holds no per-file state and is
// safe for concurrent use.
type Controller struct {
	cfg    Config
	engine *scoring.Engine
	now    func() time.Time
}

// NewController validates cfg and returns a controller using engine for scoring.
func NewController(cfg Config, engine *scoring.Engine) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, fmt.Errorf("decision: scoring engine is nil")
	}
	return &Controller{cfg: cfg, engine: engine, now: time.Now}, nil
}

// Input is everything the controller needs for one file.
type Input struct {
	ScanPassID string
	Signal     model.FileSignal
	Renamed    bool   // file carries a suffix flagged by mass-rename detection
	Suffix     string // the flagged suffix, for the reason text
}

// File tracks one file through Unscored → Scored → Decided.
type File struct {
	Input
	State      State
	Assessment scoring.Assessment
	Verdict    model.FileVerdict
}

// NewFile starts tracking in.
func NewFile(in Input) *File {
	return &File{Input: in, State: Unscored}
}

// Score moves f from Unscored to Scored.
func (c *Controller) Score(f *File) error {
	if f.State != Unscored {
		return fmt.Errorf("decision: score %s: state is %s, want %s", f.Signal.FileID, f.State, Unscored)
	}
	f.Assessment = c.engine.Assess(f.Signal)
	f.State = Scored
	return nil
}

// Resolve moves f from Scored to Decided and fills f.Verdict.
func (c *Controller) Resolve(f *File) error {
	if f.State != Scored {
		return fmt.Errorf("decision: resolve %s: state is %s, want %s", f.Signal.FileID, f.State, Scored)
	}
	sig, a := f.Signal, f.Assessment

	triggers := c.triggers(sig, a, f.Input)
	action := resolve(triggers)
	if err := check(sig.FileID, action, triggers); err != nil {
		return err
	}

	v := model.FileVerdict{
		FileID:         sig.FileID,
		ScanPassID:     f.ScanPassID,
		Path:           sig.Path,
		RiskScore:      a.RiskScore,
		ContextScore:   a.ContextScore,
		ConfidenceTier: a.Tier,
		Action:         action,
		Partial:        sig.Partial,
		Entities:       sig.Entities,
		DecidedAt:      c.now().UTC(),
		Size:           sig.Size,
		Digest:         sig.Digest,
	}
	for _, t := range triggers {
		v.Reasons = append(v.Reasons, t.reason)
	}
	if sig.Partial {
		v.Reasons = append(v.Reasons, fmt.Sprintf("reduced confidence: extractors failed %v", sig.Failed))
	}
	f.Verdict = v
	f.State = Decided
	return nil
}

// Decide runs a file through the whole lifecycle.
func (c *Controller) Decide(in Input) (model.FileVerdict, error) {
	f := NewFile(in)
	if err := c.Score(f); err != nil {
		return model.FileVerdict{}, err
	}
	if err := c.Resolve(f); err != nil {
		return model.FileVerdict{}, err
	}
	return f.Verdict, nil
}

func (c *Controller) triggers(sig model.FileSignal, a scoring.Assessment, in Input) []trigger {
	var ts []trigger
	if a.RiskScore >= c.cfg.QuarantineThreshold {
		ts = append(ts, trigger{model.Quarantine, fmt.Sprintf("risk %d >= quarantine threshold %d", a.RiskScore, c.cfg.QuarantineThreshold)})
	}
	if sig.ClassifierScore >= c.cfg.RansomwareFloor {
		ts = append(ts, trigger{model.Quarantine, fmt.Sprintf("classifier %.3f >= ransomware floor %.2f", sig.ClassifierScore, c.cfg.RansomwareFloor)})
	}
	if in.Renamed {
		ts = append(ts, trigger{model.Quarantine, fmt.Sprintf("mass rename to %s in this scan pass", in.Suffix)})
	}
	if a.RiskScore >= c.cfg.SensitiveThreshold {
		ts = append(ts, trigger{model.Encrypt, fmt.Sprintf("risk %d >= sensitive threshold %d", a.RiskScore, c.cfg.SensitiveThreshold)})
	}
	if sig.SensitiveScore >= c.cfg.SensitiveFloor {
		ts = append(ts, trigger{model.Encrypt, fmt.Sprintf("sensitive %.3f >= sensitive floor %.2f", sig.SensitiveScore, c.cfg.SensitiveFloor)})
	}
	if sig.Truncated && c.cfg.EncryptUnscanned {
		ts = append(ts, trigger{model.Encrypt, fmt.Sprintf("%d bytes exceed the scan read limit; tail unscanned", sig.Size)})
	}
	return ts
}

// resolve applies the override order Quarantine > Encrypt > Pass.
func resolve(ts []trigger) model.Action {
	action := model.Pass
	for _, t := range ts {
		action = model.Worse(action, t.action)
	}
	return action
}

// check verifies that no trigger outranks the resolved action and that the
// action is one of the known three.
func check(fileID string, action model.Action, ts []trigger) error {
	rank, ok := model.ActionRank[action]
	if !ok {
		return &DecisionOverrideConflict{FileID: fileID, Action: action, Reason: "unknown action"}
	}
	for _, t := range ts {
		if model.ActionRank[t.action] > rank {
			return &DecisionOverrideConflict{FileID: fileID, Action: action, Reason: "overridden by " + t.reason}
		}
	}
	return nil
}
