package decision

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/scoring"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	eng, err := scoring.NewEngine(scoring.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	c, err := NewController(DefaultConfig(), eng)
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func decide(t *testing.T, c *Controller, h, s, cl float64) model.FileVerdict {
	t.Helper()
	v, err := c.Decide(Input{
		ScanPassID: "pass-1",
		Signal:     model.FileSignal{FileID: "f.txt", HeuristicScore: h, SensitiveScore: s, ClassifierScore: cl},
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestDecideActions(t *testing.T) {
	c := newController(t)
	tests := []struct {
		name    string
		h, s, c float64
		want    model.Action
	}{
		{"medium risk 45 encrypts", 0.1667, 0.6887, 0.5652, model.Encrypt},
		{"high risk 99 quarantines", 0.6667, 0.6758, 0.5911, model.Quarantine},
		{"low confidence passes", 0.6667, 0.5203, 0.5329, model.Pass},
		{"quiet file passes", 0.05, 0.0, 0.02, model.Pass},
		{"sensitive floor alone encrypts", 0.0, 0.9, 0.0, model.Encrypt},
		{"ransomware floor alone quarantines", 0.0, 0.0, 0.95, model.Quarantine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := decide(t, c, tt.h, tt.s, tt.c)
			if v.Action != tt.want {
				t.Errorf("action = %s, want %s (risk %d, tier %s, reasons %v)", v.Action, tt.want, v.RiskScore, v.ConfidenceTier, v.Reasons)
			}
		})
	}
}

func TestQuarantineOverridesEncrypt(t *testing.T) {
	c := newController(t)
	for _, s := range []float64{0.85, 0.9, 1.0} {
		for _, cl := range []float64{0.9, 0.95, 1.0} {
			for _, h := range []float64{0, 0.5, 1} {
				v := decide(t, c, h, s, cl)
				if v.Action != model.Quarantine {
					t.Fatalf("h=%v s=%v c=%v: action %s, want quarantine", h, s, cl, v.Action)
				}
			}
		}
	}
}

func TestMassRenameQuarantines(t *testing.T) {
	c := newController(t)
	v, err := c.Decide(Input{
		ScanPassID: "pass-1",
		Signal:     model.FileSignal{FileID: "a.docx.xyz"},
		Renamed:    true,
		Suffix:     ".xyz",
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != model.Quarantine {
		t.Fatalf("action = %s, want quarantine", v.Action)
	}
	if !strings.Contains(strings.Join(v.Reasons, ";"), ".xyz") {
		t.Errorf("reasons %v do not mention suffix", v.Reasons)
	}
}

func TestPartialVerdictCarriesWarning(t *testing.T) {
	c := newController(t)
	v, err := c.Decide(Input{
		ScanPassID: "pass-1",
		Signal: model.FileSignal{
			FileID: "f", HeuristicScore: 0.6667, SensitiveScore: 0.6758, ClassifierScore: 0.5911,
			Partial: true, Failed: []string{"classifier"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !v.Partial || v.ConfidenceTier != model.Medium {
		t.Errorf("partial = %v tier = %s, want partial medium", v.Partial, v.ConfidenceTier)
	}
	if v.RiskScore != 49 {
		t.Errorf("risk = %d, want 49", v.RiskScore)
	}
	if !strings.Contains(strings.Join(v.Reasons, ";"), "reduced confidence") {
		t.Errorf("missing reduced-confidence reason: %v", v.Reasons)
	}
}

func TestVerdictFields(t *testing.T) {
	c := newController(t)
	v := decide(t, c, 0.1667, 0.6887, 0.5652)
	if v.ScanPassID != "pass-1" || v.Key() != "f.txt@pass-1" {
		t.Errorf("key = %q", v.Key())
	}
	if v.RiskScore != 45 || v.ConfidenceTier != model.Medium {
		t.Errorf("risk %d tier %s", v.RiskScore, v.ConfidenceTier)
	}
	if !v.DecidedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("decided at %v", v.DecidedAt)
	}
}

func TestUnscannedTailEncrypts(t *testing.T) {
	c := newController(t)
	sig := model.FileSignal{FileID: "big.log", HeuristicScore: 0.05, Size: 500_000, Digest: "sha256:ab", Truncated: true}
	v, err := c.Decide(Input{ScanPassID: "pass-1", Signal: sig})
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != model.Encrypt {
		t.Fatalf("action = %s, want encrypt (reasons %v)", v.Action, v.Reasons)
	}
	if !strings.Contains(strings.Join(v.Reasons, ";"), "tail unscanned") {
		t.Errorf("reasons %v do not mention the unscanned tail", v.Reasons)
	}
	if v.Size != 500_000 || v.Digest != "sha256:ab" {
		t.Errorf("verdict does not carry content identity: size %d digest %q", v.Size, v.Digest)
	}

	cfg := DefaultConfig()
	cfg.EncryptUnscanned = false
	eng, err := scoring.NewEngine(scoring.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	off, err := NewController(cfg, eng)
	if err != nil {
		t.Fatal(err)
	}
	v, err = off.Decide(Input{ScanPassID: "pass-1", Signal: sig})
	if err != nil {
		t.Fatal(err)
	}
	if v.Action != model.Pass {
		t.Errorf("action = %s with encrypt_unscanned off, want pass", v.Action)
	}
}

func TestStateTransitions(t *testing.T) {
	c := newController(t)
	f := NewFile(Input{Signal: model.FileSignal{FileID: "x"}})

	if err := c.Resolve(f); err == nil {
		t.Fatal("resolve before score should fail")
	}
	if err := c.Score(f); err != nil {
		t.Fatal(err)
	}
	if f.State != Scored {
		t.Fatalf("state = %s, want scored", f.State)
	}
	if err := c.Score(f); err == nil {
		t.Fatal("second score should fail")
	}
	if err := c.Resolve(f); err != nil {
		t.Fatal(err)
	}
	if f.State != Decided {
		t.Fatalf("state = %s, want decided", f.State)
	}
	if err := c.Resolve(f); err == nil {
		t.Fatal("verdicts are never re-resolved")
	}
}

func TestCheckDetectsConflict(t *testing.T) {
	ts := []trigger{{model.Quarantine, "ransomware"}, {model.Encrypt, "sensitive"}}
	err := check("f", model.Encrypt, ts)
	var conflict *DecisionOverrideConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected DecisionOverrideConflict, got %v", err)
	}
	if err := check("f", model.Action("archive"), nil); !errors.As(err, &conflict) {
		t.Fatalf("unknown action should conflict, got %v", err)
	}
	if err := check("f", resolve(ts), ts); err != nil {
		t.Fatalf("resolved action conflicts: %v", err)
	}
}

func TestAggregateFailsClosed(t *testing.T) {
	verdicts := []model.FileVerdict{
		{FileID: "a", Action: model.Pass, RiskScore: 0},
		{FileID: "b", Action: model.Encrypt, RiskScore: 45, Partial: true},
		{FileID: "c", Action: model.Quarantine, RiskScore: 99},
		{FileID: "d", Action: model.Pass, RiskScore: 10},
	}
	b := Aggregate("batch-1", "pass-1", verdicts, nil)
	if b.WorstAction != model.Quarantine || b.Committable() {
		t.Fatalf("worst = %s committable = %v", b.WorstAction, b.Committable())
	}
	if b.QuarantinedCount != 1 || b.EncryptedCount != 1 || b.PassedCount != 2 || b.PartialCount != 1 {
		t.Errorf("counts %+v", b)
	}
	if b.AvgRiskScore != 38.5 || b.RiskLabel != "Medium" {
		t.Errorf("avg %v label %s", b.AvgRiskScore, b.RiskLabel)
	}
}

func TestAggregateEmptyAndUnknown(t *testing.T) {
	if b := Aggregate("b", "p", nil, nil); b.WorstAction != model.Pass || !b.Committable() {
		t.Errorf("empty batch = %s", b.WorstAction)
	}
	b := Aggregate("b", "p", []model.FileVerdict{{Action: "bogus"}}, nil)
	if b.WorstAction != model.Quarantine {
		t.Errorf("unknown action worst = %s, want quarantine", b.WorstAction)
	}
}

func TestDetectMassRename(t *testing.T) {
	cfg := DefaultConfig().MassRename

	var current []string
	for i := 0; i < 8; i++ {
		current = append(current, fmt.Sprintf("docs/report%d.docx.xyz", i))
	}
	current = append(current, "docs/readme.txt", "img/a.png")
	got := DetectMassRename(nil, current, cfg)
	if len(got) != 1 || got[0] != ".xyz" {
		t.Fatalf("flagged = %v, want [.xyz]", got)
	}
	if !HasSuffix("docs/report1.docx.XYZ", got) {
		t.Error("HasSuffix should be case-insensitive")
	}
}

func TestDetectMassRenameAgainstPrevious(t *testing.T) {
	cfg := DefaultConfig().MassRename
	var previous, current []string
	for i := 0; i < 6; i++ {
		previous = append(previous, fmt.Sprintf("data/f%d", i))
		current = append(current, fmt.Sprintf("data/f%d.q7k", i))
	}
	got := DetectMassRename(previous, current, cfg)
	if len(got) != 1 || got[0] != ".q7k" {
		t.Fatalf("flagged = %v, want [.q7k]", got)
	}
}

func TestDetectMassRenameIgnoresNormalBatches(t *testing.T) {
	cfg := DefaultConfig().MassRename
	current := []string{"a.csv.gz", "b.csv.gz", "c.csv.gz", "d.csv.gz", "e.csv.gz", "f.csv.gz"}
	if got := DetectMassRename(nil, current, cfg); len(got) != 0 {
		t.Errorf("compressed exports flagged: %v", got)
	}

	few := []string{"a.docx.locked", "b.txt", "c.txt", "d.txt"}
	if got := DetectMassRename(nil, few, cfg); len(got) != 0 {
		t.Errorf("below min_files flagged: %v", got)
	}

	cfg.Enabled = false
	many := []string{"1.locked", "2.locked", "3.locked", "4.locked", "5.locked"}
	if got := DetectMassRename(nil, many, cfg); got != nil {
		t.Errorf("disabled detector flagged: %v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuarantineThreshold = 101
	var fe *scoring.FusionConfigError
	if err := cfg.Validate(); !errors.As(err, &fe) {
		t.Fatalf("expected FusionConfigError, got %v", err)
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}
