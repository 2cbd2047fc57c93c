package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/logging"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/scoring"
	"github.com/ppiankov/backupsentry/internal/signal"
)

// tableCollector returns canned scores keyed by file id.
type tableCollector struct {
	scores map[string][3]float64
	calls  atomic.Int32
}

func (c *tableCollector) Collect(ctx context.Context, f signal.File) (model.FileSignal, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return model.FileSignal{}, err
	}
	s := c.scores[f.ID]
	return model.FileSignal{FileID: f.ID, Path: f.Path, HeuristicScore: s[0], SensitiveScore: s[1], ClassifierScore: s[2]}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func (r *recordingSink) Send(_ context.Context, ev model.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func newScanner(t *testing.T, c Collector, opts ...Option) *Scanner {
	t.Helper()
	eng, err := scoring.NewEngine(scoring.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctrl, err := decision.NewController(decision.DefaultConfig(), eng)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]Option{WithLogger(logging.Discard()), WithWorkers(3)}, opts...)
	return New(c, ctrl, decision.DefaultConfig().MassRename, opts...)
}

func files(ids ...string) []signal.File {
	out := make([]signal.File, len(ids))
	for i, id := range ids {
		out[i] = signal.File{ID: id, Path: "/src/" + id}
	}
	return out
}

func TestScanFilesAggregates(t *testing.T) {
	c := &tableCollector{scores: map[string][3]float64{
		"payroll.csv": {0.1667, 0.6887, 0.5652},
		"notes.txt":   {0.0, 0.0, 0.0},
		"db.bin":      {0.6667, 0.6758, 0.5911},
	}}
	sink := &recordingSink{}
	s := newScanner(t, c, WithAlerts(sink))

	res, err := s.ScanFiles(context.Background(), files("payroll.csv", "notes.txt", "db.bin"), nil)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]model.Action{
		"payroll.csv": model.Encrypt,
		"notes.txt":   model.Pass,
		"db.bin":      model.Quarantine,
	}
	for i, v := range res.Verdicts {
		if v.FileID != res.Files[i] {
			t.Errorf("verdict %d out of order: %s vs %s", i, v.FileID, res.Files[i])
		}
		if v.Action != want[v.FileID] {
			t.Errorf("%s: action %s, want %s", v.FileID, v.Action, want[v.FileID])
		}
		if v.ScanPassID != res.ScanPassID {
			t.Errorf("%s: scan pass %s, want %s", v.FileID, v.ScanPassID, res.ScanPassID)
		}
	}
	if res.Batch.WorstAction != model.Quarantine || res.Batch.Committable() {
		t.Errorf("batch worst = %s", res.Batch.WorstAction)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != model.RansomwareSuspected || sink.events[0].FileID != "db.bin" {
		t.Errorf("alerts = %+v", sink.events)
	}
}

func TestScanCancelledDiscards(t *testing.T) {
	c := &tableCollector{scores: map[string][3]float64{}}
	s := newScanner(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.ScanFiles(ctx, files("a", "b", "c", "d"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Fatal("cancelled scan returned a partial result")
	}
}

func TestScanMassRenameQuarantines(t *testing.T) {
	c := &tableCollector{scores: map[string][3]float64{}}
	s := newScanner(t, c)

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, fmt.Sprintf("doc%d.docx.qwer", i))
	}
	ids = append(ids, "ok.txt")

	res, err := s.ScanFiles(context.Background(), files(ids...), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Batch.QuarantinedCount != 6 {
		t.Errorf("quarantined = %d, want 6", res.Batch.QuarantinedCount)
	}
	if len(res.Batch.RenamedSuffixes) != 1 || res.Batch.RenamedSuffixes[0] != ".qwer" {
		t.Errorf("renamed = %v", res.Batch.RenamedSuffixes)
	}
}

func TestScanDirWithRealExtractors(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("readme.txt", "hello world")
	write("hr/payroll.txt", "confidential payroll: PAN ABCDE1234F password: s3cretvalue card 4111111111111111")
	write(".git/HEAD", "ref: refs/heads/main")

	cfg := signal.DefaultConfig()
	coll := signal.NewCollector(signal.NewHeuristic(cfg), signal.NewSensitive(cfg), signal.NewRansomClassifier(cfg), cfg.MaxBytes, logging.Discard())
	s := newScanner(t, coll)

	res, err := s.ScanDir(context.Background(), root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 2 || res.Files[0] != "hr/payroll.txt" || res.Files[1] != "readme.txt" {
		t.Fatalf("files = %v", res.Files)
	}
	if res.Verdicts[0].Action == model.Pass {
		t.Errorf("payroll file passed: %+v", res.Verdicts[0])
	}
	if res.Verdicts[1].Action != model.Pass {
		t.Errorf("readme action = %s", res.Verdicts[1].Action)
	}
	if len(res.Verdicts[0].Entities) == 0 {
		t.Error("entities not carried onto verdict")
	}
}

func TestListFilesRejectsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f")
	os.WriteFile(p, nil, 0o600)
	if _, err := ListFiles(p); err == nil {
		t.Fatal("expected error for non-directory root")
	}
}
