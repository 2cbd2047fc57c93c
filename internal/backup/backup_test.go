package backup

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/backupsentry/internal/audit"
	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/honey"
	"github.com/ppiankov/backupsentry/internal/logging"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/objstore"
	"github.com/ppiankov/backupsentry/internal/scan"
	"github.com/ppiankov/backupsentry/internal/scoring"
	"github.com/ppiankov/backupsentry/internal/seal"
	"github.com/ppiankov/backupsentry/internal/signal"
	"github.com/ppiankov/backupsentry/internal/store"
)

// cannedCollector scores files by base name; unknown files score zero.
// Size and digest are taken from the file as a real collector would.
type cannedCollector struct {
	scores map[string][3]float64
}

func (c cannedCollector) Collect(_ context.Context, f signal.File) (model.FileSignal, error) {
	s := c.scores[filepath.Base(f.ID)]
	sig := model.FileSignal{FileID: f.ID, Path: f.Path, HeuristicScore: s[0], SensitiveScore: s[1], ClassifierScore: s[2]}
	if s[1] > 0.5 {
		sig.Entities = []string{"aadhaar"}
	}
	if data, err := os.ReadFile(f.Path); err == nil {
		sum := sha256.Sum256(data)
		sig.Size = int64(len(data))
		sig.Digest = model.FormatDigest(sum[:])
	}
	return sig, nil
}

// rewritingCollector scores a file, then overwrites it before commit.
type rewritingCollector struct {
	cannedCollector
	target string
	body   string
}

func (c rewritingCollector) Collect(ctx context.Context, f signal.File) (model.FileSignal, error) {
	sig, err := c.cannedCollector.Collect(ctx, f)
	if err == nil && f.ID == c.target {
		err = os.WriteFile(f.Path, []byte(c.body), 0o644)
	}
	return sig, err
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func (r *sinkRecorder) Send(_ context.Context, ev model.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *sinkRecorder) kinds() []model.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.EventKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	svc      *Service
	store    store.Store
	objects  *objstore.Local
	objDir   string
	holdDir  string
	auditLog string
	alerts   *sinkRecorder
	honey    *honey.Registry
}

var scores = map[string][3]float64{
	"readme.txt": {0.1, 0, 0},
	"ids.txt":    {0.1, 0.9, 0.1},
	"evil.bin":   {0.1, 0.1, 0.95},
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, cannedCollector{scores: scores})
}

func newFixtureWith(t *testing.T, collector scan.Collector) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	eng, err := scoring.NewEngine(scoring.DefaultConfig())
	require.NoError(t, err)
	ctrl, err := decision.NewController(decision.DefaultConfig(), eng)
	require.NoError(t, err)
	sc := scan.New(collector, ctrl, decision.DefaultConfig().MassRename,
		scan.WithLogger(logging.Discard()), scan.WithWorkers(2))

	st, err := store.OpenSQLite(ctx, filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	objDir := filepath.Join(dir, "objects")
	objects, err := objstore.NewLocal(objDir)
	require.NoError(t, err)

	sealer, err := seal.FromKeyFile(filepath.Join(dir, "backup.key"))
	require.NoError(t, err)

	hcfg := honey.DefaultConfig()
	hcfg.Dir = filepath.Join(dir, "honey")
	hcfg.TokenCount = 2
	hcfg.MaxFillerBytes = 256
	hcfg.DrainGrace = 200 * time.Millisecond
	reg := honey.NewRegistry(hcfg, nil, logging.Discard(), nil)
	t.Cleanup(func() { reg.Close() })

	auditPath := filepath.Join(dir, "audit.jsonl")
	journal, err := audit.Open(auditPath)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	alerts := &sinkRecorder{}
	svc, err := New(Deps{
		Scanner:       sc,
		Store:         st,
		Objects:       objects,
		Sealer:        sealer,
		Honey:         reg,
		Journal:       journal,
		Alerts:        alerts,
		QuarantineDir: filepath.Join(dir, "quarantine"),
		Logger:        logging.Discard(),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, objects: objects, objDir: objDir, holdDir: filepath.Join(dir, "quarantine"),
		auditLog: auditPath, alerts: alerts, honey: reg}
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return root
}

func TestCreateCommitsAndSeals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{
		"readme.txt":  "hello",
		"hr/ids.txt":  "aadhaar 1234 5678 9012",
		"docs/a.docx": "quarterly notes",
	})

	rec, err := f.svc.Create(ctx, "nightly", src)
	require.NoError(t, err)
	assert.Equal(t, model.BackupCommitted, rec.Status)
	assert.Equal(t, 3, rec.TotalFiles)
	assert.Equal(t, 1, rec.EncryptedFiles)
	assert.Equal(t, 1, rec.SensitiveFiles)
	assert.Equal(t, model.Encrypt, rec.Batch.WorstAction)
	assert.Equal(t, []string{"docs/a.docx", "hr/ids.txt", "readme.txt"}, rec.Files)

	raw, err := os.ReadFile(filepath.Join(f.objDir, "nightly/files/readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	sealed, err := os.ReadFile(filepath.Join(f.objDir, "nightly/files/hr/ids.txt.sealed"))
	require.NoError(t, err)
	assert.True(t, seal.Sealed(sealed))
	assert.NotContains(t, string(sealed), "aadhaar")
	_, err = os.Stat(filepath.Join(f.objDir, "nightly/files/hr/ids.txt"))
	assert.True(t, os.IsNotExist(err), "plaintext of an encrypt verdict reached storage")

	assert.Equal(t, []model.EventKind{model.SensitiveDataEncrypted}, f.alerts.kinds())

	require.NotNil(t, rec.Honey)
	set, ok := f.honey.Get("nightly")
	require.True(t, ok)
	assert.True(t, set.Active())

	vs, err := f.store.Verdicts(ctx, rec.Batch.ScanPassID)
	require.NoError(t, err)
	assert.Len(t, vs, 3)

	got, err := f.svc.Get(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, rec.Location, got.Location)

	r := audit.Verify(f.auditLog)
	assert.True(t, r.Valid, r.Error)
	assert.Equal(t, 5, r.Lines) // 3 verdicts, 1 batch, 1 backup
}

func TestCreateRefusesFileChangedAfterScan(t *testing.T) {
	leaked := "password: hunter2secret card 4111 1111 1111 1111 cvv 123"
	f := newFixtureWith(t, rewritingCollector{
		cannedCollector: cannedCollector{scores: scores},
		target:          "notes.txt",
		body:            leaked,
	})
	ctx := context.Background()
	src := writeTree(t, map[string]string{"notes.txt": "lunch at noon", "readme.txt": "hello"})

	_, err := f.svc.Create(ctx, "n1", src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceChanged), "err = %v", err)

	_, err = os.Stat(filepath.Join(f.objDir, "n1"))
	assert.True(t, os.IsNotExist(err), "objects of a refused backup were kept")
	_, err = f.svc.Get(ctx, "n1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, ok := f.honey.Get("n1")
	assert.False(t, ok)
}

func TestMatchesVerdict(t *testing.T) {
	data := []byte("hello")
	sum := sha256.Sum256(data)
	v := model.FileVerdict{FileID: "a.txt", Size: 5, Digest: model.FormatDigest(sum[:])}

	assert.NoError(t, matchesVerdict(v, data))
	assert.ErrorIs(t, matchesVerdict(v, []byte("hellO")), ErrSourceChanged)
	assert.ErrorIs(t, matchesVerdict(v, []byte("hello world")), ErrSourceChanged)
	assert.ErrorIs(t, matchesVerdict(model.FileVerdict{FileID: "a.txt"}, data), ErrSourceChanged)
}

func TestRestoreOpensSealedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"readme.txt": "hello", "hr/ids.txt": "aadhaar 1234 5678 9012"})
	_, err := f.svc.Create(ctx, "nightly", src)
	require.NoError(t, err)

	dest := t.TempDir()
	n, err := f.svc.Restore(ctx, "nightly", dest)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	data, err := os.ReadFile(filepath.Join(dest, "hr/ids.txt"))
	require.NoError(t, err)
	assert.Equal(t, "aadhaar 1234 5678 9012", string(data))
}

func TestCreateRejectsDuplicatesAndBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"readme.txt": "hello"})

	_, err := f.svc.Create(ctx, "nightly", src)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "nightly", src)
	assert.ErrorIs(t, err, ErrExists)

	_, err = f.svc.Create(ctx, "../escape", src)
	assert.Error(t, err)
	_, err = f.svc.Create(ctx, "other", filepath.Join(src, "missing"))
	assert.Error(t, err)
	_, err = f.svc.Create(ctx, "other", filepath.Join(src, "readme.txt"))
	assert.Error(t, err)
}

func TestQuarantineHoldsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"readme.txt": "hello", "evil.bin": "payload", "hr/ids.txt": "aadhaar"})

	rec, err := f.svc.Create(ctx, "adhoc", src)
	require.ErrorIs(t, err, ErrQuarantined)
	assert.Equal(t, model.BackupQuarantined, rec.Status)
	assert.Equal(t, 1, rec.Batch.QuarantinedCount)
	assert.Nil(t, rec.Honey)

	entries, err := HoldEntries(rec.QuarantineRef)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"evil.bin", "hr/ids.txt", "readme.txt"}, entries)

	keys, err := f.objects.List(ctx, "adhoc")
	require.NoError(t, err)
	assert.Empty(t, keys, "quarantined batch reached primary storage")
	assert.Empty(t, f.alerts.kinds(), "no file of a held batch may be encrypted or stored")

	stored, err := f.svc.Get(ctx, "adhoc")
	require.NoError(t, err)
	assert.Equal(t, model.BackupQuarantined, stored.Status)

	_, err = f.svc.Restore(ctx, "adhoc", t.TempDir())
	assert.ErrorIs(t, err, ErrQuarantined)
}

func TestMassRenameAgainstPreviousBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	names := []string{"a.docx", "b.docx", "c.xlsx", "d.pdf", "e.txt", "f.csv"}
	files := map[string]string{}
	for _, n := range names {
		files[n] = "content of " + n
	}
	src := writeTree(t, files)

	_, err := f.svc.Create(ctx, "monday", src)
	require.NoError(t, err)

	// Every file renamed with an unknown suffix, contents unchanged.
	for _, n := range names {
		require.NoError(t, os.Rename(filepath.Join(src, n), filepath.Join(src, n+".xyz123")))
	}
	rec, err := f.svc.Create(ctx, "tuesday", src)
	require.ErrorIs(t, err, ErrQuarantined)
	assert.Equal(t, []string{".xyz123"}, rec.Batch.RenamedSuffixes)
	assert.Equal(t, len(names), rec.Batch.QuarantinedCount)
}

func TestDeleteTearsDownHoneySet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"readme.txt": "hello", "docs/x.txt": "x"})

	rec, err := f.svc.Create(ctx, "nightly", src)
	require.NoError(t, err)
	require.NotNil(t, rec.Honey)

	require.NoError(t, f.svc.Delete(ctx, "nightly"))
	_, ok := f.honey.Get("nightly")
	assert.False(t, ok)
	_, err = os.Stat(rec.Honey.Root)
	assert.True(t, os.IsNotExist(err))
	keys, err := f.objects.List(ctx, "nightly")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = f.svc.Get(ctx, "nightly")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "nightly"), store.ErrNotFound)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestReplantHoney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"readme.txt": "hello", "docs/x.txt": "x"})

	rec, err := f.svc.Create(ctx, "weekly", src)
	require.NoError(t, err)
	require.NotNil(t, rec.Honey)
	oldRoot := rec.Honey.Root

	_, err = f.svc.PlantHoney(ctx, "weekly")
	var hce *honey.HoneyCreationError
	require.ErrorAs(t, err, &hce, "second set for the same backup")

	require.NoError(t, f.svc.RemoveHoney(ctx, "weekly"))
	require.NoError(t, f.svc.RemoveHoney(ctx, "weekly"))
	_, err = os.Stat(oldRoot)
	assert.True(t, os.IsNotExist(err))
	got, err := f.svc.Get(ctx, "weekly")
	require.NoError(t, err)
	assert.Nil(t, got.Honey)

	hr, err := f.svc.PlantHoney(ctx, "weekly")
	require.NoError(t, err)
	assert.Len(t, hr.Tokens, 2)
	got, err = f.svc.Get(ctx, "weekly")
	require.NoError(t, err)
	require.NotNil(t, got.Honey)
	assert.Equal(t, hr.ID, got.Honey.ID)
	set, ok := f.honey.Get("weekly")
	require.True(t, ok)
	assert.True(t, set.Active())
}

func TestPlantHoneyRefusesQuarantined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := writeTree(t, map[string]string{"readme.txt": "hello", "evil.bin": "x"})

	_, err := f.svc.Create(ctx, "held", src)
	require.ErrorIs(t, err, ErrQuarantined)

	_, err = f.svc.PlantHoney(ctx, "held")
	assert.ErrorIs(t, err, ErrQuarantined)
	_, err = f.svc.PlantHoney(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
