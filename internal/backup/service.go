// Package backup runs a source directory through the scan/decision pipeline
// and honours every verdict before anything reaches primary storage: Pass is
// stored as-is, Encrypt is sealed first, and any Quarantine holds the whole
// batch back.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/backupsentry/internal/honey"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/objstore"
	"github.com/ppiankov/backupsentry/internal/scan"
	"github.com/ppiankov/backupsentry/internal/seal"
	"github.com/ppiankov/backupsentry/internal/store"
)

var (
	// ErrExists is returned by Create when the name is already catalogued.
	ErrExists = errors.New("backup already exists")
	// ErrQuarantined is returned by Create when the batch was held back.
	ErrQuarantined = errors.New("backup quarantined")
	// ErrSourceChanged is returned by Create when a file no longer holds the
	// bytes its verdict was decided on. Nothing of the backup is kept.
	ErrSourceChanged = errors.New("source changed since scan")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// sealedSuffix marks objects stored encrypted.
const sealedSuffix = ".sealed"

// Journal records decisions and catalog changes. *audit.Log satisfies it.
type Journal interface {
	RecordVerdict(ctx context.Context, v model.FileVerdict) error
	RecordBatch(ctx context.Context, b model.BatchVerdict) error
	RecordBackup(ctx context.Context, rec model.BackupRecord, op string) error
}

// Deps are the collaborators of a Service. Honey, Journal and Alerts may be nil.
type Deps struct {
	Scanner       *scan.Scanner
	Store         store.Store
	Objects       objstore.Backend
	Sealer        *seal.Sealer
	Honey         *honey.Registry
	Journal       Journal
	Alerts        scan.AlertSink
	QuarantineDir string
	Logger        *slog.Logger
}

// Service implements the backup catalog operations.
type Service struct {
	d Deps

	mu       sync.Mutex
	creating map[string]bool
}

// New validates deps and returns a Service.
func New(d Deps) (*Service, error) {
	if d.Scanner == nil || d.Store == nil || d.Objects == nil || d.Sealer == nil {
		return nil, errors.New("backup: scanner, store, objects and sealer are required")
	}
	if d.QuarantineDir == "" {
		return nil, errors.New("backup: quarantine dir is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{d: d, creating: make(map[string]bool)}, nil
}

// Create backs up source under name. A quarantined batch still produces a
// catalog entry (status quarantined) and returns it with ErrQuarantined.
func (s *Service) Create(ctx context.Context, name, source string) (model.BackupRecord, error) {
	if !validName.MatchString(name) {
		return model.BackupRecord{}, fmt.Errorf("backup: invalid name %q", name)
	}
	source, err := filepath.Abs(source)
	if err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: %w", err)
	}
	if info, err := os.Stat(source); err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: source: %w", err)
	} else if !info.IsDir() {
		return model.BackupRecord{}, fmt.Errorf("backup: source %s is not a directory", source)
	}

	if !s.reserve(name) {
		return model.BackupRecord{}, fmt.Errorf("backup %s: %w", name, ErrExists)
	}
	defer s.release(name)

	if _, err := s.d.Store.Backup(ctx, name); err == nil {
		return model.BackupRecord{}, fmt.Errorf("backup %s: %w", name, ErrExists)
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.BackupRecord{}, fmt.Errorf("backup: %w", err)
	}

	log := s.d.Logger.With("backup", name)
	previous, err := s.previousFiles(ctx, source)
	if err != nil {
		return model.BackupRecord{}, err
	}

	res, err := s.d.Scanner.ScanDir(ctx, source, previous)
	if err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: scan: %w", err)
	}

	// Verdicts count as decided only once durably stored.
	if err := s.d.Store.PutVerdicts(ctx, res.Verdicts); err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: %w", err)
	}
	if err := s.d.Store.PutBatch(ctx, res.Batch); err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: %w", err)
	}
	s.journal(ctx, log, res)

	rec := model.BackupRecord{
		Name:           name,
		SourcePath:     source,
		CreatedAt:      time.Now().UTC(),
		TotalFiles:     res.Batch.TotalFiles,
		SensitiveFiles: sensitiveCount(res.Verdicts),
		AvgRiskScore:   res.Batch.AvgRiskScore,
		RiskLabel:      res.Batch.RiskLabel,
		Batch:          res.Batch,
		Files:          res.Files,
	}

	if !res.Batch.Committable() {
		return s.hold(ctx, log, rec, res)
	}

	encrypted, err := s.commit(ctx, name, source, res.Verdicts)
	if err != nil {
		if errors.Is(err, ErrSourceChanged) {
			log.Warn("source modified during backup, nothing committed", "error", err)
		}
		if derr := s.d.Objects.DeletePrefix(context.WithoutCancel(ctx), name); derr != nil {
			log.Warn("cleanup after failed commit", "error", derr)
		}
		return model.BackupRecord{}, fmt.Errorf("backup: commit: %w", err)
	}
	rec.Status = model.BackupCommitted
	rec.EncryptedFiles = encrypted
	rec.Location = s.d.Objects.Location(name)

	if s.d.Honey != nil {
		rec.Honey = s.plantHoney(log, name, source)
	}

	if err := s.d.Store.PutBackup(ctx, rec); err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: %w", err)
	}
	s.recordBackup(ctx, log, rec, "create")
	log.Info("backup committed",
		"files", rec.TotalFiles,
		"encrypted", rec.EncryptedFiles,
		"avg_risk", rec.AvgRiskScore,
		"location", rec.Location,
	)
	return rec, nil
}

func (s *Service) hold(ctx context.Context, log *slog.Logger, rec model.BackupRecord, res *scan.Result) (model.BackupRecord, error) {
	ref, err := writeHold(s.d.QuarantineDir, rec.Name, res.Batch.BatchID, res.Root, res.Files)
	if err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: quarantine hold: %w", err)
	}
	rec.Status = model.BackupQuarantined
	rec.QuarantineRef = ref
	rec.Location = ref
	if err := s.d.Store.PutBackup(ctx, rec); err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup: %w", err)
	}
	s.recordBackup(ctx, log, rec, "quarantine")
	log.Warn("backup quarantined",
		"quarantined_files", res.Batch.QuarantinedCount,
		"renamed_suffixes", res.Batch.RenamedSuffixes,
		"hold", ref,
	)
	return rec, fmt.Errorf("backup %s: %w (%d of %d files)", rec.Name, ErrQuarantined,
		res.Batch.QuarantinedCount, res.Batch.TotalFiles)
}

// commit writes every file of a committable batch, sealing Encrypt files.
func (s *Service) commit(ctx context.Context, name, source string, verdicts []model.FileVerdict) (int, error) {
	encrypted := 0
	for _, v := range verdicts {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		data, err := os.ReadFile(filepath.Join(source, filepath.FromSlash(v.FileID)))
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", v.FileID, err)
		}
		if err := matchesVerdict(v, data); err != nil {
			return 0, err
		}
		key := objstore.Join(name, "files", v.FileID)
		switch v.Action {
		case model.Pass:
		case model.Encrypt:
			data, err = s.d.Sealer.Seal(data, []byte(v.FileID))
			if err != nil {
				return 0, fmt.Errorf("seal %s: %w", v.FileID, err)
			}
			key += sealedSuffix
			encrypted++
		default:
			// Unreachable for a committable batch; refuse rather than store.
			return 0, fmt.Errorf("refusing to store %s with action %s", v.FileID, v.Action)
		}
		if err := s.d.Objects.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			return 0, err
		}
		if v.Action == model.Encrypt {
			s.alert(ctx, model.AlertEvent{
				Kind:      model.SensitiveDataEncrypted,
				FileID:    v.FileID,
				Timestamp: time.Now().UTC(),
				Backup:    name,
				Path:      v.Path,
				Detail:    strings.Join(v.Entities, ","),
			})
		}
	}

	manifest, err := json.MarshalIndent(verdicts, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal verdicts: %w", err)
	}
	if err := s.d.Objects.Put(ctx, objstore.Join(name, "verdicts.json"), bytes.NewReader(manifest), int64(len(manifest))); err != nil {
		return 0, err
	}
	return encrypted, nil
}

// matchesVerdict refuses data that is not the exact content v was decided on.
// A verdict without a digest covers no known bytes and is refused too.
func matchesVerdict(v model.FileVerdict, data []byte) error {
	if v.Digest == "" {
		return fmt.Errorf("%s: no content digest recorded: %w", v.FileID, ErrSourceChanged)
	}
	sum := sha256.Sum256(data)
	if int64(len(data)) != v.Size || model.FormatDigest(sum[:]) != v.Digest {
		return fmt.Errorf("%s: %w", v.FileID, ErrSourceChanged)
	}
	return nil
}

// plantHoney creates the decoy set for a committed backup. A failure leaves
// the backup committed without tripwires and is logged, not returned.
func (s *Service) plantHoney(log *slog.Logger, name, source string) *model.HoneySetRecord {
	m, err := honey.BuildManifest(source)
	if err == nil {
		var set *honey.Set
		set, err = s.d.Honey.Create(name, m)
		if err == nil {
			r := set.Record()
			return &r
		}
	}
	log.Error("honey set not created", "error", err)
	return nil
}

// PlantHoney creates a honey set for a committed backup that has none and
// records it in the catalog.
func (s *Service) PlantHoney(ctx context.Context, name string) (model.HoneySetRecord, error) {
	if s.d.Honey == nil {
		return model.HoneySetRecord{}, errors.New("backup: honey registry not configured")
	}
	rec, err := s.d.Store.Backup(ctx, name)
	if err != nil {
		return model.HoneySetRecord{}, fmt.Errorf("backup %s: %w", name, err)
	}
	if rec.Status != model.BackupCommitted {
		return model.HoneySetRecord{}, fmt.Errorf("backup %s: %w", name, ErrQuarantined)
	}
	if rec.Honey != nil {
		return model.HoneySetRecord{}, &honey.HoneyCreationError{Backup: name, Err: errors.New("backup already has a honey set")}
	}
	m, err := honey.BuildManifest(rec.SourcePath)
	if err != nil {
		return model.HoneySetRecord{}, &honey.HoneyCreationError{Backup: name, Err: err}
	}
	set, err := s.d.Honey.Create(name, m)
	if err != nil {
		return model.HoneySetRecord{}, err
	}
	hr := set.Record()
	rec.Honey = &hr
	if err := s.d.Store.PutBackup(ctx, rec); err != nil {
		_ = s.d.Honey.Teardown(name)
		return model.HoneySetRecord{}, fmt.Errorf("backup: %w", err)
	}
	log := s.d.Logger.With("backup", name)
	s.recordBackup(ctx, log, rec, "honey-create")
	log.Info("honey set planted", "tokens", len(hr.Tokens), "root", hr.Root)
	return hr, nil
}

// RemoveHoney tears down the honey set of name and clears it from the
// catalog. A backup without a set is left unchanged.
func (s *Service) RemoveHoney(ctx context.Context, name string) error {
	rec, err := s.d.Store.Backup(ctx, name)
	if err != nil {
		return fmt.Errorf("backup %s: %w", name, err)
	}
	if rec.Honey == nil {
		return nil
	}
	if s.d.Honey != nil {
		if err := s.d.Honey.Teardown(name); err != nil {
			return fmt.Errorf("backup %s: %w", name, err)
		}
	}
	if err := os.RemoveAll(rec.Honey.Root); err != nil {
		return fmt.Errorf("backup %s: remove honey set: %w", name, err)
	}
	rec.Honey = nil
	if err := s.d.Store.PutBackup(ctx, rec); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	log := s.d.Logger.With("backup", name)
	s.recordBackup(ctx, log, rec, "honey-teardown")
	log.Info("honey set removed")
	return nil
}

// Get returns the catalog entry for name.
func (s *Service) Get(ctx context.Context, name string) (model.BackupRecord, error) {
	rec, err := s.d.Store.Backup(ctx, name)
	if err != nil {
		return model.BackupRecord{}, fmt.Errorf("backup %s: %w", name, err)
	}
	return rec, nil
}

// List returns the catalog, oldest first.
func (s *Service) List(ctx context.Context) ([]model.BackupRecord, error) {
	recs, err := s.d.Store.Backups(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	return recs, nil
}

// Delete removes the backup's objects, tears its honey set down and drops
// the catalog entry. Quarantine hold archives are kept.
func (s *Service) Delete(ctx context.Context, name string) error {
	rec, err := s.d.Store.Backup(ctx, name)
	if err != nil {
		return fmt.Errorf("backup %s: %w", name, err)
	}
	log := s.d.Logger.With("backup", name)

	if s.d.Honey != nil {
		if err := s.d.Honey.Teardown(name); err != nil {
			return fmt.Errorf("backup %s: %w", name, err)
		}
	}
	// The set may belong to another process's registry; removal is idempotent.
	if rec.Honey != nil && rec.Honey.Root != "" {
		if err := os.RemoveAll(rec.Honey.Root); err != nil {
			return fmt.Errorf("backup %s: remove honey set: %w", name, err)
		}
	}
	if rec.Status == model.BackupCommitted {
		if err := s.d.Objects.DeletePrefix(ctx, name); err != nil {
			return fmt.Errorf("backup %s: %w", name, err)
		}
	}
	if err := s.d.Store.DeleteBackup(ctx, name); err != nil {
		return fmt.Errorf("backup %s: %w", name, err)
	}
	s.recordBackup(ctx, log, rec, "delete")
	log.Info("backup deleted")
	return nil
}

// Restore writes the files of a committed backup under dest, opening sealed
// files. It returns the number of files written.
func (s *Service) Restore(ctx context.Context, name, dest string) (int, error) {
	rec, err := s.d.Store.Backup(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("backup %s: %w", name, err)
	}
	if rec.Status != model.BackupCommitted {
		return 0, fmt.Errorf("backup %s: %w", name, ErrQuarantined)
	}
	prefix := objstore.Join(name, "files")
	keys, err := s.d.Objects.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("backup %s: %w", name, err)
	}
	n := 0
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix+"/")
		data, err := s.read(ctx, key)
		if err != nil {
			return n, err
		}
		if strings.HasSuffix(rel, sealedSuffix) {
			rel = strings.TrimSuffix(rel, sealedSuffix)
			if data, err = s.d.Sealer.Open(data, []byte(rel)); err != nil {
				return n, fmt.Errorf("backup %s: %s: %w", name, rel, err)
			}
		}
		out := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
			return n, fmt.Errorf("backup %s: %w", name, err)
		}
		if err := os.WriteFile(out, data, 0o600); err != nil {
			return n, fmt.Errorf("backup %s: %w", name, err)
		}
		n++
	}
	return n, nil
}

func (s *Service) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.d.Objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// previousFiles returns the file list of the latest backup of source.
func (s *Service) previousFiles(ctx context.Context, source string) ([]string, error) {
	recs, err := s.d.Store.Backups(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	var latest *model.BackupRecord
	for i := range recs {
		if recs[i].SourcePath != source {
			continue
		}
		if latest == nil || recs[i].CreatedAt.After(latest.CreatedAt) {
			latest = &recs[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	return latest.Files, nil
}

func (s *Service) journal(ctx context.Context, log *slog.Logger, res *scan.Result) {
	if s.d.Journal == nil {
		return
	}
	for _, v := range res.Verdicts {
		if err := s.d.Journal.RecordVerdict(ctx, v); err != nil {
			log.Warn("audit write failed", "error", err)
			return
		}
	}
	if err := s.d.Journal.RecordBatch(ctx, res.Batch); err != nil {
		log.Warn("audit write failed", "error", err)
	}
}

func (s *Service) recordBackup(ctx context.Context, log *slog.Logger, rec model.BackupRecord, op string) {
	if s.d.Journal == nil {
		return
	}
	if err := s.d.Journal.RecordBackup(ctx, rec, op); err != nil {
		log.Warn("audit write failed", "error", err)
	}
}

func (s *Service) alert(ctx context.Context, ev model.AlertEvent) {
	if s.d.Alerts == nil {
		return
	}
	if err := s.d.Alerts.Send(ctx, ev); err != nil {
		s.d.Logger.Warn("alert delivery failed", "kind", ev.Kind, "file", ev.FileID, "error", err)
	}
}

func (s *Service) reserve(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creating[name] {
		return false
	}
	s.creating[name] = true
	return true
}

func (s *Service) release(name string) {
	s.mu.Lock()
	delete(s.creating, name)
	s.mu.Unlock()
}

func sensitiveCount(vs []model.FileVerdict) int {
	n := 0
	for _, v := range vs {
		if len(v.Entities) > 0 {
			n++
		}
	}
	return n
}

