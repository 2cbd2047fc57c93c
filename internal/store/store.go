// Package store persists verdicts, alerts, batches and the backup catalog.
// Every record is uniquely keyed so re-ingesting the same record is a no-op:
// verdicts by file_id+scan_pass_id, alerts by subject+timestamp.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/backupsentry/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable metadata store.
type Store interface {
	// PutVerdicts records verdicts atomically. Existing keys are left untouched.
	PutVerdicts(ctx context.Context, vs []model.FileVerdict) error
	Verdicts(ctx context.Context, scanPassID string) ([]model.FileVerdict, error)

	// RecordAlert records ev once per subject+timestamp.
	RecordAlert(ctx context.Context, ev model.AlertEvent) error
	Alerts(ctx context.Context, limit int) ([]model.AlertEvent, error)

	PutBatch(ctx context.Context, b model.BatchVerdict) error
	Batch(ctx context.Context, batchID string) (model.BatchVerdict, error)

	// PutBackup inserts or replaces the catalog entry for rec.Name.
	PutBackup(ctx context.Context, rec model.BackupRecord) error
	Backup(ctx context.Context, name string) (model.BackupRecord, error)
	Backups(ctx context.Context) ([]model.BackupRecord, error)
	DeleteBackup(ctx context.Context, name string) error

	Close() error
}

// Open selects a driver from the DSN: postgres:// and postgresql:// URLs use
// PostgreSQL, anything else (optionally prefixed sqlite://) is a SQLite path.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return nil, fmt.Errorf("store: empty dsn")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
}

// HoneySets returns the honey set records attached to catalog entries,
// for re-attaching watches after a restart.
func HoneySets(ctx context.Context, s Store) ([]model.HoneySetRecord, error) {
	recs, err := s.Backups(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.HoneySetRecord
	for _, r := range recs {
		if r.Honey != nil {
			out = append(out, *r.Honey)
		}
	}
	return out, nil
}

func alertTS(ev model.AlertEvent) string {
	return ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
