package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/backupsentry/internal/model"
)

// SQLite is the default single-host store.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	for _, stmt := range append([]string{`PRAGMA busy_timeout = 5000`, `PRAGMA journal_mode = WAL`}, schema...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: init sqlite: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) PutVerdicts(ctx context.Context, vs []model.FileVerdict) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_verdicts (file_id, scan_pass_id, path, action, risk_score, decided_at, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id, scan_pass_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, v := range vs {
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: marshal verdict: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, v.FileID, v.ScanPassID, v.Path, string(v.Action), v.RiskScore,
			v.DecidedAt.UTC().Format(time.RFC3339Nano), string(doc)); err != nil {
			return fmt.Errorf("store: put verdict %s: %w", v.Key(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit verdicts: %w", err)
	}
	return nil
}

func (s *SQLite) Verdicts(ctx context.Context, scanPassID string) ([]model.FileVerdict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM file_verdicts WHERE scan_pass_id = ? ORDER BY path, file_id`, scanPassID)
	if err != nil {
		return nil, fmt.Errorf("store: query verdicts: %w", err)
	}
	return scanDocs[model.FileVerdict](rows)
}

func (s *SQLite) RecordAlert(ctx context.Context, ev model.AlertEvent) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: marshal alert: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_events (subject, ts, kind, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT (subject, ts) DO NOTHING`,
		ev.Subject(), alertTS(ev), string(ev.Kind), string(doc))
	if err != nil {
		return fmt.Errorf("store: record alert %s: %w", ev.Key(), err)
	}
	return nil
}

func (s *SQLite) Alerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM alert_events ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query alerts: %w", err)
	}
	return scanDocs[model.AlertEvent](rows)
}

func (s *SQLite) PutBatch(ctx context.Context, b model.BatchVerdict) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: marshal batch: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO batch_verdicts (batch_id, scan_pass_id, worst_action, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT (batch_id) DO NOTHING`,
		b.BatchID, b.ScanPassID, string(b.WorstAction), string(doc))
	if err != nil {
		return fmt.Errorf("store: put batch %s: %w", b.BatchID, err)
	}
	return nil
}

func (s *SQLite) Batch(ctx context.Context, batchID string) (model.BatchVerdict, error) {
	var b model.BatchVerdict
	err := s.getDoc(ctx, &b, `SELECT doc FROM batch_verdicts WHERE batch_id = ?`, batchID)
	return b, err
}

func (s *SQLite) PutBackup(ctx context.Context, rec model.BackupRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal backup: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backups (name, status, created_at, doc) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		rec.Name, string(rec.Status), rec.CreatedAt.UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("store: put backup %s: %w", rec.Name, err)
	}
	return nil
}

func (s *SQLite) Backup(ctx context.Context, name string) (model.BackupRecord, error) {
	var rec model.BackupRecord
	err := s.getDoc(ctx, &rec, `SELECT doc FROM backups WHERE name = ?`, name)
	return rec, err
}

func (s *SQLite) Backups(ctx context.Context) ([]model.BackupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM backups ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("store: query backups: %w", err)
	}
	return scanDocs[model.BackupRecord](rows)
}

func (s *SQLite) DeleteBackup(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("store: delete backup %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) getDoc(ctx context.Context, dst any, query string, args ...any) error {
	var doc string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: query: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), dst); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// docRows is satisfied by *sql.Rows; pgx rows are adapted in postgres.go.
type docRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanDocs[T any](rows docRows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			return nil, fmt.Errorf("store: decode: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}
