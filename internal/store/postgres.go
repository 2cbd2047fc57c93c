package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppiankov/backupsentry/internal/model"
)

// Postgres is the shared store for multi-host deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and applies the schema.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			p.Close()
			return nil, fmt.Errorf("store: init postgres: %w", err)
		}
	}
	return &Postgres{pool: p}, nil
}

func (s *Postgres) PutVerdicts(ctx context.Context, vs []model.FileVerdict) error {
	b := &pgx.Batch{}
	for _, v := range vs {
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("store: marshal verdict: %w", err)
		}
		b.Queue(`
			INSERT INTO file_verdicts (file_id, scan_pass_id, path, action, risk_score, decided_at, doc)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (file_id, scan_pass_id) DO NOTHING`,
			v.FileID, v.ScanPassID, v.Path, string(v.Action), v.RiskScore,
			v.DecidedAt.UTC().Format(time.RFC3339Nano), string(doc))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("store: put verdicts: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit verdicts: %w", err)
	}
	return nil
}

func (s *Postgres) Verdicts(ctx context.Context, scanPassID string) ([]model.FileVerdict, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM file_verdicts WHERE scan_pass_id = $1 ORDER BY path, file_id`, scanPassID)
	if err != nil {
		return nil, fmt.Errorf("store: query verdicts: %w", err)
	}
	return scanDocs[model.FileVerdict](pgRows{rows})
}

func (s *Postgres) RecordAlert(ctx context.Context, ev model.AlertEvent) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: marshal alert: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_events (subject, ts, kind, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject, ts) DO NOTHING`,
		ev.Subject(), alertTS(ev), string(ev.Kind), string(doc))
	if err != nil {
		return fmt.Errorf("store: record alert %s: %w", ev.Key(), err)
	}
	return nil
}

func (s *Postgres) Alerts(ctx context.Context, limit int) ([]model.AlertEvent, error) {
	q := `SELECT doc FROM alert_events ORDER BY ts DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query alerts: %w", err)
	}
	return scanDocs[model.AlertEvent](pgRows{rows})
}

func (s *Postgres) PutBatch(ctx context.Context, b model.BatchVerdict) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("store: marshal batch: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO batch_verdicts (batch_id, scan_pass_id, worst_action, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id) DO NOTHING`,
		b.BatchID, b.ScanPassID, string(b.WorstAction), string(doc))
	if err != nil {
		return fmt.Errorf("store: put batch %s: %w", b.BatchID, err)
	}
	return nil
}

func (s *Postgres) Batch(ctx context.Context, batchID string) (model.BatchVerdict, error) {
	var b model.BatchVerdict
	err := s.getDoc(ctx, &b, `SELECT doc FROM batch_verdicts WHERE batch_id = $1`, batchID)
	return b, err
}

func (s *Postgres) PutBackup(ctx context.Context, rec model.BackupRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal backup: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO backups (name, status, created_at, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		rec.Name, string(rec.Status), rec.CreatedAt.UTC().Format(time.RFC3339Nano), string(doc))
	if err != nil {
		return fmt.Errorf("store: put backup %s: %w", rec.Name, err)
	}
	return nil
}

func (s *Postgres) Backup(ctx context.Context, name string) (model.BackupRecord, error) {
	var rec model.BackupRecord
	err := s.getDoc(ctx, &rec, `SELECT doc FROM backups WHERE name = $1`, name)
	return rec, err
}

func (s *Postgres) Backups(ctx context.Context) ([]model.BackupRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM backups ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("store: query backups: %w", err)
	}
	return scanDocs[model.BackupRecord](pgRows{rows})
}

func (s *Postgres) DeleteBackup(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backups WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("store: delete backup %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) getDoc(ctx context.Context, dst any, query string, args ...any) error {
	var doc string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: query: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), dst); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

type pgRows struct{ pgx.Rows }

func (r pgRows) Close() error {
	r.Rows.Close()
	return r.Rows.Err()
}
