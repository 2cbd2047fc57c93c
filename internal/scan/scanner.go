// Package scan runs a batch of files through extraction, scoring and
// decision on a bounded worker pool and reduces the verdicts once per batch.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/metrics"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/signal"
)

// defaultWorkers bounds concurrent files when the config leaves it unset.
const defaultWorkers = 8

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git":          true,
	".backupsentry": true,
}

// AlertSink receives alerts raised by a scan.
type AlertSink interface {
	Send(ctx context.Context, ev model.AlertEvent) error
}

// Collector produces the signal for one file.
type Collector interface {
	Collect(ctx context.Context, f signal.File) (model.FileSignal, error)
}

// Result is the outcome of one scan pass.
type Result struct {
	ScanPassID string              `json:"scan_pass_id"`
	Root       string              `json:"root,omitempty"`
	Files      []string            `json:"files"`
	Verdicts   []model.FileVerdict `json:"verdicts"`
	Signals    []model.FileSignal  `json:"-"`
	Batch      model.BatchVerdict  `json:"batch"`
	Duration   time.Duration       `json:"duration"`
}

// Scanner is safe for concurrent scans.
type Scanner struct {
	collector  Collector
	controller *decision.Controller
	rename     decision.MassRenameConfig
	workers    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	alerts     AlertSink
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option { return func(s *Scanner) { s.workers = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scanner) { s.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scanner) { s.metrics = m } }

// WithAlerts sets where RansomwareSuspected alerts go.
func WithAlerts(a AlertSink) Option { return func(s *Scanner) { s.alerts = a } }

// New creates a scanner.
func New(c Collector, ctrl *decision.Controller, rename decision.MassRenameConfig, opts ...Option) *Scanner {
	s := &Scanner{
		collector:  c,
		controller: ctrl,
		rename:     rename,
		workers:    defaultWorkers,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.workers <= 0 {
		s.workers = defaultWorkers
	}
	return s
}

// ListFiles returns the regular files under root as slash-separated paths
// relative to root, sorted. Symlinks and bookkeeping directories are skipped.
func ListFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan: %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ScanDir scans every regular file under root. previous is the file list of
// the last pass over the same source, used for mass-rename detection.
func (s *Scanner) ScanDir(ctx context.Context, root string, previous []string) (*Result, error) {
	rels, err := ListFiles(root)
	if err != nil {
		return nil, err
	}
	files := make([]signal.File, len(rels))
	for i, rel := range rels {
		files[i] = signal.File{ID: rel, Path: filepath.Join(root, filepath.FromSlash(rel))}
	}
	res, err := s.ScanFiles(ctx, files, previous)
	if err != nil {
		return nil, err
	}
	res.Root = root
	return res, nil
}

// ScanFiles scans an explicit batch. If ctx is cancelled the whole pass is
// discarded and ctx's error returned.
func (s *Scanner) ScanFiles(ctx context.Context, files []signal.File, previous []string) (*Result, error) {
	start := time.Now()
	passID := uuid.NewString()
	log := s.logger.With("scan_pass", passID)

	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	renamed := decision.DetectMassRename(previous, ids, s.rename)
	if len(renamed) > 0 {
		log.Warn("mass rename detected", "suffixes", renamed)
	}

	verdicts := make([]model.FileVerdict, len(files))
	signals := make([]model.FileSignal, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			sig, err := s.collector.Collect(gctx, f)
			if err != nil {
				return err
			}
			for _, name := range sig.Failed {
				s.metrics.ExtractorFailed(name)
			}

			in := decision.Input{ScanPassID: passID, Signal: sig}
			if decision.HasSuffix(f.ID, renamed) {
				in.Renamed = true
				in.Suffix = strings.ToLower(filepath.Ext(f.ID))
			}
			v, err := s.controller.Decide(in)
			if err != nil {
				return err
			}
			signals[i] = sig
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Info("scan aborted, discarding in-flight signals", "files", len(files))
			return nil, ctxErr
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	// Single reduction point for the batch.
	batch := decision.Aggregate(uuid.NewString(), passID, verdicts, renamed)

	for _, v := range verdicts {
		s.metrics.FileDecided(string(v.Action), v.RiskScore)
		s.report(ctx, log, v)
	}
	elapsed := time.Since(start)
	s.metrics.BatchDone(string(batch.WorstAction), elapsed.Seconds())

	log.Info("scan complete",
		"files", batch.TotalFiles,
		"worst_action", batch.WorstAction,
		"quarantined", batch.QuarantinedCount,
		"encrypted", batch.EncryptedCount,
		"partial", batch.PartialCount,
		"avg_risk", batch.AvgRiskScore,
		"duration", elapsed,
	)

	return &Result{
		ScanPassID: passID,
		Files:      ids,
		Verdicts:   verdicts,
		Signals:    signals,
		Batch:      batch,
		Duration:   elapsed,
	}, nil
}

// report surfaces one verdict: quarantine immediately, encrypt as a notice,
// partial signals as a reduced-confidence warning.
func (s *Scanner) report(ctx context.Context, log *slog.Logger, v model.FileVerdict) {
	if v.Partial {
		log.Warn("reduced confidence", "file", v.FileID, "confidence", v.ConfidenceTier)
	}
	switch v.Action {
	case model.Quarantine:
		log.Warn("quarantine", "file", v.FileID, "risk", v.RiskScore, "reasons", v.Reasons)
		if s.alerts == nil {
			return
		}
		ev := model.AlertEvent{
			Kind:      model.RansomwareSuspected,
			FileID:    v.FileID,
			Timestamp: v.DecidedAt,
			Path:      v.Path,
			Detail:    strings.Join(v.Reasons, "; "),
		}
		if err := s.alerts.Send(ctx, ev); err != nil {
			log.Warn("alert delivery failed", "file", v.FileID, "error", err)
		}
		s.metrics.Alert(string(ev.Kind))
	case model.Encrypt:
		log.Info("encrypt before store", "file", v.FileID, "risk", v.RiskScore)
	}
}
