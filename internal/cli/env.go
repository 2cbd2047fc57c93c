package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/ppiankov/backupsentry/internal/alert"
	"github.com/ppiankov/backupsentry/internal/audit"
	"github.com/ppiankov/backupsentry/internal/backup"
	"github.com/ppiankov/backupsentry/internal/config"
	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/honey"
	"github.com/ppiankov/backupsentry/internal/logging"
	"github.com/ppiankov/backupsentry/internal/metrics"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/objstore"
	"github.com/ppiankov/backupsentry/internal/scan"
	"github.com/ppiankov/backupsentry/internal/scoring"
	"github.com/ppiankov/backupsentry/internal/seal"
	"github.com/ppiankov/backupsentry/internal/signal"
	"github.com/ppiankov/backupsentry/internal/store"
)

// env holds what a command opened, closed in reverse order by close.
type env struct {
	cfg     *config.Config
	hash    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	collector scan.Collector
	auditLog  *audit.Log
	store     store.Store
	sink      alert.Sink

	closers []func() error
}

// loadEnv loads and validates the config. Failures are *configError.
func loadEnv() (*env, error) {
	cfg, hash, err := config.LoadConfigWithHash(configPath)
	if err != nil {
		return nil, &configError{err}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, &configError{err}
	}
	return &env{
		cfg:     cfg,
		hash:    hash,
		logger:  logging.New(cfg.Log),
		metrics: metrics.New(),
	}, nil
}

func (e *env) onClose(f func() error) {
	e.closers = append(e.closers, f)
}

func (e *env) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// signals returns the extractor collector, loading the ONNX model once.
func (e *env) signals() (scan.Collector, error) {
	if e.collector != nil {
		return e.collector, nil
	}
	c, closer, err := signal.NewDefaultCollector(e.cfg.Extractors, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load extractors: %w", err)
	}
	e.onClose(closer.Close)
	e.collector = c
	return c, nil
}

func (e *env) controller() (*decision.Controller, error) {
	engine, err := scoring.NewEngine(e.cfg.Scoring)
	if err != nil {
		return nil, &configError{err}
	}
	ctrl, err := decision.NewController(e.cfg.Decision, engine)
	if err != nil {
		return nil, &configError{err}
	}
	return ctrl, nil
}

func (e *env) scanner(alerts scan.AlertSink) (*scan.Scanner, error) {
	c, err := e.signals()
	if err != nil {
		return nil, err
	}
	ctrl, err := e.controller()
	if err != nil {
		return nil, err
	}
	return scan.New(c, ctrl, e.cfg.Decision.MassRename,
		scan.WithWorkers(e.cfg.Workers),
		scan.WithLogger(e.logger),
		scan.WithMetrics(e.metrics),
		scan.WithAlerts(alerts),
	), nil
}

// journal opens the audit log, or returns nil when audit_log is empty.
func (e *env) journal() (*audit.Log, error) {
	if e.auditLog != nil || e.cfg.AuditLog == "" {
		return e.auditLog, nil
	}
	l, err := audit.Open(e.cfg.AuditLog)
	if err != nil {
		return nil, err
	}
	if err := l.SetConfigHash(e.hash); err != nil {
		l.Close()
		return nil, err
	}
	e.onClose(l.Close)
	e.auditLog = l
	return l, nil
}

func (e *env) openStore(ctx context.Context) (store.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	st, err := store.Open(ctx, e.cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	e.onClose(st.Close)
	e.store = st
	return st, nil
}

// alerts builds the deduplicated fan-out to webhooks, NATS, the store and
// the audit log. An unreachable NATS server is logged and skipped.
func (e *env) alerts(ctx context.Context) (alert.Sink, error) {
	if e.sink != nil {
		return e.sink, nil
	}
	var sinks alert.Fanout
	if d := alert.NewDispatcher(e.cfg.Alerts.Webhooks); d != nil {
		sinks = append(sinks, e.counted("webhook", d))
	}
	if e.cfg.NATS.URL != "" {
		ns, err := alert.ConnectNATS(e.cfg.NATS, e.logger)
		if err != nil {
			e.logger.Warn("nats alerts disabled", "error", err)
		} else {
			e.onClose(ns.Close)
			sinks = append(sinks, e.counted("nats", ns))
		}
	}
	st, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, e.counted("store", alert.Record(st)))
	j, err := e.journal()
	if err != nil {
		return nil, err
	}
	if j != nil {
		sinks = append(sinks, e.counted("audit", alert.Record(j)))
	}

	d, err := alert.NewDeduper(sinks, e.cfg.Alerts.DedupeWindow, e.cfg.Alerts.DedupeSize)
	if err != nil {
		return nil, err
	}
	e.sink = d
	return d, nil
}

// counted reports delivery failures of s to the sink failure counter.
func (e *env) counted(name string, s alert.Sink) alert.Sink {
	m := e.metrics
	return alert.SinkFunc(func(ctx context.Context, ev model.AlertEvent) error {
		err := s.Send(ctx, ev)
		if err != nil {
			m.SinkFailed(name)
		}
		return err
	})
}

// honeyRegistry returns a registry whose alerts go to the alert fan-out.
// Closing it stops watches and leaves decoys on disk.
func (e *env) honeyRegistry(ctx context.Context) (*honey.Registry, error) {
	sink, err := e.alerts(ctx)
	if err != nil {
		return nil, err
	}
	reg := honey.NewRegistry(e.cfg.Honey, sink, e.logger, e.metrics)
	e.onClose(reg.Close)
	return reg, nil
}

// backups wires the backup service. reg may be nil for commands that do
// not touch honey sets.
func (e *env) backups(ctx context.Context, reg *honey.Registry) (*backup.Service, error) {
	sink, err := e.alerts(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := e.scanner(sink)
	if err != nil {
		return nil, err
	}
	st, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}
	objects, err := objstore.Open(ctx, e.cfg.Storage)
	if err != nil {
		return nil, err
	}
	sealer, err := seal.FromKeyFile(e.cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	j, err := e.journal()
	if err != nil {
		return nil, err
	}
	deps := backup.Deps{
		Scanner:       sc,
		Store:         st,
		Objects:       objects,
		Sealer:        sealer,
		Alerts:        sink,
		QuarantineDir: e.cfg.QuarantineDir,
		Logger:        e.logger,
	}
	if reg != nil {
		deps.Honey = reg
	}
	if j != nil {
		deps.Journal = j
	}
	return backup.New(deps)
}

// notifyContext is cancelled on SIGINT or SIGTERM.
func notifyContext() (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
