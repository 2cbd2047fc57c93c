package honey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ppiankov/backupsentry/internal/metrics"
	"github.com/ppiankov/backupsentry/internal/model"
)

// Sink receives honeytoken alerts from every watched set.
type Sink interface {
	Send(ctx context.Context, ev model.AlertEvent) error
}

// Registry owns the honey sets of all backups, one per backup name.
type Registry struct {
	cfg     Config
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	sets  map[string]*Set
	relay sync.WaitGroup
}

// NewRegistry creates an empty registry. Alerts from every set go to sink.
func NewRegistry(cfg Config, sink Sink, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{cfg: cfg, sink: sink, logger: logger, metrics: m, sets: make(map[string]*Set)}
}

// Create builds and starts watching the honey set for backup. A set is only
// registered once its watch is running.
func (r *Registry) Create(backup string, m Manifest) (*Set, error) {
	r.mu.Lock()
	if _, ok := r.sets[backup]; ok {
		r.mu.Unlock()
		return nil, &HoneyCreationError{Backup: backup, Err: errors.New("honey set already exists")}
	}
	r.mu.Unlock()

	set, err := Create(backup, m, r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	if err := r.adopt(set); err != nil {
		_ = set.Teardown()
		return nil, &HoneyCreationError{Backup: backup, Err: err}
	}
	return set, nil
}

// Restore re-attaches persisted sets after a restart. Failures are collected
// and do not stop the remaining sets.
func (r *Registry) Restore(recs []model.HoneySetRecord) error {
	var errs []error
	for _, rec := range recs {
		set, err := Open(rec, r.cfg, r.logger)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.adopt(set); err != nil {
			_ = set.Close()
			errs = append(errs, fmt.Errorf("honey: restore %s: %w", rec.Backup, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) adopt(set *Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[set.Backup]; ok {
		return fmt.Errorf("backup %q already has a honey set", set.Backup)
	}
	ch, err := set.Watch()
	if err != nil {
		return err
	}
	r.sets[set.Backup] = set
	r.metrics.HoneySets(1)

	r.relay.Add(1)
	go func() {
		defer r.relay.Done()
		for ev := range ch {
			r.metrics.Alert(string(ev.Kind))
			if r.sink == nil {
				continue
			}
			if err := r.sink.Send(context.Background(), ev); err != nil {
				r.logger.Warn("honey alert delivery failed", "token", ev.TokenID, "error", err)
			}
		}
	}()
	return nil
}

// Get returns the set for backup.
func (r *Registry) Get(backup string) (*Set, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[backup]
	return s, ok
}

// List returns the records of every registered set, sorted by backup.
func (r *Registry) List() []model.HoneySetRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.HoneySetRecord, 0, len(r.sets))
	for _, s := range r.sets {
		out = append(out, s.Record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backup < out[j].Backup })
	return out
}

// Teardown removes the set of backup. Unknown backups are a no-op.
func (r *Registry) Teardown(backup string) error {
	r.mu.Lock()
	s, ok := r.sets[backup]
	delete(r.sets, backup)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.metrics.HoneySets(-1)
	return s.Teardown()
}

// Close stops every watch, leaving decoys on disk, and waits for the relays
// to deliver what they already received.
func (r *Registry) Close() error {
	r.mu.Lock()
	sets := make([]*Set, 0, len(r.sets))
	for _, s := range r.sets {
		sets = append(sets, s)
	}
	r.sets = make(map[string]*Set)
	r.mu.Unlock()

	var errs []error
	for _, s := range sets {
		errs = append(errs, s.Close())
		r.metrics.HoneySets(-1)
	}
	r.relay.Wait()
	return errors.Join(errs...)
}
