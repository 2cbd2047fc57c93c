package honey

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/backupsentry/internal/model"
)

// accessSource reports open/read access to a fixed set of files.
type accessSource interface {
	run(emit func(path, op string))
	Close() error
}

// noopSource blocks until closed and reports nothing.
type noopSource struct {
	done chan struct{}
}

func noAccess() accessSource { return &noopSource{done: make(chan struct{})} }

func (s *noopSource) run(func(path, op string)) { <-s.done }

func (s *noopSource) Close() error {
	close(s.done)
	return nil
}

// Set is a live honey backup: the decoy on disk, its tokens, and at most
// one watch stream. Sets share no mutable state with each other.
type Set struct {
	ID        string
	Backup    string
	Root      string
	Tokens    []model.Honeytoken
	CreatedAt time.Time

	logger *slog.Logger
	grace  time.Duration
	host   string

	mu       sync.Mutex
	watching bool
	stopped  bool
	removed  bool
	closers  []func() error
	wg       sync.WaitGroup
	stop     chan struct{}
}

// Open re-attaches to a honey set persisted as rec. Tokens whose files are
// gone are dropped with a warning.
func Open(rec model.HoneySetRecord, cfg Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(rec.Root); err != nil {
		return nil, fmt.Errorf("honey: open set %s: %w", rec.ID, err)
	}
	s := &Set{
		ID:        rec.ID,
		Backup:    rec.Backup,
		Root:      rec.Root,
		CreatedAt: rec.CreatedAt,
		logger:    logger.With("honey_set", rec.ID, "backup", rec.Backup),
		grace:     cfg.DrainGrace,
	}
	for _, t := range rec.Tokens {
		if _, err := os.Stat(t.Path); err != nil {
			s.logger.Warn("honeytoken missing", "token", t.TokenID, "path", t.Path)
			continue
		}
		s.Tokens = append(s.Tokens, t)
	}
	if len(s.Tokens) == 0 {
		return nil, fmt.Errorf("honey: open set %s: no tokens left", rec.ID)
	}
	return s, nil
}

// Record returns the persistable description of the set.
func (s *Set) Record() model.HoneySetRecord {
	return model.HoneySetRecord{
		ID:        s.ID,
		Backup:    s.Backup,
		Root:      s.Root,
		Tokens:    append([]model.Honeytoken(nil), s.Tokens...),
		CreatedAt: s.CreatedAt,
	}
}

// Watch starts observing every token and returns the alert stream. The stream
// is unbounded and not restartable: a second call returns ErrWatchStarted.
// It is closed after Close or Teardown.
func (s *Set) Watch() (<-chan model.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrTornDown
	}
	if s.watching {
		return nil, ErrWatchStarted
	}

	byPath := make(map[string]model.Honeytoken, len(s.Tokens))
	dirs := make(map[string]bool)
	paths := make([]string, 0, len(s.Tokens))
	for _, t := range s.Tokens {
		byPath[t.Path] = t
		dirs[filepath.Dir(t.Path)] = true
		paths = append(paths, t.Path)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("honey: watch: %w", err)
	}
	for d := range dirs {
		if err := fsw.Add(d); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("honey: watch %s: %w", d, err)
		}
	}

	acc, err := newAccessSource(paths)
	if err != nil {
		// Writes, renames and removals are still covered by fsnotify.
		s.logger.Warn("open/read notifications unavailable", "error", err)
		acc = noAccess()
	}

	if host, err := os.Hostname(); err == nil {
		s.host = host
	}

	in := make(chan model.AlertEvent)
	out := make(chan model.AlertEvent)
	s.stop = make(chan struct{})
	emit := func(p, op string) {
		t, ok := byPath[p]
		if !ok {
			return
		}
		ev := s.event(t, op)
		s.logger.Error("honeytoken accessed", "token", t.TokenID, "path", p, "op", op)
		in <- ev
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runFS(fsw, emit)
	}()
	go func() {
		defer s.wg.Done()
		acc.run(emit)
	}()
	go pump(in, out, s.stop, s.grace)

	s.closers = []func() error{fsw.Close, acc.Close}
	s.watching = true
	return out, nil
}

func (s *Set) runFS(w *fsnotify.Watcher, emit func(path, op string)) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if op := fsOp(ev.Op); op != "" {
				emit(filepath.Clean(ev.Name), op)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("honey watcher error", "error", err)
		}
	}
}

func fsOp(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	case op.Has(fsnotify.Create):
		return "create"
	default:
		return ""
	}
}

func (s *Set) event(t model.Honeytoken, op string) model.AlertEvent {
	actor := lookupActor(t.Path)
	if actor == nil && s.host != "" {
		actor = &model.ActorContext{}
	}
	if actor != nil {
		actor.Host = s.host
	}
	return model.AlertEvent{
		Kind:      model.HoneytokenAccessed,
		TokenID:   t.TokenID,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Backup:    s.Backup,
		Path:      t.Path,
		Op:        op,
	}
}

// Close stops watching and leaves the decoy on disk. Safe to call repeatedly.
func (s *Set) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	closers := s.closers
	s.closers = nil
	stop := s.stop
	s.mu.Unlock()

	var errs []error
	for _, c := range closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	if stop != nil {
		close(stop)
	}
	return errors.Join(errs...)
}

// Teardown stops watching, then removes the decoy. Watchers stop first so
// the removal itself raises no alerts. A second call is a no-op.
func (s *Set) Teardown() error {
	closeErr := s.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return nil
	}
	if err := os.RemoveAll(s.Root); err != nil {
		return errors.Join(closeErr, fmt.Errorf("honey: remove %s: %w", s.Root, err))
	}
	s.removed = true
	s.logger.Info("honey set torn down", "root", s.Root)
	return closeErr
}

// Active reports whether the set is being watched.
func (s *Set) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watching && !s.stopped
}
