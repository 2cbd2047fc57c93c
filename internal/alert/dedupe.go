package alert

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ppiankov/backupsentry/internal/model"
)

// Deduper drops repeats of an event within the same (subject, kind,
// timestamp bucket). A burst of inotify and fsnotify notifications for one
// read collapses to a single alert. An event is only remembered once the
// wrapped sink accepted it, so failed deliveries can be retried.
type Deduper struct {
	next   Sink
	window time.Duration

	mu   sync.Mutex
	seen *lru.Cache[string, struct{}]
}

// NewDeduper wraps next. size bounds the number of remembered keys.
func NewDeduper(next Sink, window time.Duration, size int) (*Deduper, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &Deduper{next: next, window: window, seen: c}, nil
}

// Send implements Sink.
func (d *Deduper) Send(ctx context.Context, ev model.AlertEvent) error {
	key := ev.Bucket(d.window)
	d.mu.Lock()
	dup := d.seen.Contains(key)
	d.mu.Unlock()
	if dup {
		return nil
	}
	if err := d.next.Send(ctx, ev); err != nil {
		return err
	}
	d.mu.Lock()
	d.seen.Add(key, struct{}{})
	d.mu.Unlock()
	return nil
}
