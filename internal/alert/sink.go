package alert

import (
	"context"
	"errors"

	"github.com/ppiankov/backupsentry/internal/model"
)

// Sink receives alert events. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, ev model.AlertEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev model.AlertEvent) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, ev model.AlertEvent) error { return f(ctx, ev) }

// Fanout delivers every event to all sinks, in order. A failing sink does not
// stop delivery to the rest.
type Fanout []Sink

// Send implements Sink.
func (f Fanout) Send(ctx context.Context, ev model.AlertEvent) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder persists alert events. The store and the audit log both satisfy it.
type Recorder interface {
	RecordAlert(ctx context.Context, ev model.AlertEvent) error
}

// Record returns a sink that writes events to r.
func Record(r Recorder) Sink {
	return SinkFunc(r.RecordAlert)
}
