package alert

import (
	"context"
	"log/slog"

	"github.com/ppiankov/backupsentry/internal/model"
)

// Relay drains stream into sink until the stream closes or ctx is done. It
// returns the number of events the sink accepted. Delivery failures are
// logged and do not stop the relay.
func Relay(ctx context.Context, stream <-chan model.AlertEvent, sink Sink, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered
		case ev, ok := <-stream:
			if !ok {
				return delivered
			}
			if err := sink.Send(ctx, ev); err != nil {
				logger.Warn("alert delivery failed", "kind", ev.Kind, "subject", ev.Subject(), "error", err)
				continue
			}
			delivered++
		}
	}
}
