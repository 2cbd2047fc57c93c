package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ppiankov/backupsentry/internal/model"
)

// publisher is the part of *nats.Conn the sink needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on <prefix>.<kind>.
type NATSSink struct {
	pub    publisher
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials the server in cfg and returns a sink publishing to it.
func ConnectNATS(cfg NATSConfig, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("backupsentry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("alert: connect nats %s: %w", cfg.URL, err)
	}
	s := newNATSSink(nc, cfg.SubjectPrefix)
	s.conn = nc
	return s, nil
}

func newNATSSink(pub publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event of kind is published on.
func (s *NATSSink) Subject(kind model.EventKind) string {
	return s.prefix + "." + string(kind)
}

// Send implements Sink.
func (s *NATSSink) Send(ctx context.Context, ev model.AlertEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alert: marshal event: %w", err)
	}
	if err := s.pub.Publish(s.Subject(ev.Kind), data); err != nil {
		return fmt.Errorf("alert: publish %s: %w", s.Subject(ev.Kind), err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
