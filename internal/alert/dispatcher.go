package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ppiankov/backupsentry/internal/model"
)

type endpoint struct {
	cfg     WebhookConfig
	limiter *rate.Limiter
}

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	endpoints []endpoint
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []WebhookConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	d := &Dispatcher{}
	for _, c := range configs {
		ep := endpoint{cfg: c}
		if c.PerMinute > 0 {
			ep.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.PerMinute)), c.PerMinute)
		}
		d.endpoints = append(d.endpoints, ep)
	}
	return d
}

// Send posts the event to every webhook whose Events list matches. A rate
// limited endpoint waits for a token rather than dropping the alert.
func (d *Dispatcher) Send(ctx context.Context, ev model.AlertEvent) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, ep := range d.endpoints {
		if !ep.cfg.Matches(ev.Kind) {
			continue
		}
		if ep.limiter != nil {
			if err := ep.limiter.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("webhook %s: %w", ep.cfg.URL, err))
				continue
			}
		}
		if err := Post(ctx, ep.cfg, ev); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", ep.cfg.URL, err))
		}
	}
	return errors.Join(errs...)
}
