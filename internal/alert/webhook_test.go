package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
)

func init() {
	retryDelay = 10 * time.Millisecond
}

func honeyEvent() model.AlertEvent {
	return model.AlertEvent{
		Kind:      model.HoneytokenAccessed,
		TokenID:   "tok-1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Backup:    "nightly",
		Path:      "/honey/finance/q1.xlsx",
		Op:        "open",
		Actor:     &model.ActorContext{Host: "db1", User: "mallory", Process: "cat", PID: 4242},
	}
}

func counting(status int) (*httptest.Server, *atomic.Int32) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	return srv, &called
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := counting(http.StatusOK)
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"honeytoken_accessed"}},
	})

	if err := d.Send(context.Background(), honeyEvent()); err != nil {
		t.Fatal(err)
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := counting(http.StatusOK)
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{
		{URL: srv.URL, Format: "generic", Events: []string{"ransomware_suspected"}},
	})

	if err := d.Send(context.Background(), honeyEvent()); err != nil {
		t.Fatal(err)
	}
	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchEmptyEventsMatchesAll(t *testing.T) {
	srv, called := counting(http.StatusOK)
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}})
	for _, k := range []model.EventKind{model.HoneytokenAccessed, model.RansomwareSuspected, model.SensitiveDataEncrypted} {
		ev := honeyEvent()
		ev.Kind = k
		if err := d.Send(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
	if called.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := counting(http.StatusOK)
	defer srv1.Close()
	srv2, called2 := counting(http.StatusOK)
	defer srv2.Close()

	d := NewDispatcher([]WebhookConfig{
		{URL: srv1.URL, Format: "generic", Events: []string{"honeytoken_accessed"}},
		{URL: srv2.URL, Format: "slack", Events: []string{"honeytoken_accessed", "ransomware_suspected"}},
	})

	if err := d.Send(context.Background(), honeyEvent()); err != nil {
		t.Fatal(err)
	}
	if called1.Load()+called2.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called1.Load()+called2.Load())
	}
}

func TestNilDispatcher(t *testing.T) {
	d := NewDispatcher(nil)
	if d != nil {
		t.Fatal("expected nil dispatcher for empty config")
	}
	if err := d.Send(context.Background(), honeyEvent()); err != nil {
		t.Errorf("nil dispatcher should be a no-op, got %v", err)
	}
}

func TestPostRetriesOn5xx(t *testing.T) {
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := Post(context.Background(), WebhookConfig{URL: srv.URL}, honeyEvent()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if called.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", called.Load())
	}
}

func TestPostGivesUpAfterMaxRetries(t *testing.T) {
	srv, called := counting(http.StatusInternalServerError)
	defer srv.Close()

	err := Post(context.Background(), WebhookConfig{URL: srv.URL}, honeyEvent())
	if err == nil {
		t.Fatal("expected error")
	}
	if called.Load() != maxRetries {
		t.Errorf("expected %d attempts, got %d", maxRetries, called.Load())
	}
}

func TestPostNoRetryOn4xx(t *testing.T) {
	srv, called := counting(http.StatusForbidden)
	defer srv.Close()

	err := Post(context.Background(), WebhookConfig{URL: srv.URL}, honeyEvent())
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Fatalf("expected rejection, got %v", err)
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", called.Load())
	}
}

func TestPostStopsOnCancel(t *testing.T) {
	srv, _ := counting(http.StatusServiceUnavailable)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Post(ctx, WebhookConfig{URL: srv.URL}, honeyEvent())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPostSendsHeaders(t *testing.T) {
	var gotAuth, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := WebhookConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer s3cret"}}
	if err := Post(context.Background(), cfg, honeyEvent()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer s3cret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
}

func TestGenericPayloadSchema(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := Post(context.Background(), WebhookConfig{URL: srv.URL}, honeyEvent()); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"kind", "token_id", "timestamp", "actor_context"} {
		if _, ok := body[k]; !ok {
			t.Errorf("generic payload missing %q: %v", k, body)
		}
	}
	if body["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
}

func TestRateLimitedDispatcherWaits(t *testing.T) {
	srv, called := counting(http.StatusOK)
	defer srv.Close()

	// One token per minute with a burst of one: the second send must wait.
	d := NewDispatcher([]WebhookConfig{{URL: srv.URL, PerMinute: 1}})
	if err := d.Send(context.Background(), honeyEvent()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := d.Send(ctx, honeyEvent()); err == nil {
		t.Fatal("expected the limiter to block past the deadline")
	}
	if called.Load() != 1 {
		t.Errorf("expected 1 delivered call, got %d", called.Load())
	}
}
