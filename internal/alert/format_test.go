package alert

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/backupsentry/internal/model"
)

func TestFormatSlack(t *testing.T) {
	body, err := FormatPayload("slack", honeyEvent())
	if err != nil {
		t.Fatal(err)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	blocks, ok := payload["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", payload["blocks"])
	}
	s := string(body)
	for _, want := range []string{"backupsentry: honeytoken_accessed", "tok-1", "nightly", "cat[4242]", "user=mallory"} {
		if !strings.Contains(s, want) {
			t.Errorf("slack payload missing %q", want)
		}
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		kind model.EventKind
		want string
	}{
		{model.HoneytokenAccessed, "critical"},
		{model.RansomwareSuspected, "error"},
		{model.SensitiveDataEncrypted, "info"},
		{model.EventKind("other"), "warning"},
	}
	for _, tt := range tests {
		ev := honeyEvent()
		ev.Kind = tt.kind
		body, err := FormatPayload("pagerduty", ev)
		if err != nil {
			t.Fatal(err)
		}
		var payload struct {
			EventAction string `json:"event_action"`
			DedupKey    string `json:"dedup_key"`
			Payload     struct {
				Severity string `json:"severity"`
				Source   string `json:"source"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.EventAction != "trigger" {
			t.Errorf("event_action = %q", payload.EventAction)
		}
		if payload.Payload.Severity != tt.want {
			t.Errorf("%s: severity = %q, want %q", tt.kind, payload.Payload.Severity, tt.want)
		}
		if payload.DedupKey != ev.Key() {
			t.Errorf("dedup_key = %q, want %q", payload.DedupKey, ev.Key())
		}
	}
}

func TestActorTextEmpty(t *testing.T) {
	if got := actorText(nil); got != "" {
		t.Errorf("nil actor = %q", got)
	}
	if got := actorText(&model.ActorContext{Host: "h"}); got != "host=h" {
		t.Errorf("host-only actor = %q", got)
	}
}
