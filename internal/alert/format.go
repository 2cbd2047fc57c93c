package alert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/backupsentry/internal/model"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, ev model.AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(ev)
	case "pagerduty":
		return formatPagerDuty(ev)
	default:
		return formatGeneric(ev)
	}
}

func formatGeneric(ev model.AlertEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func formatSlack(ev model.AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Subject:* %s", ev.Subject())},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", Severity(ev.Kind))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Time:* %s", ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))},
	}
	if ev.Backup != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Backup:* %s", ev.Backup)})
	}
	if ev.Path != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Path:* %s", ev.Path)})
	}
	if a := actorText(ev.Actor); a != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Actor:* %s", a)})
	}
	if ev.Detail != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Detail:* %s", ev.Detail)})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("backupsentry: %s", ev.Kind),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(ev model.AlertEvent) ([]byte, error) {
	details := map[string]any{
		"kind":      ev.Kind,
		"token_id":  ev.TokenID,
		"file_id":   ev.FileID,
		"backup":    ev.Backup,
		"path":      ev.Path,
		"op":        ev.Op,
		"detail":    ev.Detail,
		"timestamp": ev.Timestamp.UTC(),
	}
	if ev.Actor != nil {
		details["actor_context"] = ev.Actor
	}

	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    ev.Key(),
		"payload": map[string]any{
			"summary":        fmt.Sprintf("backupsentry %s: %s", ev.Kind, ev.Subject()),
			"severity":       Severity(ev.Kind),
			"source":         "backupsentry",
			"custom_details": details,
		},
	}
	return json.Marshal(payload)
}

// Severity maps an event kind to a PagerDuty severity.
func Severity(kind model.EventKind) string {
	switch kind {
	case model.HoneytokenAccessed:
		return "critical"
	case model.RansomwareSuspected:
		return "error"
	case model.SensitiveDataEncrypted:
		return "info"
	default:
		return "warning"
	}
}

func actorText(a *model.ActorContext) string {
	if a == nil {
		return ""
	}
	s := a.Process
	if a.PID != 0 {
		s = fmt.Sprintf("%s[%d]", s, a.PID)
	}
	if a.User != "" {
		s += " user=" + a.User
	}
	if a.Host != "" {
		s += " host=" + a.Host
	}
	if a.IP != "" {
		s += " ip=" + a.IP
	}
	return strings.TrimSpace(s)
}
