package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Audit | %s-%s UTC\n", first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		label := strings.ToUpper(e.Action)
		if e.Type == TypeAlert {
			label = strings.ToUpper(e.Kind)
		}
		subject := truncate(e.Subject, 14)
		where := truncate(firstNonEmpty(e.Path, e.Backup), 40)

		tag := ""
		if e.Partial {
			tag = "  [partial]"
		}

		b.WriteString(fmt.Sprintf("%-10s %-14s %-24s %3d  %-14s %-40s%s\n",
			ts, e.Type, truncate(label, 24), e.RiskScore, subject, where, tag))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.PassCount > 0 {
		parts = append(parts, fmt.Sprintf("%d pass", s.PassCount))
	}
	if s.EncryptCount > 0 {
		parts = append(parts, fmt.Sprintf("%d encrypt", s.EncryptCount))
	}
	if s.QuarantineCount > 0 {
		parts = append(parts, fmt.Sprintf("%d quarantine", s.QuarantineCount))
	}
	if s.AlertCount > 0 {
		parts = append(parts, fmt.Sprintf("%d alerts (%d honeytoken)", s.AlertCount, s.HoneyCount))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d entries", s.Total))
	}
	return fmt.Sprintf("Summary: %s | Max risk: %d\n", strings.Join(parts, ", "), s.MaxRiskScore)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
