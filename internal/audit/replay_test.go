package audit

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTestLog creates a temp audit log with known entries for testing.
func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	base := time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)
	ts := func(s int) string { return base.Add(time.Duration(s) * time.Second).Format(TimestampFormat) }

	entries := []Entry{
		{Timestamp: ts(0), Type: TypeFileVerdict, Subject: "f-1", Backup: "nightly", Path: "/data/users.csv", Action: "encrypt", RiskScore: 45},
		{Timestamp: ts(2), Type: TypeFileVerdict, Subject: "f-2", Backup: "nightly", Path: "/data/readme.txt", Action: "pass"},
		{Timestamp: ts(4), Type: TypeFileVerdict, Subject: "f-3", Backup: "weekly", Path: "/data/x.locked", Action: "quarantine", RiskScore: 99, Partial: true},
		{Timestamp: ts(6), Type: TypeBatchVerdict, Subject: "b-1", Action: "quarantine", RiskScore: 48},
		{Timestamp: ts(8), Type: TypeAlert, Subject: "tok-1", Backup: "nightly", Kind: "honeytoken_accessed"},
		{Timestamp: ts(10), Type: TypeAlert, Subject: "f-3", Backup: "weekly", Kind: "ransomware_suspected"},
	}

	for _, e := range entries {
		if err := log.Record(e); err != nil {
			t.Fatal(err)
		}
	}

	return path
}

func TestReplayFiltersByType(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, Filter{Type: TypeFileVerdict})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 3 {
		t.Errorf("expected 3 verdict entries, got %d", len(result.Entries))
	}
	s := result.Summary
	if s.PassCount != 1 || s.EncryptCount != 1 || s.QuarantineCount != 1 {
		t.Errorf("unexpected action counts: %+v", s)
	}
	if s.MaxRiskScore != 99 {
		t.Errorf("expected max risk 99, got %d", s.MaxRiskScore)
	}
}

func TestReplayFiltersByBackupAndSubject(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, Filter{Backup: "nightly"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 3 {
		t.Errorf("expected 3 nightly entries, got %d", len(result.Entries))
	}
	if result.Summary.HoneyCount != 1 {
		t.Errorf("expected 1 honeytoken alert, got %d", result.Summary.HoneyCount)
	}

	result, err = Replay(path, Filter{Subject: "f-3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 {
		t.Errorf("expected verdict and alert for f-3, got %d", len(result.Entries))
	}
}

func TestReplayTimeRange(t *testing.T) {
	path := writeTestLog(t)
	base := time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)

	result, err := Replay(path, Filter{From: base.Add(3 * time.Second), To: base.Add(8 * time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 3 {
		t.Errorf("expected 3 entries in range, got %d", len(result.Entries))
	}
	if result.Summary.FirstTimestamp != base.Add(4*time.Second).Format(TimestampFormat) {
		t.Errorf("first timestamp = %s", result.Summary.FirstTimestamp)
	}
}

func TestReplayLimitKeepsTail(t *testing.T) {
	path := writeTestLog(t)

	result, err := Replay(path, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 2 || result.Entries[1].Kind != "ransomware_suspected" {
		t.Errorf("expected last 2 entries, got %+v", result.Entries)
	}
	if result.Summary.AlertCount != 2 {
		t.Errorf("expected 2 alerts, got %d", result.Summary.AlertCount)
	}
}

func TestReplayMissingFile(t *testing.T) {
	if _, err := Replay(filepath.Join(t.TempDir(), "nope.jsonl"), Filter{}); err == nil {
		t.Fatal("expected error for missing log")
	}
}

func TestFormatTimeline(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, Filter{})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)
	for _, want := range []string{
		"Audit | 2026-01-15 14:00:00-14:00:10 UTC",
		"ENCRYPT",
		"HONEYTOKEN_ACCESSED",
		"[partial]",
		"1 pass, 1 encrypt, 1 quarantine, 2 alerts (1 honeytoken)",
		"Max risk: 99",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}
}

func TestFormatTimelineEmpty(t *testing.T) {
	if got := FormatTimeline(&ReplayResult{}); got != "No entries found.\n" {
		t.Errorf("unexpected empty timeline %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, Filter{Type: TypeAlert})
	if err != nil {
		t.Fatal(err)
	}
	out, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}
	var parsed ReplayResult
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Summary.AlertCount != 2 {
		t.Errorf("expected 2 alerts, got %d", parsed.Summary.AlertCount)
	}
}
