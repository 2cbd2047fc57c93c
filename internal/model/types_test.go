package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWorseIsMonotonic(t *testing.T) {
	order := []Action{Pass, Encrypt, Quarantine}
	for i, a := range order {
		for j, b := range order {
			got := Worse(a, b)
			want := order[max(i, j)]
			if got != want {
				t.Errorf("Worse(%s, %s) = %s, want %s", a, b, got, want)
			}
		}
	}
}

func TestParseActionFailsClosed(t *testing.T) {
	tests := map[string]Action{
		"pass":       Pass,
		"encrypt":    Encrypt,
		"quarantine": Quarantine,
		"":           Quarantine,
		"allow":      Quarantine,
		"PASS":       Quarantine,
	}
	for in, want := range tests {
		if got := ParseAction(in); got != want {
			t.Errorf("ParseAction(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestTierDowngrade(t *testing.T) {
	if High.Downgrade() != Medium || Medium.Downgrade() != Low || Low.Downgrade() != Low {
		t.Error("downgrade must step one tier and stop at low")
	}
}

func TestTierJSON(t *testing.T) {
	v := FileVerdict{FileID: "f", ConfidenceTier: High}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var back FileVerdict
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ConfidenceTier != High {
		t.Errorf("tier = %v", back.ConfidenceTier)
	}
	if err := json.Unmarshal([]byte(`{"confidence":"certain"}`), &back); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestRiskLabel(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, "Low"}, {34, "Low"}, {35, "Medium"}, {69, "Medium"}, {70, "High"}, {100, "High"},
	}
	for _, tt := range tests {
		if got := RiskLabel(tt.score); got != tt.want {
			t.Errorf("RiskLabel(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestCommittable(t *testing.T) {
	if !(BatchVerdict{WorstAction: Encrypt}).Committable() {
		t.Error("encrypt batch should be committable")
	}
	if (BatchVerdict{WorstAction: Quarantine}).Committable() {
		t.Error("quarantine batch must not be committable")
	}
}

func TestAlertKeys(t *testing.T) {
	at := time.Date(2026, 4, 1, 10, 30, 45, 0, time.UTC)
	honey := AlertEvent{Kind: HoneytokenAccessed, TokenID: "tok", FileID: "ignored", Timestamp: at}
	if honey.Subject() != "tok" {
		t.Errorf("subject = %s", honey.Subject())
	}
	if honey.Key() != "tok@2026-04-01T10:30:45Z" {
		t.Errorf("key = %s", honey.Key())
	}

	later := honey
	later.Timestamp = at.Add(10 * time.Second)
	if honey.Bucket(time.Minute) != later.Bucket(time.Minute) {
		t.Error("events in the same minute should share a bucket")
	}
	if honey.Bucket(0) == later.Bucket(0) {
		t.Error("zero window should not merge distinct seconds")
	}

	file := AlertEvent{Kind: RansomwareSuspected, FileID: "f1", Timestamp: at}
	if file.Subject() != "f1" {
		t.Errorf("subject = %s", file.Subject())
	}
}

func TestVerdictKey(t *testing.T) {
	if (FileVerdict{FileID: "a/b.txt", ScanPassID: "p1"}).Key() != "a/b.txt@p1" {
		t.Error("unexpected verdict key")
	}
}
