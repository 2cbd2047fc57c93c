package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/backupsentry/internal/model"
)

func sample() Report {
	return New("/src", model.BatchVerdict{ScanPassID: "p1", WorstAction: model.Quarantine}, []model.FileVerdict{
		{FileID: "hr/ids.txt", RiskScore: 45, ContextScore: 0.49512, ConfidenceTier: model.Medium, Action: model.Encrypt, Entities: []string{"aadhaar", "pan"}},
		{FileID: "x.locked", RiskScore: 99, ContextScore: 0.64766, ConfidenceTier: model.High, Action: model.Quarantine, Partial: true},
		{FileID: "readme.txt", ConfidenceTier: model.Low, Action: model.Pass},
	})
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "csv", sample()); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "file_path,entities,confidence,context_score,risk_score,risk_label,action,partial" {
		t.Errorf("header = %v", rows[0])
	}
	want := []string{"hr/ids.txt", "aadhaar;pan", "medium", "0.4951", "45", "Medium", "encrypt", "false"}
	if strings.Join(rows[1], ",") != strings.Join(want, ",") {
		t.Errorf("row 1 = %v, want %v", rows[1], want)
	}
	if rows[2][5] != "High" || rows[2][7] != "true" {
		t.Errorf("row 2 = %v", rows[2])
	}
	if rows[3][1] != "" || rows[3][5] != "Low" {
		t.Errorf("row 3 = %v", rows[3])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, "JSON", sample()); err != nil {
		t.Fatal(err)
	}
	var back Report
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if back.ScanPassID != "p1" || len(back.Files) != 3 {
		t.Fatalf("unexpected report: %+v", back)
	}
	if back.Files[2].Entities == nil {
		t.Error("entities should serialize as [] not null")
	}
	if !strings.Contains(buf.String(), "\n  \"scan_pass_id\"") {
		t.Error("expected indented JSON")
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, "xml", sample()); err == nil {
		t.Fatal("expected error")
	}
}
