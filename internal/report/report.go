// Package report exports scan results as JSON or CSV.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
)

// Header is the CSV column order.
var Header = []string{"file_path", "entities", "confidence", "context_score", "risk_score", "risk_label", "action", "partial"}

// Row is one file of a report.
type Row struct {
	FilePath     string       `json:"file_path"`
	Entities     []string     `json:"entities"`
	Confidence   string       `json:"confidence"`
	ContextScore float64      `json:"context_score"`
	RiskScore    int          `json:"risk_score"`
	RiskLabel    string       `json:"risk_label"`
	Action       model.Action `json:"action"`
	Partial      bool         `json:"partial"`
	Reasons      []string     `json:"reasons,omitempty"`
}

// Report is a scan pass ready for export.
type Report struct {
	ScanPassID  string             `json:"scan_pass_id"`
	Source      string             `json:"source,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
	Batch       model.BatchVerdict `json:"batch"`
	Files       []Row              `json:"files"`
}

// New builds a report from a batch and its verdicts.
func New(source string, batch model.BatchVerdict, verdicts []model.FileVerdict) Report {
	r := Report{
		ScanPassID:  batch.ScanPassID,
		Source:      source,
		GeneratedAt: time.Now().UTC(),
		Batch:       batch,
		Files:       make([]Row, 0, len(verdicts)),
	}
	for _, v := range verdicts {
		path := v.FileID
		if path == "" {
			path = v.Path
		}
		entities := v.Entities
		if entities == nil {
			entities = []string{}
		}
		r.Files = append(r.Files, Row{
			FilePath:     path,
			Entities:     entities,
			Confidence:   v.ConfidenceTier.String(),
			ContextScore: v.ContextScore,
			RiskScore:    v.RiskScore,
			RiskLabel:    model.RiskLabel(v.RiskScore),
			Action:       v.Action,
			Partial:      v.Partial,
			Reasons:      v.Reasons,
		})
	}
	return r
}

// Write renders r in format ("json" or "csv").
func Write(w io.Writer, format string, r Report) error {
	switch strings.ToLower(format) {
	case "json", "":
		return WriteJSON(w, r)
	case "csv":
		return WriteCSV(w, r)
	default:
		return fmt.Errorf("report: unknown format %q (want json or csv)", format)
	}
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encode json: %w", err)
	}
	return nil
}

// WriteCSV writes one row per file. Entities are joined with ';'.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("report: write csv: %w", err)
	}
	for _, row := range r.Files {
		rec := []string{
			row.FilePath,
			strings.Join(row.Entities, ";"),
			row.Confidence,
			strconv.FormatFloat(row.ContextScore, 'f', 4, 64),
			strconv.Itoa(row.RiskScore),
			row.RiskLabel,
			string(row.Action),
			strconv.FormatBool(row.Partial),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("report: write csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: write csv: %w", err)
	}
	return nil
}
