package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Filter holds the criteria for reading back the journal. Zero values match
// everything.
type Filter struct {
	Type    string
	Subject string
	Backup  string
	From    time.Time // zero value = no lower bound
	To      time.Time // zero value = no upper bound
	Limit   int       // keep only the last Limit entries; 0 = all
}

// Summary holds counts and metadata for a set of entries.
type Summary struct {
	Total           int    `json:"total"`
	PassCount       int    `json:"pass_count"`
	EncryptCount    int    `json:"encrypt_count"`
	QuarantineCount int    `json:"quarantine_count"`
	AlertCount      int    `json:"alert_count"`
	HoneyCount      int    `json:"honey_count"`
	FirstTimestamp  string `json:"first_timestamp"`
	LastTimestamp   string `json:"last_timestamp"`
	MaxRiskScore    int    `json:"max_risk_score"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Replay reads the audit log and returns entries matching the filter.
func Replay(path string, filter Filter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.match(entry) {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[len(entries)-filter.Limit:]
	}
	result := &ReplayResult{Entries: entries}
	for _, e := range entries {
		updateSummary(&result.Summary, e)
	}
	return result, nil
}

func (f Filter) match(e Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Backup != "" && e.Backup != f.Backup {
		return false
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts, err := time.Parse(TimestampFormat, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && ts.After(f.To) {
			return false
		}
	}
	return true
}

func updateSummary(s *Summary, e Entry) {
	s.Total++

	switch e.Type {
	case TypeFileVerdict:
		switch e.Action {
		case "pass":
			s.PassCount++
		case "encrypt":
			s.EncryptCount++
		case "quarantine":
			s.QuarantineCount++
		}
		if e.RiskScore > s.MaxRiskScore {
			s.MaxRiskScore = e.RiskScore
		}
	case TypeAlert:
		s.AlertCount++
		if e.Kind == "honeytoken_accessed" {
			s.HoneyCount++
		}
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
