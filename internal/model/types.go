package model

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Action is the per-file (and per-batch) outcome of the decision controller.
type Action string

const (
	Pass       Action = "pass"
	Encrypt    Action = "encrypt"
	Quarantine Action = "quarantine"
)

// ActionRank orders actions for batch aggregation: Quarantine > Encrypt > Pass.
var ActionRank = map[Action]int{
	Pass:       0,
	Encrypt:    1,
	Quarantine: 2,
}

// Worse returns the more restrictive of two actions.
func Worse(a, b Action) Action {
	if ActionRank[b] > ActionRank[a] {
		return b
	}
	return a
}

// ParseAction maps a string to an Action. Fail-closed: unknown → Quarantine.
func ParseAction(s string) Action {
	switch Action(s) {
	case Pass, Encrypt, Quarantine:
		return Action(s)
	default:
		return Quarantine
	}
}

// ConfidenceTier is the qualitative certainty attached to a context score.
type ConfidenceTier int

const (
	Low ConfidenceTier = iota
	Medium
	High
)

// String returns the lowercase tier label used in configs and reports.
func (t ConfidenceTier) String() string {
	switch t {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Downgrade lowers the tier by one level, never below Low.
func (t ConfidenceTier) Downgrade() ConfidenceTier {
	if t <= Low {
		return Low
	}
	return t - 1
}

// MarshalText implements encoding.TextMarshaler so tiers serialize as labels.
func (t ConfidenceTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ConfidenceTier) UnmarshalText(b []byte) error {
	tier, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

// ParseTier parses a tier label.
func ParseTier(s string) (ConfidenceTier, error) {
	switch s {
	case "low":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	default:
		return Low, fmt.Errorf("unknown confidence tier %q", s)
	}
}

// FileSignal holds the three normalized extractor scores for one file in one scan pass.
// Immutable once produced.
type FileSignal struct {
	FileID          string   `json:"file_id"`
	Path            string   `json:"path,omitempty"`
	HeuristicScore  float64  `json:"heuristic_score"`
	SensitiveScore  float64  `json:"sensitive_score"`
	ClassifierScore float64  `json:"classifier_score"`
	Partial         bool     `json:"partial"`
	Failed          []string `json:"failed_extractors,omitempty"`
	Entities        []string `json:"entities,omitempty"`
	Size            int64    `json:"size"`

	// Digest covers the whole file, including any tail beyond the scan read
	// limit. Truncated is set when such a tail exists.
	Digest    string `json:"digest,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// FormatDigest renders a SHA-256 sum the way signals and verdicts carry it.
func FormatDigest(sum []byte) string {
	return "sha256:" + hex.EncodeToString(sum)
}

// Scores returns the component scores in fusion order (heuristic, sensitive, classifier).
func (s FileSignal) Scores() [3]float64 {
	return [3]float64{s.HeuristicScore, s.SensitiveScore, s.ClassifierScore}
}

// FileVerdict is the decided outcome for one file. Never mutated after creation;
// a re-scan supersedes it with a new verdict under a new scan pass id.
type FileVerdict struct {
	FileID         string         `json:"file_id"`
	ScanPassID     string         `json:"scan_pass_id"`
	Path           string         `json:"path,omitempty"`
	RiskScore      int            `json:"risk_score"`
	ContextScore   float64        `json:"context_score"`
	ConfidenceTier ConfidenceTier `json:"confidence"`
	Action         Action         `json:"action"`
	Partial        bool           `json:"partial"`
	Entities       []string       `json:"entities,omitempty"`
	Reasons        []string       `json:"reasons,omitempty"`
	DecidedAt      time.Time      `json:"decided_at"`

	// Size and Digest identify the exact bytes the verdict was decided on.
	Size   int64  `json:"size,omitempty"`
	Digest string `json:"digest,omitempty"`
}

// Key returns the idempotent storage key for the verdict.
func (v FileVerdict) Key() string {
	return v.FileID + "@" + v.ScanPassID
}

// RiskLabel buckets a risk score for reports: >=70 high, >=35 medium, else low.
func RiskLabel(score int) string {
	switch {
	case score >= 70:
		return "High"
	case score >= 35:
		return "Medium"
	default:
		return "Low"
	}
}

// BatchVerdict aggregates the FileVerdicts of one backup batch. Read-only once created.
type BatchVerdict struct {
	BatchID          string    `json:"batch_id"`
	ScanPassID       string    `json:"scan_pass_id"`
	WorstAction      Action    `json:"worst_action"`
	TotalFiles       int       `json:"total_files"`
	QuarantinedCount int       `json:"quarantined_count"`
	EncryptedCount   int       `json:"encrypted_count"`
	PassedCount      int       `json:"passed_count"`
	PartialCount     int       `json:"partial_count"`
	AvgRiskScore     float64   `json:"avg_risk_score"`
	RiskLabel        string    `json:"risk_label"`
	RenamedSuffixes  []string  `json:"renamed_suffixes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Committable reports whether the batch may reach primary storage.
// Any Quarantine verdict blocks the whole batch (fail closed).
func (b BatchVerdict) Committable() bool {
	return b.WorstAction != Quarantine
}

// EventKind classifies an AlertEvent.
type EventKind string

const (
	HoneytokenAccessed     EventKind = "honeytoken_accessed"
	RansomwareSuspected    EventKind = "ransomware_suspected"
	SensitiveDataEncrypted EventKind = "sensitive_data_encrypted"
)

// ActorContext is best-effort provenance for an access. Any field may be empty.
type ActorContext struct {
	Host    string `json:"host,omitempty"`
	User    string `json:"user,omitempty"`
	Process string `json:"process,omitempty"`
	PID     int    `json:"pid,omitempty"`
	IP      string `json:"ip,omitempty"`
}

// AlertEvent is an append-only record emitted to the audit/alert sinks.
type AlertEvent struct {
	Kind      EventKind     `json:"kind"`
	TokenID   string        `json:"token_id,omitempty"`
	FileID    string        `json:"file_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Actor     *ActorContext `json:"actor_context,omitempty"`
	Backup    string        `json:"backup,omitempty"`
	Path      string        `json:"path,omitempty"`
	Op        string        `json:"op,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Subject returns the token id for honeytoken events, otherwise the file id.
func (e AlertEvent) Subject() string {
	if e.TokenID != "" {
		return e.TokenID
	}
	return e.FileID
}

// Key returns the idempotent storage key (subject + timestamp).
func (e AlertEvent) Key() string {
	return e.Subject() + "@" + e.Timestamp.UTC().Format(time.RFC3339Nano)
}

// Bucket returns the dedupe key for the event: (subject, kind, timestamp bucket).
func (e AlertEvent) Bucket(window time.Duration) string {
	ts := e.Timestamp.UTC()
	if window > 0 {
		ts = ts.Truncate(window)
	}
	return fmt.Sprintf("%s|%s|%d", e.Subject(), e.Kind, ts.Unix())
}

// Honeytoken is a decoy marker whose access is a compromise indicator. Immutable.
type Honeytoken struct {
	TokenID   string    `json:"token_id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// HoneySetRecord is the persisted description of a honey backup set.
type HoneySetRecord struct {
	ID        string       `json:"id"`
	Backup    string       `json:"backup"`
	Root      string       `json:"root"`
	Tokens    []Honeytoken `json:"tokens"`
	CreatedAt time.Time    `json:"created_at"`
}

// BackupStatus is the lifecycle state of a backup record.
type BackupStatus string

const (
	BackupCommitted   BackupStatus = "committed"
	BackupQuarantined BackupStatus = "quarantined"
)

// BackupRecord is one entry of the backup catalog.
type BackupRecord struct {
	Name           string          `json:"name"`
	SourcePath     string          `json:"source_path"`
	Location       string          `json:"location"`
	Status         BackupStatus    `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	TotalFiles     int             `json:"total_files"`
	SensitiveFiles int             `json:"sensitive_files"`
	EncryptedFiles int             `json:"encrypted_files"`
	AvgRiskScore   float64         `json:"avg_risk_score"`
	RiskLabel      string          `json:"risk_label"`
	Batch          BatchVerdict    `json:"batch"`
	Honey          *HoneySetRecord `json:"honey,omitempty"`
	QuarantineRef  string          `json:"quarantine_ref,omitempty"`

	// Files lists the source-relative paths of the pass, for mass-rename
	// detection on the next backup of the same source.
	Files []string `json:"files,omitempty"`
}
