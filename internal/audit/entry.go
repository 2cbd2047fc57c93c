package audit

// Entry types.
const (
	TypeFileVerdict  = "file_verdict"
	TypeBatchVerdict = "batch_verdict"
	TypeAlert        = "alert"
	TypeBackup       = "backup"
	TypeConfig       = "config" // config_hash changes only at these
)

// Entry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	Type       string `json:"type"`
	Subject    string `json:"subject"` // file id, token id, batch id, backup name or config hash
	ScanPassID string `json:"scan_pass_id,omitempty"`
	Backup     string `json:"backup,omitempty"`
	Path       string `json:"path,omitempty"`
	Action     string `json:"action,omitempty"`
	RiskScore  int    `json:"risk_score"`
	Confidence string `json:"confidence,omitempty"`
	Partial    bool   `json:"partial,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ConfigHash string `json:"config_hash"`
	PrevHash   string `json:"prev_hash"`
}
