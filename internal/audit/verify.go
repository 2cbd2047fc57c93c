package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/backupsentry/internal/model"
)

// VerifyResult holds the outcome of a journal verification. On failure the
// Error* fields locate the first bad entry.
type VerifyResult struct {
	Valid      bool   `json:"valid"`
	Lines      int    `json:"lines"`
	Error      string `json:"error,omitempty"`
	ErrorLine  int    `json:"error_line,omitempty"`
	ErrorType  string `json:"error_type,omitempty"`
	ErrorEntry string `json:"error_subject,omitempty"`
	ErrorPass  string `json:"error_scan_pass_id,omitempty"`
}

// Where describes the failing entry, e.g. `line 3 (file_verdict f-1, pass p-1)`.
func (r VerifyResult) Where() string {
	s := fmt.Sprintf("line %d", r.ErrorLine)
	if r.ErrorType == "" {
		return s
	}
	s += fmt.Sprintf(" (%s %s", r.ErrorType, r.ErrorEntry)
	if r.ErrorPass != "" {
		s += ", pass " + r.ErrorPass
	}
	return s + ")"
}

// Verify reads a JSONL journal and checks the hash chain, the shape of each
// entry for its type, and that config_hash only changes at a config entry.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	var (
		prevLine   []byte
		prev       Entry
		configHash string
	)

	for scanner.Scan() {
		lineNum++
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Error: fmt.Sprintf("parse error: %v", err), ErrorLine: lineNum}
		}
		fail := func(format string, args ...any) VerifyResult {
			return VerifyResult{
				Error:      fmt.Sprintf(format, args...),
				ErrorLine:  lineNum,
				ErrorType:  entry.Type,
				ErrorEntry: entry.Subject,
				ErrorPass:  entry.ScanPassID,
			}
		}

		if lineNum == 1 {
			if entry.PrevHash != GenesisHash {
				return fail("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
		} else if want := HashLine(prevLine); entry.PrevHash != want {
			return fail("hash mismatch after %s %s: expected %s, got %s",
				prev.Type, prev.Subject, want, entry.PrevHash)
		}

		if err := checkEntry(entry); err != nil {
			return fail("%v", err)
		}

		switch {
		case entry.Type == TypeConfig:
			configHash = entry.ConfigHash
		case lineNum == 1:
			configHash = entry.ConfigHash
		case entry.ConfigHash != configHash:
			return fail("config_hash changed from %q to %q without a config entry",
				configHash, entry.ConfigHash)
		}

		prevLine = line
		prev = entry
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	return VerifyResult{Valid: true, Lines: lineNum}
}

var alertKinds = map[string]bool{
	string(model.HoneytokenAccessed):     true,
	string(model.RansomwareSuspected):    true,
	string(model.SensitiveDataEncrypted): true,
}

func checkEntry(e Entry) error {
	switch e.Type {
	case TypeFileVerdict, TypeBatchVerdict:
		if e.ScanPassID == "" {
			return fmt.Errorf("%s without scan pass", e.Type)
		}
		if _, ok := model.ActionRank[model.Action(e.Action)]; !ok {
			return fmt.Errorf("unknown action %q", e.Action)
		}
	case TypeAlert:
		if !alertKinds[e.Kind] {
			return fmt.Errorf("unknown alert kind %q", e.Kind)
		}
	case TypeBackup:
		if e.Backup == "" {
			return fmt.Errorf("backup entry without backup name")
		}
	case TypeConfig:
		if e.Subject != e.ConfigHash {
			return fmt.Errorf("config entry subject %q does not match config_hash %q", e.Subject, e.ConfigHash)
		}
	default:
		return fmt.Errorf("unknown entry type %q", e.Type)
	}
	return nil
}
