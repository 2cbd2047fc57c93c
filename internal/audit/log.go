package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL audit log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous entry's JSON line,
// forming a tamper-evident chain.
type Log struct {
	path       string
	file       *os.File
	prevHash   string
	configHash string
	mu         sync.Mutex
}

// Open opens (or creates) an audit log file for appending.
// If the file already exists, it reads the last line to recover the chain tail.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	var configHash string

	// Read existing file to find chain tail
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audit: read existing log: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = make([]byte, len(scanner.Bytes()))
			copy(lastLine, scanner.Bytes())
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("audit: scan existing log: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
			var last Entry
			if json.Unmarshal(lastLine, &last) == nil {
				configHash = last.ConfigHash
			}
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{
		path:       path,
		file:       file,
		prevHash:   prevHash,
		configHash: configHash,
	}, nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// SetConfigHash sets the configuration hash stamped on subsequent entries.
// Called again after a hot reload. When the hash differs from the one in
// force at the log tail, a config entry is journaled first.
func (l *Log) SetConfigHash(h string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h == l.configHash {
		return nil
	}
	l.configHash = h
	return l.write(Entry{Type: TypeConfig, Subject: h, Reason: "config loaded"})
}

// Record appends an Entry to the log with hash chaining.
// It sets the entry's PrevHash, ConfigHash and Timestamp (if empty),
// marshals to JSON, writes the line, and syncs to disk.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(entry)
}

func (l *Log) write(entry Entry) error {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	if entry.ConfigHash == "" {
		entry.ConfigHash = l.configHash
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// RecordVerdict journals a file verdict.
func (l *Log) RecordVerdict(_ context.Context, v model.FileVerdict) error {
	return l.Record(Entry{
		Timestamp:  stamp(v.DecidedAt),
		Type:       TypeFileVerdict,
		Subject:    v.FileID,
		ScanPassID: v.ScanPassID,
		Path:       v.Path,
		Action:     string(v.Action),
		RiskScore:  v.RiskScore,
		Confidence: v.ConfidenceTier.String(),
		Partial:    v.Partial,
		Reason:     strings.Join(v.Reasons, "; "),
	})
}

// RecordBatch journals a batch verdict.
func (l *Log) RecordBatch(_ context.Context, b model.BatchVerdict) error {
	reason := fmt.Sprintf("%d files: %d quarantined, %d encrypted, %d passed, %d partial",
		b.TotalFiles, b.QuarantinedCount, b.EncryptedCount, b.PassedCount, b.PartialCount)
	if len(b.RenamedSuffixes) > 0 {
		reason += "; mass rename " + strings.Join(b.RenamedSuffixes, ",")
	}
	return l.Record(Entry{
		Timestamp:  stamp(b.CreatedAt),
		Type:       TypeBatchVerdict,
		Subject:    b.BatchID,
		ScanPassID: b.ScanPassID,
		Action:     string(b.WorstAction),
		RiskScore:  int(b.AvgRiskScore + 0.5),
		Reason:     reason,
	})
}

// RecordAlert journals an alert event. Log satisfies alert.Recorder.
func (l *Log) RecordAlert(_ context.Context, ev model.AlertEvent) error {
	reason := ev.Detail
	if ev.Op != "" {
		reason = strings.TrimSpace("op=" + ev.Op + " " + reason)
	}
	if a := ev.Actor; a != nil && (a.Process != "" || a.User != "") {
		reason += fmt.Sprintf(" actor=%s/%s pid=%d", a.User, a.Process, a.PID)
	}
	return l.Record(Entry{
		Timestamp: stamp(ev.Timestamp),
		Type:      TypeAlert,
		Subject:   ev.Subject(),
		Backup:    ev.Backup,
		Path:      ev.Path,
		Kind:      string(ev.Kind),
		Reason:    strings.TrimSpace(reason),
	})
}

// RecordBackup journals a backup catalog change (create or delete).
func (l *Log) RecordBackup(_ context.Context, rec model.BackupRecord, op string) error {
	return l.Record(Entry{
		Type:      TypeBackup,
		Subject:   rec.Name,
		Backup:    rec.Name,
		Path:      rec.SourcePath,
		Action:    string(rec.Batch.WorstAction),
		RiskScore: int(rec.AvgRiskScore + 0.5),
		Kind:      string(rec.Status),
		Reason:    op,
	})
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampFormat)
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
