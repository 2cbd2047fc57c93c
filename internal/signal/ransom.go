package signal

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// Evidence weights for the heuristic ransomware classifier.
const (
	ransomEntropyWeight   = 0.75
	ransomExtensionWeight = 0.60
	ransomNoteWeight      = 0.65
)

// RansomClassifier scores how likely a file is ransomware-encrypted (or a ransom
// note). It is the default classifier when no ONNX model is configured.
type RansomClassifier struct {
	extensions []string
	notes      [][]byte
	low        float64
	high       float64
}

// NewRansomClassifier creates the heuristic classifier from cfg.
func NewRansomClassifier(cfg Config) *RansomClassifier {
	exts := make([]string, 0, len(cfg.RansomExtensions))
	for _, e := range cfg.RansomExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	notes := make([][]byte, 0, len(cfg.RansomNotes))
	for _, n := range cfg.RansomNotes {
		if n != "" {
			notes = append(notes, bytes.ToLower([]byte(n)))
		}
	}
	// Encrypted payloads sit at 7.9+ bits/byte; start counting a little lower.
	low := cfg.EntropyLow + 0.3
	high := cfg.EntropyHigh + 0.05
	return &RansomClassifier{extensions: exts, notes: notes, low: low, high: high}
}

// Name implements Extractor.
func (r *RansomClassifier) Name() string { return "classifier" }

// Score implements Extractor.
func (r *RansomClassifier) Score(ctx context.Context, in Input) (float64, error) {
	if in.Data == nil {
		return 0, &ExtractionError{Extractor: r.Name(), Path: in.Path, Err: errors.New("no content")}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ent := 0.0
	if len(in.Data) >= 256 && !KnownCompressed(in.Data) {
		ent = ramp(Entropy(in.Data), r.low, r.high)
	}

	ext := 0.0
	if r.HasRansomExtension(in.Path) {
		ext = 1
	}

	note := 0.0
	if r.looksLikeNote(in) {
		note = 1
	}

	return noisyOr(ent*ransomEntropyWeight, ext*ransomExtensionWeight, note*ransomNoteWeight), nil
}

// HasRansomExtension reports whether path ends in a known ransomware suffix.
func (r *RansomClassifier) HasRansomExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	for _, e := range r.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (r *RansomClassifier) looksLikeNote(in Input) bool {
	name := []byte(strings.ToLower(filepath.Base(in.Path)))
	head := in.Data
	if len(head) > 8192 {
		head = head[:8192]
	}
	head = bytes.ToLower(head)
	for _, n := range r.notes {
		if bytes.Contains(name, n) || bytes.Contains(head, n) {
			return true
		}
	}
	return false
}
