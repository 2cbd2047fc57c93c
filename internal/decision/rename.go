package decision

import (
	"path/filepath"
	"sort"
	"strings"
)

// dataExtensions are ordinary document and data suffixes. A second suffix
// appended after one of these is how most ransomware marks its victims.
var dataExtensions = map[string]bool{
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".odt": true, ".ods": true, ".rtf": true, ".pdf": true, ".txt": true, ".csv": true,
	".json": true, ".xml": true, ".yaml": true, ".yml": true, ".md": true, ".sql": true,
	".db": true, ".sqlite": true, ".bak": true, ".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".mp4": true, ".mov": true, ".zip": true, ".tar": true, ".gz": true,
	".7z": true, ".key": true, ".pem": true, ".html": true,
}

// benignOuter are suffixes that legitimately follow a data extension (report.csv.gz).
var benignOuter = map[string]bool{
	".gz": true, ".bz2": true, ".xz": true, ".zst": true, ".zip": true, ".bak": true,
	".old": true, ".orig": true, ".tmp": true, ".part": true, ".sig": true, ".asc": true,
}

// DetectMassRename returns the suffixes that many files of the current scan
// pass gained in common. previous is the file list of the last pass (may be
// nil); current is this pass. A suffix is flagged when it is carried by at
// least MinFiles files and at least MinFraction of the batch.
func DetectMassRename(previous, current []string, cfg MassRenameConfig) []string {
	if !cfg.Enabled || len(current) == 0 {
		return nil
	}

	known := make(map[string]bool, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		known[e] = true
	}

	before := make(map[string]bool, len(previous))
	for _, p := range previous {
		before[filepath.ToSlash(p)] = true
	}

	counts := make(map[string]int)
	for _, p := range current {
		if s := unexpectedSuffix(filepath.ToSlash(p), before, known); s != "" {
			counts[s]++
		}
	}

	var flagged []string
	for suffix, n := range counts {
		if n < cfg.MinFiles {
			continue
		}
		if float64(n)/float64(len(current)) < cfg.MinFraction {
			continue
		}
		flagged = append(flagged, suffix)
	}
	sort.Strings(flagged)
	return flagged
}

// unexpectedSuffix returns the suffix that marks p as renamed, or "".
func unexpectedSuffix(p string, before, known map[string]bool) string {
	ext := strings.ToLower(filepath.Ext(p))
	if ext == "" {
		return ""
	}
	stem := strings.TrimSuffix(p, filepath.Ext(p))

	// The file existed last pass without this suffix.
	if before[stem] && !before[p] {
		return ext
	}
	if known[ext] {
		return ext
	}
	inner := strings.ToLower(filepath.Ext(stem))
	if dataExtensions[inner] && !dataExtensions[ext] && !benignOuter[ext] {
		return ext
	}
	return ""
}

// HasSuffix reports whether p ends in any of the flagged suffixes.
func HasSuffix(p string, suffixes []string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, s := range suffixes {
		if ext == s {
			return true
		}
	}
	return false
}
