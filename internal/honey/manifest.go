package honey

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one file or directory of a backup, relative to its root.
type Entry struct {
	Path string `json:"path" yaml:"path"`
	Size int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Dir  bool   `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// Manifest describes the shape of a real backup: names and sizes, no content.
type Manifest struct {
	Source  string  `json:"source,omitempty" yaml:"source,omitempty"`
	Entries []Entry `json:"entries" yaml:"entries"`
}

// BuildManifest walks root and records every directory and regular file.
func BuildManifest(root string) (Manifest, error) {
	m := Manifest{Source: root}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if d.IsDir() && d.Name() == ".backupsentry" {
			return fs.SkipDir
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			m.Entries = append(m.Entries, Entry{Path: rel, Dir: true})
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, Entry{Path: rel, Size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("honey: build manifest: %w", err)
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })
	return m, nil
}

// LoadManifest reads a manifest file. .yaml/.yml files are YAML, anything else JSON.
func LoadManifest(p string) (Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return Manifest{}, fmt.Errorf("honey: read manifest: %w", err)
	}
	var m Manifest
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("honey: parse manifest %s: %w", p, err)
	}
	return m, nil
}

// Save writes m as JSON (or YAML for .yaml/.yml paths).
func (m Manifest) Save(p string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m)
	default:
		data, err = json.MarshalIndent(m, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}

// Files returns the file paths of the manifest.
func (m Manifest) Files() []string {
	var out []string
	for _, e := range m.Entries {
		if !e.Dir {
			out = append(out, e.Path)
		}
	}
	return out
}

// clean returns the entries that are safe to mirror under a new root, with
// every parent directory made explicit.
func (m Manifest) clean() []Entry {
	seen := make(map[string]bool)
	var out []Entry
	addDir := func(d string) {
		for d != "." && d != "" && !seen[d] {
			seen[d] = true
			out = append(out, Entry{Path: d, Dir: true})
			d = path.Dir(d)
		}
	}
	for _, e := range m.Entries {
		p := path.Clean(strings.ReplaceAll(e.Path, "\\", "/"))
		if p == "." || path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
			continue
		}
		if e.Dir {
			addDir(p)
			continue
		}
		if seen[p] {
			continue
		}
		addDir(path.Dir(p))
		seen[p] = true
		out = append(out, Entry{Path: p, Size: max(e.Size, 0)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
