package systemd

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Install writes both units into dir and records their SHA-256 in hashPath,
// one "<hash>  <path>" line per unit. It returns the written unit paths.
func Install(dir, hashPath, bin, configPath string) ([]string, error) {
	units := map[string]string{
		ServeUnitName: ServeUnit(bin, configPath),
		HoneyUnitName: HoneyUnit(bin, configPath),
	}
	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create unit directory: %w", err)
	}
	var (
		written []string
		hashes  strings.Builder
	)
	for _, name := range names {
		p := filepath.Join(dir, name)
		data := []byte(units[name])
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return written, fmt.Errorf("write systemd unit: %w", err)
		}
		written = append(written, p)
		h := sha256.Sum256(data)
		fmt.Fprintf(&hashes, "%s  %s\n", hex.EncodeToString(h[:]), p)
	}

	if hashPath != "" {
		if err := os.MkdirAll(filepath.Dir(hashPath), 0o700); err != nil {
			return written, err
		}
		if err := os.WriteFile(hashPath, []byte(hashes.String()), 0o600); err != nil {
			return written, fmt.Errorf("record unit hashes: %w", err)
		}
	}
	return written, nil
}

// CheckUnits compares every unit recorded in hashPath against its
// install-time hash. It returns one warning per modified or unreadable unit.
// A missing hash file means nothing was installed and yields no warnings.
func CheckUnits(hashPath string) []string {
	f, err := os.Open(hashPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var warnings []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 || len(fields[0]) != 64 {
			continue
		}
		expected, unitPath := fields[0], fields[1]
		data, err := os.ReadFile(unitPath)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot read unit file %s: %v", unitPath, err))
			continue
		}
		h := sha256.Sum256(data)
		if actual := hex.EncodeToString(h[:]); actual != expected {
			warnings = append(warnings, fmt.Sprintf("systemd unit file %s has been modified since installation (expected %s, got %s)",
				unitPath, expected[:16], actual[:16]))
		}
	}
	return warnings
}
