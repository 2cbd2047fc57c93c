package honey

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/backupsentry/internal/model"
)

// tokenNames are file names an intruder goes looking for.
var tokenNames = []string{
	"passwords.xlsx",
	"aws_credentials.csv",
	"payroll_2025.xlsx",
	"id_rsa.bak",
	"customer_export.csv",
	"vpn-config.ovpn",
	"wallet-backup.dat",
	"hr_salaries.docx",
	"db_root_password.txt",
	"bank_accounts.pdf",
}

const fillerText = "Quarterly summary. Figures are provisional and subject to audit review. " +
	"See the shared drive for supporting schedules and prior period comparisons.\n"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// placeTokens picks the relative directory for each of n tokens.
func placeTokens(strategy string, dirs []string, n int, rnd *rand.Rand) []string {
	out := make([]string, n)
	switch strategy {
	case PlaceRoot:
		for i := range out {
			out[i] = "."
		}
	case PlaceRandom:
		for i := range out {
			out[i] = dirs[rnd.IntN(len(dirs))]
		}
	default: // spread
		sorted := append([]string(nil), dirs...)
		sort.SliceStable(sorted, func(i, j int) bool {
			di, dj := depth(sorted[i]), depth(sorted[j])
			if di != dj {
				return di < dj
			}
			return sorted[i] < sorted[j]
		})
		for i := range out {
			out[i] = sorted[i%len(sorted)]
		}
	}
	return out
}

func depth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// Create builds a decoy mirroring m under cfg.Dir and seeds it with
// cfg.TokenCount honeytokens. On failure nothing is left on disk.
func Create(backup string, m Manifest, cfg Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &HoneyCreationError{Backup: backup, Err: err}
	}
	entries := m.clean()
	if len(entries) == 0 {
		return nil, &HoneyCreationError{Backup: backup, Err: ErrEmptyManifest}
	}

	id := uuid.NewString()
	base, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, &HoneyCreationError{Backup: backup, Err: err}
	}
	name := strings.Trim(unsafeName.ReplaceAllString(backup, "_"), "_")
	if name == "" {
		name = "backup"
	}
	root := filepath.Join(base, name+"-"+id[:8])
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, &HoneyCreationError{Backup: backup, Err: err}
	}
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, &HoneyCreationError{Backup: backup, Err: err}
	}

	set, err := populate(root, entries, cfg)
	if err != nil {
		if rmErr := os.RemoveAll(root); rmErr != nil {
			logger.Warn("honey cleanup failed", "root", root, "error", rmErr)
		}
		return nil, &HoneyCreationError{Backup: backup, Err: err}
	}
	set.ID = id
	set.Backup = backup
	set.logger = logger.With("honey_set", id, "backup", backup)
	set.grace = cfg.DrainGrace
	logger.Info("honey set created", "backup", backup, "root", root, "tokens", len(set.Tokens))
	return set, nil
}

func populate(root string, entries []Entry, cfg Config) (*Set, error) {
	dirs := []string{"."}
	taken := make(map[string]bool)
	for _, e := range entries {
		full := filepath.Join(root, filepath.FromSlash(e.Path))
		if e.Dir {
			if err := os.MkdirAll(full, 0o755); err != nil {
				return nil, err
			}
			dirs = append(dirs, e.Path)
			continue
		}
		size := e.Size
		if size > cfg.MaxFillerBytes {
			size = cfg.MaxFillerBytes
		}
		if err := writeFiller(full, size); err != nil {
			return nil, err
		}
		taken[e.Path] = true
	}

	rnd := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	placed := placeTokens(cfg.Placement, dirs, cfg.TokenCount, rnd)
	now := time.Now().UTC()

	set := &Set{Root: root, CreatedAt: now}
	for i, dir := range placed {
		tokenID := uuid.NewString()
		fileName := tokenNames[i%len(tokenNames)]
		rel := path.Join(dir, fileName)
		for n := 1; taken[rel]; n++ {
			rel = path.Join(dir, fmt.Sprintf("%d_%s", n, fileName))
		}
		taken[rel] = true

		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.WriteFile(full, tokenContent(fileName, tokenID), 0o644); err != nil {
			return nil, err
		}
		set.Tokens = append(set.Tokens, model.Honeytoken{TokenID: tokenID, Path: full, CreatedAt: now})
	}
	return set, nil
}

func writeFiller(p string, size int64) error {
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	line := []byte(fillerText)
	for written := int64(0); written < size; {
		chunk := line
		if rem := size - written; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}
		n, err := f.Write(chunk)
		if err != nil {
			f.Close()
			return err
		}
		written += int64(n)
	}
	return f.Close()
}

// tokenContent renders believable decoy content with the token id embedded.
func tokenContent(name, tokenID string) []byte {
	short := strings.ReplaceAll(tokenID, "-", "")
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return fmt.Appendf(nil, "account,username,secret,ref\nprod,svc-backup,%s,%s\n", short[:20], tokenID)
	case ".ovpn":
		return fmt.Appendf(nil, "client\nremote vpn.internal 1194\n# ref %s\n", tokenID)
	case ".txt", ".bak":
		return fmt.Appendf(nil, "user=root\npassword=%s\nref=%s\n", short[:16], tokenID)
	default:
		return fmt.Appendf(nil, "CONFIDENTIAL\nref: %s\nkey: %s\n", tokenID, short)
	}
}
