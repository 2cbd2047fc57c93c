// Package honey builds decoy backups seeded with honeytokens and watches them
// for access.
package honey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Placement strategies for honeytokens.
const (
	PlaceRandom = "random" // uniformly random mirrored directories
	PlaceSpread = "spread" // round-robin across directories, shallowest first
	PlaceRoot   = "root"   // all tokens in the decoy root
)

// Config tunes honey set creation and watching.
type Config struct {
	TokenCount     int           `yaml:"token_count"`
	Placement      string        `yaml:"placement"`
	Dir            string        `yaml:"dir"`
	MaxFillerBytes int64         `yaml:"max_filler_bytes"`
	DedupeWindow   time.Duration `yaml:"dedupe_window"`
	DrainGrace     time.Duration `yaml:"drain_grace"`
}

// DefaultConfig returns the built-in honey settings.
func DefaultConfig() Config {
	dir := ".backupsentry/honey"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".backupsentry", "honey")
	}
	return Config{
		TokenCount:     5,
		Placement:      PlaceSpread,
		Dir:            dir,
		MaxFillerBytes: 64 << 10,
		DedupeWindow:   time.Minute,
		DrainGrace:     2 * time.Second,
	}
}

// Validate checks the honey settings.
func (c Config) Validate() error {
	if c.TokenCount < 1 {
		return fmt.Errorf("honey: token_count must be >= 1, got %d", c.TokenCount)
	}
	switch c.Placement {
	case PlaceRandom, PlaceSpread, PlaceRoot:
	default:
		return fmt.Errorf("honey: unknown placement strategy %q", c.Placement)
	}
	if c.Dir == "" {
		return errors.New("honey: dir is empty")
	}
	if c.MaxFillerBytes < 0 {
		return errors.New("honey: max_filler_bytes must be >= 0")
	}
	return nil
}

var (
	// ErrEmptyManifest means the real backup has nothing to mirror.
	ErrEmptyManifest = errors.New("honey: manifest is empty")
	// ErrWatchStarted is returned by a second Watch call; watch streams are not restartable.
	ErrWatchStarted = errors.New("honey: watch already started")
	// ErrTornDown is returned when watching a set that was torn down.
	ErrTornDown = errors.New("honey: set torn down")
)

// HoneyCreationError reports a failed honey set. The partial decoy is removed
// and the set is never reported as active.
type HoneyCreationError struct {
	Backup string
	Err    error
}

func (e *HoneyCreationError) Error() string {
	return fmt.Sprintf("honey: create decoy for %q: %v", e.Backup, e.Err)
}

func (e *HoneyCreationError) Unwrap() error { return e.Err }
