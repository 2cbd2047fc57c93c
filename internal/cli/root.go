package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/backupsentry/internal/backup"
)

// Exit codes.
const (
	exitError       = 1
	exitQuarantined = 2
	exitConfig      = 78 // EX_CONFIG
)

var (
	configPath string
	logLevel   string
)

// errQuarantined marks a scan whose batch may not be committed.
var errQuarantined = errors.New("batch quarantined")

var rootCmd = &cobra.Command{
	Use:   "backupsentry",
	Short: "Risk-aware backup pipeline with honeytoken tripwires",
	Long: "Scores every file of a backup for sensitive data and ransomware traits,\n" +
		"encrypts or quarantines before anything reaches storage, and plants\n" +
		"honeytoken decoys that alert on access.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.backupsentry/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ce *configError
	switch {
	case errors.As(err, &ce):
		return exitConfig
	case errors.Is(err, backup.ErrQuarantined), errors.Is(err, errQuarantined):
		return exitQuarantined
	default:
		return exitError
	}
}

// configError wraps a config that failed to load or validate.
type configError struct {
	err error
}

func (e *configError) Error() string { return fmt.Sprintf("invalid config: %v", e.err) }
func (e *configError) Unwrap() error { return e.err }
