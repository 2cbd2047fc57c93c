package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/backupsentry/internal/config"
	"github.com/ppiankov/backupsentry/internal/systemd"
)

const defaultSystemdDir = "/etc/systemd/system"

var (
	initForce          bool
	initInstallSystemd bool
	initSystemdDir     string
)

func init() {
	rootCmd.AddCommand(initConfigCmd)
	initConfigCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config")
	initConfigCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install backupsentry.service and backupsentry-honey@.service units")
	initConfigCmd.Flags().StringVar(&initSystemdDir, "systemd-dir", defaultSystemdDir, "Directory for systemd units")
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Generate default config.yaml with comments",
	Long: `Creates ~/.backupsentry/config.yaml (or --config) with default weights,
thresholds and honeytoken settings. Edit it to tune the pipeline.

With --install-systemd: installs a service unit for "backupsentry serve" and a
template unit so each backup's decoys can be watched via:
  systemctl enable --now backupsentry-honey@<backup-name>`,
	RunE: runInitConfig,
}

// unitHashPath records install-time hashes of the systemd units; serve
// warns when an installed unit no longer matches.
func unitHashPath() string {
	return filepath.Join(config.BaseDir(), "units.sha256")
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(config.DefaultConfigYAML()), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)

	if !initInstallSystemd {
		return nil
	}
	system := initSystemdDir == defaultSystemdDir
	if system {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}
	}

	bin, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve binary path: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	units, err := systemd.Install(initSystemdDir, unitHashPath(), bin, abs)
	for _, u := range units {
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", u)
	}
	if err != nil {
		return err
	}

	if system {
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}
	return nil
}
