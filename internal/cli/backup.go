package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/backupsentry/internal/backup"
	"github.com/ppiankov/backupsentry/internal/honey"
	"github.com/ppiankov/backupsentry/internal/model"
)

var (
	backupJSON     bool
	backupNoHoney  bool
	restoreDestDir string
)

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupGetCmd, backupDeleteCmd, backupRestoreCmd)
	backupCmd.PersistentFlags().BoolVar(&backupJSON, "json", false, "Print JSON instead of text")
	backupCreateCmd.Flags().BoolVar(&backupNoHoney, "no-honey", false, "Do not plant a honeytoken decoy set")
	backupRestoreCmd.Flags().StringVar(&restoreDestDir, "dest", "", "Directory to restore into (required)")
	_ = backupRestoreCmd.MarkFlagRequired("dest")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and manage backups",
	Long:  "Backups are scanned before commit: pass files are stored as-is, encrypt\nfiles are sealed, and any quarantine holds the whole batch back.",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create <name> <source-dir>",
	Short: "Scan and back up a directory",
	Long:  "Exits 2 when the batch is quarantined; the hold archive is kept under quarantine_dir.",
	Args:  cobra.ExactArgs(2),
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backup catalog",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupGet,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a backup and tear down its honey set",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDelete,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore a committed backup, decrypting sealed files",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupRestore,
}

// openBackups loads the env and the backup service. withHoney attaches a
// honey registry, closed with the env.
func openBackups(withHoney bool) (*env, *backup.Service, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, nil, err
	}
	ctx := context.Background()

	var reg *honey.Registry
	if withHoney {
		if reg, err = e.honeyRegistry(ctx); err != nil {
			e.close()
			return nil, nil, err
		}
	}
	svc, err := e.backups(ctx, reg)
	if err != nil {
		e.close()
		return nil, nil, err
	}
	return e, svc, nil
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(!backupNoHoney)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	rec, err := svc.Create(ctx, args[0], args[1])
	if err != nil && !errors.Is(err, backup.ErrQuarantined) {
		return err
	}
	printBackup(cmd.OutOrStdout(), rec)
	return err
}

func runBackupList(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	recs, err := svc.List(ctx)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if backupJSON {
		return writeJSON(w, recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "No backups.")
		return nil
	}
	fmt.Fprintf(w, "%-24s %-11s %6s %6s %-6s  %s\n", "NAME", "STATUS", "FILES", "SEALED", "RISK", "CREATED")
	for _, r := range recs {
		fmt.Fprintf(w, "%-24s %-11s %6d %6d %-6s  %s\n",
			r.Name, r.Status, r.TotalFiles, r.EncryptedFiles, r.RiskLabel, r.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runBackupGet(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	rec, err := svc.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printBackup(cmd.OutOrStdout(), rec)
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	if err := svc.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	n, err := svc.Restore(ctx, args[0], restoreDestDir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %d file(s) to %s\n", n, restoreDestDir)
	return nil
}

func printBackup(w io.Writer, rec model.BackupRecord) {
	if backupJSON {
		_ = writeJSON(w, rec)
		return
	}
	fmt.Fprintf(w, "Backup:     %s\n", rec.Name)
	fmt.Fprintf(w, "Source:     %s\n", rec.SourcePath)
	fmt.Fprintf(w, "Status:     %s\n", rec.Status)
	if rec.Location != "" {
		fmt.Fprintf(w, "Location:   %s\n", rec.Location)
	}
	if rec.QuarantineRef != "" {
		fmt.Fprintf(w, "Held at:    %s\n", rec.QuarantineRef)
	}
	fmt.Fprintf(w, "Files:      %d (%d sensitive, %d sealed)\n", rec.TotalFiles, rec.SensitiveFiles, rec.EncryptedFiles)
	fmt.Fprintf(w, "Risk:       %.1f avg (%s)\n", rec.AvgRiskScore, rec.RiskLabel)
	fmt.Fprintf(w, "Verdict:    %s\n", rec.Batch.WorstAction)
	if rec.Honey != nil {
		fmt.Fprintf(w, "Honey set:  %s (%d tokens)\n", rec.Honey.Root, len(rec.Honey.Tokens))
	}
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:    %s\n", rec.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
