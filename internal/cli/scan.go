package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/report"
)

var (
	scanFormat string
	scanOutput string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanFormat, "format", "text", "Output format: text, json, csv")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Write the report to a file instead of stdout")
}

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Scan a directory without backing it up",
	Long: "Runs every file through extraction, scoring and decision and prints\n" +
		"the verdicts. Exits 2 when the batch would be quarantined.",
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	switch scanFormat {
	case "text", "json", "csv":
	default:
		return fmt.Errorf("unknown format %q (want text, json or csv)", scanFormat)
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	sink, err := e.alerts(ctx)
	if err != nil {
		return err
	}
	sc, err := e.scanner(sink)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	res, err := sc.ScanDir(ctx, root, nil)
	if err != nil {
		return err
	}

	if j, err := e.journal(); err != nil {
		return err
	} else if j != nil {
		for _, v := range res.Verdicts {
			if err := j.RecordVerdict(ctx, v); err != nil {
				e.logger.Warn("audit write failed", "error", err)
				break
			}
		}
		if err := j.RecordBatch(ctx, res.Batch); err != nil {
			e.logger.Warn("audit write failed", "error", err)
		}
	}

	var w io.Writer = cmd.OutOrStdout()
	if scanOutput != "" {
		f, err := os.Create(scanOutput)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		w = f
	}

	rep := report.New(root, res.Batch, res.Verdicts)
	if scanFormat == "text" {
		printScan(w, rep)
	} else if err := report.Write(w, scanFormat, rep); err != nil {
		return err
	}

	if !res.Batch.Committable() {
		return fmt.Errorf("%s: %d file(s) quarantined: %w", root, res.Batch.QuarantinedCount, errQuarantined)
	}
	return nil
}

func printScan(w io.Writer, r report.Report) {
	for _, row := range r.Files {
		fmt.Fprintf(w, "%-10s %3d  %-6s  %s\n", row.Action, row.RiskScore, row.Confidence, row.FilePath)
	}
	b := r.Batch
	fmt.Fprintf(w, "\n%d files: %d pass, %d encrypt, %d quarantine (avg risk %.1f, %s)\n",
		b.TotalFiles, b.PassedCount, b.EncryptedCount, b.QuarantinedCount, b.AvgRiskScore, b.RiskLabel)
	if b.WorstAction == model.Quarantine {
		fmt.Fprintln(w, "Batch QUARANTINED: nothing may be committed.")
	}
}
