package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/signal"
)

var (
	assessHeuristic  float64
	assessSensitive  float64
	assessClassifier float64
	assessPartial    bool
	assessFileID     string
)

func init() {
	rootCmd.AddCommand(assessCmd)
	assessCmd.Flags().Float64Var(&assessHeuristic, "heuristic", 0, "Heuristic score 0..1 (when no file is given)")
	assessCmd.Flags().Float64Var(&assessSensitive, "sensitive", 0, "Sensitive data score 0..1 (when no file is given)")
	assessCmd.Flags().Float64Var(&assessClassifier, "classifier", 0, "Ransomware classifier score 0..1 (when no file is given)")
	assessCmd.Flags().BoolVar(&assessPartial, "partial", false, "Mark the signal partial (an extractor failed)")
	assessCmd.Flags().StringVar(&assessFileID, "file-id", "adhoc", "File id for score-only assessment")
}

var assessCmd = &cobra.Command{
	Use:   "assess [file]",
	Short: "Score one file and print its verdict",
	Long: "With a file argument, runs the extractors on it. Without one, decides\n" +
		"from the --heuristic, --sensitive and --classifier scores.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAssess,
}

type assessOutput struct {
	Signal    model.FileSignal  `json:"signal"`
	Verdict   model.FileVerdict `json:"verdict"`
	RiskLabel string            `json:"risk_label"`
}

func runAssess(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := notifyContext()
	defer cancel()

	var sig model.FileSignal
	if len(args) == 1 {
		c, err := e.signals()
		if err != nil {
			return err
		}
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		sig, err = c.Collect(ctx, signal.File{ID: filepath.Base(path), Path: path})
		if err != nil {
			return err
		}
	} else {
		for name, v := range map[string]float64{"heuristic": assessHeuristic, "sensitive": assessSensitive, "classifier": assessClassifier} {
			if v < 0 || v > 1 {
				return fmt.Errorf("--%s %v outside [0,1]", name, v)
			}
		}
		sig = model.FileSignal{
			FileID:          assessFileID,
			HeuristicScore:  assessHeuristic,
			SensitiveScore:  assessSensitive,
			ClassifierScore: assessClassifier,
			Partial:         assessPartial,
		}
	}

	ctrl, err := e.controller()
	if err != nil {
		return err
	}
	v, err := ctrl.Decide(decision.Input{ScanPassID: uuid.NewString(), Signal: sig})
	if err != nil {
		return err
	}
	if j, err := e.journal(); err != nil {
		return err
	} else if j != nil {
		if err := j.RecordVerdict(ctx, v); err != nil {
			e.logger.Warn("audit write failed", "error", err)
		}
	}

	out, _ := json.MarshalIndent(assessOutput{Signal: sig, Verdict: v, RiskLabel: model.RiskLabel(v.RiskScore)}, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
