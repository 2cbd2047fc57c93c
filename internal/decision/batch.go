package decision

import (
	"math"
	"time"

	"github.com/ppiankov/backupsentry/internal/model"
)

// Aggregate reduces the verdicts of one scan pass into a BatchVerdict.
// It must be called once, after every verdict of the batch is available.
// An empty batch is a Pass.
func Aggregate(batchID, scanPassID string, verdicts []model.FileVerdict, renamed []string) model.BatchVerdict {
	b := model.BatchVerdict{
		BatchID:         batchID,
		ScanPassID:      scanPassID,
		WorstAction:     model.Pass,
		TotalFiles:      len(verdicts),
		RenamedSuffixes: renamed,
		CreatedAt:       time.Now().UTC(),
	}

	total := 0
	for _, v := range verdicts {
		b.WorstAction = model.Worse(b.WorstAction, v.Action)
		switch v.Action {
		case model.Quarantine:
			b.QuarantinedCount++
		case model.Encrypt:
			b.EncryptedCount++
		case model.Pass:
			b.PassedCount++
		default:
			// Unknown actions fail closed.
			b.WorstAction = model.Quarantine
			b.QuarantinedCount++
		}
		if v.Partial {
			b.PartialCount++
		}
		total += v.RiskScore
	}

	if len(verdicts) > 0 {
		b.AvgRiskScore = math.Round(float64(total)/float64(len(verdicts))*100) / 100
	}
	b.RiskLabel = model.RiskLabel(int(math.Round(b.AvgRiskScore)))
	return b
}
