package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/model"
)

// AssessInput defines parameters for the backupsentry_assess tool.
type AssessInput struct {
	FileID          string  `json:"file_id" jsonschema:"identifier of the file"`
	HeuristicScore  float64 `json:"heuristic_score" jsonschema:"entropy and keyword score, 0..1"`
	SensitiveScore  float64 `json:"sensitive_score" jsonschema:"sensitive data score, 0..1"`
	ClassifierScore float64 `json:"classifier_score" jsonschema:"ransomware classifier score, 0..1"`
	Partial         bool    `json:"partial,omitempty" jsonschema:"set when an extractor failed and its score is a neutral fill"`
}

// AssessOutput is the decided verdict.
type AssessOutput struct {
	FileID       string   `json:"file_id"`
	Action       string   `json:"action"`
	RiskScore    int      `json:"risk_score"`
	RiskLabel    string   `json:"risk_label"`
	ContextScore float64  `json:"context_score"`
	Confidence   string   `json:"confidence"`
	Reasons      []string `json:"reasons,omitempty"`
}

// ScanInput defines parameters for the backupsentry_scan tool.
type ScanInput struct {
	Path string `json:"path" jsonschema:"directory to scan"`
}

// FileOutput is one verdict of a scan.
type FileOutput struct {
	Path       string `json:"path"`
	Action     string `json:"action"`
	RiskScore  int    `json:"risk_score"`
	Confidence string `json:"confidence"`
	Partial    bool   `json:"partial,omitempty"`
}

// ScanOutput summarizes a scan pass.
type ScanOutput struct {
	ScanPassID  string       `json:"scan_pass_id"`
	WorstAction string       `json:"worst_action"`
	Committable bool         `json:"committable"`
	Total       int          `json:"total"`
	Quarantined int          `json:"quarantined"`
	Encrypted   int          `json:"encrypted"`
	RiskLabel   string       `json:"risk_label"`
	Files       []FileOutput `json:"files"`
}

// BackupListInput takes no parameters.
type BackupListInput struct{}

// BackupOutput is one catalog entry.
type BackupOutput struct {
	Name           string `json:"name"`
	Source         string `json:"source"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	TotalFiles     int    `json:"total_files"`
	EncryptedFiles int    `json:"encrypted_files"`
	RiskLabel      string `json:"risk_label"`
	HoneyTokens    int    `json:"honey_tokens"`
}

// BackupListOutput lists the catalog.
type BackupListOutput struct {
	Backups []BackupOutput `json:"backups"`
}

func (s *Server) handleAssess(ctx context.Context, req *mcpsdk.CallToolRequest, input AssessInput) (*mcpsdk.CallToolResult, AssessOutput, error) {
	if input.FileID == "" {
		return nil, AssessOutput{}, errors.New("file_id is required")
	}
	for _, v := range []float64{input.HeuristicScore, input.SensitiveScore, input.ClassifierScore} {
		if v < 0 || v > 1 {
			return nil, AssessOutput{}, fmt.Errorf("score %v outside [0,1]", v)
		}
	}

	v, err := s.controller.Decide(decision.Input{
		ScanPassID: uuid.NewString(),
		Signal: model.FileSignal{
			FileID:          input.FileID,
			HeuristicScore:  input.HeuristicScore,
			SensitiveScore:  input.SensitiveScore,
			ClassifierScore: input.ClassifierScore,
			Partial:         input.Partial,
		},
	})
	if err != nil {
		return nil, AssessOutput{}, err
	}
	s.recordVerdict(ctx, v)

	return nil, AssessOutput{
		FileID:       v.FileID,
		Action:       string(v.Action),
		RiskScore:    v.RiskScore,
		RiskLabel:    model.RiskLabel(v.RiskScore),
		ContextScore: v.ContextScore,
		Confidence:   v.ConfidenceTier.String(),
		Reasons:      v.Reasons,
	}, nil
}

func (s *Server) handleScan(ctx context.Context, req *mcpsdk.CallToolRequest, input ScanInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	if input.Path == "" {
		return nil, ScanOutput{}, errors.New("path is required")
	}
	res, err := s.scanner.ScanDir(ctx, input.Path, nil)
	if err != nil {
		return nil, ScanOutput{}, err
	}
	for _, v := range res.Verdicts {
		s.recordVerdict(ctx, v)
	}
	if s.auditLog != nil {
		if err := s.auditLog.RecordBatch(ctx, res.Batch); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}

	b := res.Batch
	out := ScanOutput{
		ScanPassID:  res.ScanPassID,
		WorstAction: string(b.WorstAction),
		Committable: b.Committable(),
		Total:       b.TotalFiles,
		Quarantined: b.QuarantinedCount,
		Encrypted:   b.EncryptedCount,
		RiskLabel:   b.RiskLabel,
		Files:       make([]FileOutput, 0, len(res.Verdicts)),
	}
	for _, v := range res.Verdicts {
		out.Files = append(out.Files, FileOutput{
			Path:       v.FileID,
			Action:     string(v.Action),
			RiskScore:  v.RiskScore,
			Confidence: v.ConfidenceTier.String(),
			Partial:    v.Partial,
		})
	}
	if !out.Committable {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleBackupList(ctx context.Context, req *mcpsdk.CallToolRequest, input BackupListInput) (*mcpsdk.CallToolResult, BackupListOutput, error) {
	if s.catalog == nil {
		return nil, BackupListOutput{}, errors.New("backup catalog not configured")
	}
	recs, err := s.catalog.List(ctx)
	if err != nil {
		return nil, BackupListOutput{}, err
	}
	out := BackupListOutput{Backups: make([]BackupOutput, 0, len(recs))}
	for _, r := range recs {
		b := BackupOutput{
			Name:           r.Name,
			Source:         r.SourcePath,
			Status:         string(r.Status),
			CreatedAt:      r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			TotalFiles:     r.TotalFiles,
			EncryptedFiles: r.EncryptedFiles,
			RiskLabel:      r.RiskLabel,
		}
		if r.Honey != nil {
			b.HoneyTokens = len(r.Honey.Tokens)
		}
		out.Backups = append(out.Backups, b)
	}
	return nil, out, nil
}

func (s *Server) recordVerdict(ctx context.Context, v model.FileVerdict) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.RecordVerdict(ctx, v); err != nil {
		s.logger.Warn("audit write failed", "error", err)
	}
}
