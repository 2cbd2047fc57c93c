// Package mcp exposes assessment, scanning and the backup catalog as MCP
// tools over stdio.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/backupsentry/internal/audit"
	"github.com/ppiankov/backupsentry/internal/config"
	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/scan"
	"github.com/ppiankov/backupsentry/internal/scoring"
)

// Version is reported in the MCP implementation info.
var Version = "dev"

// Catalog lists backups.
type Catalog interface {
	List(ctx context.Context) ([]model.BackupRecord, error)
}

// Deps are the collaborators of the MCP server. Catalog and Audit are optional.
type Deps struct {
	Config    *config.Config
	Collector scan.Collector
	Catalog   Catalog
	Audit     *audit.Log
	Alerts    scan.AlertSink
	Logger    *slog.Logger
}

// Server wraps the MCP SDK server.
type Server struct {
	mcpServer  *mcpsdk.Server
	controller *decision.Controller
	scanner    *scan.Scanner
	catalog    Catalog
	auditLog   *audit.Log
	logger     *slog.Logger
}

// New validates the config and registers the tools.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Collector == nil {
		return nil, errors.New("mcp: config and collector are required")
	}
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	engine, err := scoring.NewEngine(d.Config.Scoring)
	if err != nil {
		return nil, err
	}
	ctrl, err := decision.NewController(d.Config.Decision, engine)
	if err != nil {
		return nil, err
	}

	s := &Server{
		controller: ctrl,
		scanner: scan.New(d.Collector, ctrl, d.Config.Decision.MassRename,
			scan.WithWorkers(d.Config.Workers),
			scan.WithLogger(d.Logger),
			scan.WithAlerts(d.Alerts),
		),
		catalog:  d.Catalog,
		auditLog: d.Audit,
		logger:   d.Logger,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "backupsentry",
			Version: Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdio. Blocks until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "backupsentry_assess",
		Description: "Decide pass, encrypt or quarantine for one file from its heuristic, sensitive and classifier scores (each 0..1).",
	}, s.handleAssess)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "backupsentry_scan",
		Description: "Scan a local directory and return the per-file verdicts and the batch verdict. A quarantined batch returns an error result.",
	}, s.handleScan)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "backupsentry_backup_list",
		Description: "List the backup catalog with status, file counts and risk label.",
	}, s.handleBackupList)
}
