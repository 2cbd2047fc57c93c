package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	sentrymcp "github.com/ppiankov/backupsentry/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs backupsentry as an MCP (Model Context Protocol) server over stdio.\nExposes tools: assess, scan, backup_list.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	e, svc, err := openBackups(false)
	if err != nil {
		return err
	}
	defer e.close()

	collector, err := e.signals()
	if err != nil {
		return err
	}
	journal, err := e.journal()
	if err != nil {
		return err
	}
	deps := sentrymcp.Deps{
		Config:    e.cfg,
		Collector: collector,
		Catalog:   svc,
		Alerts:    e.sink,
		Logger:    e.logger,
	}
	if journal != nil {
		deps.Audit = journal
	}
	sentrymcp.Version = version

	srv, err := sentrymcp.New(deps)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := notifyContext()
	defer cancel()

	fmt.Fprintln(os.Stderr, "backupsentry MCP server running on stdio")
	return srv.Run(ctx)
}
