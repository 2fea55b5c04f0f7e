package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	tmmcp "github.com/valter-silva-au/taskmaster/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the taskmaster MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskmaster MCP server on stdio",
	Long: `Start the taskmaster MCP server on stdio transport.

The server exposes task management and ticket sync as MCP tools that AI
coding assistants can call: get_tasks, get_task, set_task_status,
add_subtask, sync_tickets, ticketing_status, get_sync_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		var syncer tmmcp.Syncer
		if Syncer != nil {
			syncer = Syncer
		}
		srv := tmmcp.NewServer(TaskMgr, syncer, MetricsCalc, AlertEngine, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
