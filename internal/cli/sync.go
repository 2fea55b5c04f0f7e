package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskmaster/internal/ticketsync"
)

var (
	syncForce bool
	syncDebug bool
	syncJSON  bool
)

var syncTicketsCmd = &cobra.Command{
	Use:   "sync-tickets",
	Short: "Synchronize tasks with the configured ticketing system",
	Long: `Create tickets for tasks and subtasks that do not have one yet, then
reconcile statuses in both directions. The most recent change wins; local
changes win ties.

--force pushes every local status to its ticket instead of reconciling.
--debug logs every per-item decision.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Syncer == nil || TaskMgr == nil {
			return fmt.Errorf("ticket sync not initialized")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		result := Syncer.SyncTickets(ctx, TaskMgr.TasksPath(), ticketsync.SyncOptions{
			Force: syncForce,
			Debug: syncDebug,
		})

		out := cmd.OutOrStdout()
		if syncJSON {
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting result as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
		} else {
			printSyncResult(cmd, result)
		}

		if !result.Success {
			return fmt.Errorf("ticket sync failed: %s", result.Message)
		}
		return nil
	},
}

func printSyncResult(cmd *cobra.Command, result ticketsync.SyncResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Message)
	if !result.Success {
		return
	}
	s := result.Stats
	fmt.Fprintf(out, "  %-24s %d\n", "Tasks created:", s.TasksCreated)
	fmt.Fprintf(out, "  %-24s %d\n", "Subtasks created:", s.SubtasksCreated)
	fmt.Fprintf(out, "  %-24s %d\n", "Tasks updated:", s.TasksUpdated)
	fmt.Fprintf(out, "  %-24s %d\n", "Subtasks updated:", s.SubtasksUpdated)
	fmt.Fprintf(out, "  %-24s %d\n", "Tickets updated:", s.TicketsUpdated)
	fmt.Fprintf(out, "  %-24s %d\n", "Timestamps initialized:", s.TimestampsInitialized)
	fmt.Fprintf(out, "  %-24s %d\n", "Errors:", s.Errors)
}

func init() {
	syncTicketsCmd.Flags().BoolVar(&syncForce, "force", false, "Push every local status to its ticket")
	syncTicketsCmd.Flags().BoolVar(&syncDebug, "debug", false, "Log every per-item decision")
	syncTicketsCmd.Flags().BoolVar(&syncJSON, "json", false, "Output the result as JSON")
	rootCmd.AddCommand(syncTicketsCmd)
}
