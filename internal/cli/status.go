package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

var setStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Set the status of a task or subtask",
	Long: `Set the status of a task (e.g. 7) or subtask (e.g. 7.2) and record the
change time. The new status is pushed to the linked ticket when ticketing
is enabled.

Valid statuses: pending, in-progress, review, blocked, deferred, done, cancelled.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		status := models.TaskStatus(strings.ToLower(strings.TrimSpace(args[1])))
		if !status.Valid() {
			names := make([]string, len(models.AllStatuses))
			for i, s := range models.AllStatuses {
				names[i] = string(s)
			}
			return fmt.Errorf("invalid status %q: must be one of %s", args[1], strings.Join(names, ", "))
		}

		if err := TaskMgr.SetTaskStatus(args[0], status); err != nil {
			return fmt.Errorf("setting status of %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setStatusCmd)
}
