package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var addSubtaskFlags taskInputFlags

var addSubtaskCmd = &cobra.Command{
	Use:   "add-subtask <parent-id>",
	Short: "Add a subtask to a task",
	Long: `Add a subtask under the given task. The subtask gets a refId such as
T007-02 and, when ticketing is enabled, a ticket linked to the parent's.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		parentID, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		in, err := addSubtaskFlags.input()
		if err != nil {
			return err
		}
		st, err := TaskMgr.AddSubtask(parentID, in)
		if err != nil {
			return fmt.Errorf("adding subtask to task %d: %w", parentID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created subtask %s (%s): %s\n", st.ItemID(), st.Metadata.RefID(), st.Title)
		return nil
	},
}

var updateSubtaskFlags taskInputFlags

var updateSubtaskCmd = &cobra.Command{
	Use:   "update-subtask <parent.sub>",
	Short: "Update a subtask's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		in, err := updateSubtaskFlags.input()
		if err != nil {
			return err
		}
		st, err := TaskMgr.UpdateSubtask(args[0], in)
		if err != nil {
			return fmt.Errorf("updating subtask %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated subtask %s: %s\n", st.ItemID(), st.Title)
		return nil
	},
}

var removeSubtaskCmd = &cobra.Command{
	Use:   "remove-subtask <parent.sub>",
	Short: "Remove a subtask",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		if err := TaskMgr.RemoveSubtask(args[0]); err != nil {
			return fmt.Errorf("removing subtask %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed subtask %s\n", args[0])
		return nil
	},
}

func init() {
	addSubtaskFlags.register(addSubtaskCmd, true)
	_ = addSubtaskCmd.MarkFlagRequired("title")
	updateSubtaskFlags.register(updateSubtaskCmd, true)

	rootCmd.AddCommand(addSubtaskCmd, updateSubtaskCmd, removeSubtaskCmd)
}
