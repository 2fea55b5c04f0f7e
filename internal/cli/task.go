package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskmaster/internal/core"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// taskInputFlags holds the flags shared by the add/update commands for tasks
// and subtasks.
type taskInputFlags struct {
	title        string
	description  string
	details      string
	testStrategy string
	priority     string
	status       string
	dependencies []int
}

func (f *taskInputFlags) register(cmd *cobra.Command, withStatus bool) {
	cmd.Flags().StringVar(&f.title, "title", "", "Title")
	cmd.Flags().StringVar(&f.description, "description", "", "Short description")
	cmd.Flags().StringVar(&f.details, "details", "", "Implementation details")
	cmd.Flags().StringVar(&f.testStrategy, "test-strategy", "", "How the work is verified")
	cmd.Flags().StringVar(&f.priority, "priority", "", "Priority (high, medium, low)")
	cmd.Flags().IntSliceVar(&f.dependencies, "deps", nil, "Comma-separated task ids this depends on")
	if withStatus {
		cmd.Flags().StringVar(&f.status, "status", "", "Status (pending, in-progress, review, blocked, deferred, done, cancelled)")
	}
}

func (f *taskInputFlags) input() (core.TaskInput, error) {
	in := core.TaskInput{
		Title:        f.title,
		Description:  f.description,
		Details:      f.details,
		TestStrategy: f.testStrategy,
		Priority:     models.Priority(f.priority),
		Status:       models.TaskStatus(f.status),
		Dependencies: f.dependencies,
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return in, fmt.Errorf("invalid priority %q (use high, medium or low)", f.priority)
	}
	if in.Status != "" && !in.Status.Valid() {
		return in, fmt.Errorf("invalid status %q", f.status)
	}
	return in, nil
}

// --- list ---

var (
	listStatus       string
	listWithSubtasks bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long: `List the tasks in tasks.json as a table with columns ID, Status,
Priority, Ref and Ticket.

Use --status to show a single status and --with-subtasks to include subtasks.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		status := models.TaskStatus(listStatus)
		if status != "" && !status.Valid() {
			return fmt.Errorf("invalid status %q", listStatus)
		}

		tasks, err := TaskMgr.ListTasks(status)
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(tasks) == 0 {
			fmt.Fprintln(out, "No tasks found.")
			return nil
		}

		printTaskHeader(out)
		for i := range tasks {
			t := &tasks[i]
			printTaskRow(out, t.ItemID(), t.Status, t.Priority, t.Metadata, t.Title)
			if !listWithSubtasks {
				continue
			}
			for j := range t.Subtasks {
				st := &t.Subtasks[j]
				printTaskRow(out, "  "+models.SubtaskRef(t.ID, st.ID), st.Status, st.Priority, st.Metadata, st.Title)
			}
		}
		return nil
	},
}

func printTaskHeader(w io.Writer) {
	fmt.Fprintf(w, "%-8s %-12s %-7s %-10s %-12s %s\n", "ID", "STATUS", "PRI", "REF", "TICKET", "TITLE")
	fmt.Fprintf(w, "%-8s %-12s %-7s %-10s %-12s %s\n", "--", "------", "---", "---", "------", "-----")
}

func printTaskRow(w io.Writer, id string, status models.TaskStatus, priority models.Priority, meta models.Metadata, title string) {
	fmt.Fprintf(w, "%-8s %-12s %-7s %-10s %-12s %s\n", id, status, priority, meta.RefID(), ticketKey(meta), title)
}

// ticketKey returns the first provider ticket key recorded in meta.
func ticketKey(meta models.Metadata) string {
	for _, key := range []string{models.MetaJiraKey, models.MetaAzureWorkItemID, models.MetaGitHubIssueID} {
		if v := meta.String(key); v != "" {
			return v
		}
	}
	return ""
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task or subtask",
	Long: `Show the full details of a task (e.g. 7) or a subtask (e.g. 7.2),
including its refId, linked ticket and subtasks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		out := cmd.OutOrStdout()

		if models.IsSubtaskRef(args[0]) {
			st, err := TaskMgr.GetSubtask(args[0])
			if err != nil {
				return fmt.Errorf("getting subtask %s: %w", args[0], err)
			}
			printDetails(out, st.ItemID(), st.Title, st.Status, st.Priority, st.Description, st.Details, st.TestStrategy, st.Dependencies, st.Metadata)
			return nil
		}

		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		t, err := TaskMgr.GetTask(id)
		if err != nil {
			return fmt.Errorf("getting task %d: %w", id, err)
		}
		printDetails(out, t.ItemID(), t.Title, t.Status, t.Priority, t.Description, t.Details, t.TestStrategy, t.Dependencies, t.Metadata)
		if len(t.Subtasks) > 0 {
			fmt.Fprintf(out, "\nSubtasks (%d):\n", len(t.Subtasks))
			for _, st := range t.Subtasks {
				fmt.Fprintf(out, "  %-6s %-12s %s\n", models.SubtaskRef(t.ID, st.ID), st.Status, st.Title)
			}
		}
		return nil
	},
}

func printDetails(w io.Writer, id, title string, status models.TaskStatus, priority models.Priority, description, details, testStrategy string, deps []int, meta models.Metadata) {
	fmt.Fprintf(w, "Task %s: %s\n", id, title)
	fmt.Fprintf(w, "  Status:   %s\n", status)
	if priority != "" {
		fmt.Fprintf(w, "  Priority: %s\n", priority)
	}
	if ref := meta.RefID(); ref != "" {
		fmt.Fprintf(w, "  Ref:      %s\n", ref)
	}
	if key := ticketKey(meta); key != "" {
		fmt.Fprintf(w, "  Ticket:   %s\n", key)
	}
	if ts, ok := meta.LastStatusUpdate(); ok {
		fmt.Fprintf(w, "  Updated:  %s\n", ts.Format("2006-01-02 15:04 MST"))
	}
	if len(deps) > 0 {
		ids := make([]string, len(deps))
		for i, d := range deps {
			ids[i] = strconv.Itoa(d)
		}
		fmt.Fprintf(w, "  Depends:  %s\n", strings.Join(ids, ", "))
	}
	if description != "" {
		fmt.Fprintf(w, "\n%s\n", description)
	}
	if details != "" {
		fmt.Fprintf(w, "\nDetails:\n%s\n", details)
	}
	if testStrategy != "" {
		fmt.Fprintf(w, "\nTest strategy:\n%s\n", testStrategy)
	}
}

// --- add-task / update-task / remove-task ---

var addTaskFlags taskInputFlags

var addTaskCmd = &cobra.Command{
	Use:   "add-task",
	Short: "Add a task",
	Long: `Add a task to tasks.json. The task gets the next free id and a refId
such as US007. When ticketing is enabled a story is created for it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		in, err := addTaskFlags.input()
		if err != nil {
			return err
		}
		t, err := TaskMgr.AddTask(in)
		if err != nil {
			return fmt.Errorf("adding task: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created task %d (%s): %s\n", t.ID, t.Metadata.RefID(), t.Title)
		return nil
	},
}

var updateTaskFlags taskInputFlags

var updateTaskCmd = &cobra.Command{
	Use:   "update-task <id>",
	Short: "Update a task's fields",
	Long: `Update the given task. Only the flags that are set change; the
linked ticket is updated when ticketing is enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		in, err := updateTaskFlags.input()
		if err != nil {
			return err
		}
		t, err := TaskMgr.UpdateTask(id, in)
		if err != nil {
			return fmt.Errorf("updating task %d: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated task %d: %s\n", t.ID, t.Title)
		return nil
	},
}

var removeTaskCmd = &cobra.Command{
	Use:   "remove-task <id>",
	Short: "Remove a task and its subtasks",
	Long: `Remove a task and all of its subtasks from tasks.json. The linked
tickets are deleted when ticketing is enabled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		if err := TaskMgr.RemoveTask(id); err != nil {
			return fmt.Errorf("removing task %d: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed task %d\n", id)
		return nil
	},
}

func parseTaskID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().BoolVar(&listWithSubtasks, "with-subtasks", false, "Include subtasks")

	addTaskFlags.register(addTaskCmd, true)
	_ = addTaskCmd.MarkFlagRequired("title")
	updateTaskFlags.register(updateTaskCmd, true)

	rootCmd.AddCommand(listCmd, showCmd, addTaskCmd, updateTaskCmd, removeTaskCmd)
}
