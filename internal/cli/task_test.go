package cli

import (
	"strings"
	"testing"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

func TestTaskCommands_Registration(t *testing.T) {
	want := []string{
		"list", "show", "add-task", "update-task", "remove-task",
		"add-subtask", "update-subtask", "remove-subtask", "set-status",
		"sync-tickets", "ticketing", "alerts", "metrics", "dashboard", "mcp", "version",
	}
	registered := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("expected %q command to be registered", name)
		}
	}
}

func TestTaskCommands_NilTaskManager(t *testing.T) {
	orig := TaskMgr
	defer func() { TaskMgr = orig }()
	TaskMgr = nil

	cases := []struct {
		name string
		run  func() error
	}{
		{"list", func() error { return listCmd.RunE(listCmd, nil) }},
		{"show", func() error { return showCmd.RunE(showCmd, []string{"1"}) }},
		{"add-task", func() error { return addTaskCmd.RunE(addTaskCmd, nil) }},
		{"update-task", func() error { return updateTaskCmd.RunE(updateTaskCmd, []string{"1"}) }},
		{"remove-task", func() error { return removeTaskCmd.RunE(removeTaskCmd, []string{"1"}) }},
		{"add-subtask", func() error { return addSubtaskCmd.RunE(addSubtaskCmd, []string{"1"}) }},
		{"set-status", func() error { return setStatusCmd.RunE(setStatusCmd, []string{"1", "done"}) }},
	}
	for _, c := range cases {
		err := c.run()
		if err == nil || !strings.Contains(err.Error(), "task manager not initialized") {
			t.Errorf("%s: unexpected error: %v", c.name, err)
		}
	}
}

func TestListCmd(t *testing.T) {
	useTaskManager(t, seedTasks())

	out, err := run(t, listCmd, map[string]string{"with-subtasks": "true"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Set up auth", "US001", "PROJ-1", "1.1", "Token endpoint", "Fix login"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestListCmd_StatusFilter(t *testing.T) {
	useTaskManager(t, seedTasks())

	out, err := run(t, listCmd, map[string]string{"status": "pending"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "Set up auth") || !strings.Contains(out, "Fix login") {
		t.Errorf("filter not applied:\n%s", out)
	}

	if _, err := run(t, listCmd, map[string]string{"status": "later"}); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestListCmd_Empty(t *testing.T) {
	useTaskManager(t, nil)

	out, err := run(t, listCmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No tasks found.") {
		t.Errorf("output = %q", out)
	}
}

func TestShowCmd(t *testing.T) {
	useTaskManager(t, seedTasks())

	out, err := run(t, showCmd, nil, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Task 1: Set up auth", "in-progress", "PROJ-1", "Subtasks (1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, showCmd, nil, "1.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Task 1.1: Token endpoint") || !strings.Contains(out, "T001-01") {
		t.Errorf("subtask output:\n%s", out)
	}
}

func TestShowCmd_Errors(t *testing.T) {
	useTaskManager(t, seedTasks())

	for _, id := range []string{"abc", "0", "42", "1.9"} {
		if _, err := run(t, showCmd, nil, id); err == nil {
			t.Errorf("expected error for %q", id)
		}
	}
}

func TestAddTaskCmd(t *testing.T) {
	tm := useTaskManager(t, seedTasks())

	out, err := run(t, addTaskCmd, map[string]string{
		"title":       "Write docs",
		"description": "User guide",
		"priority":    "low",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Created task 3 (US003)") {
		t.Errorf("output = %q", out)
	}

	task, err := tm.GetTask(3)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Priority != models.PriorityLow || task.Status != models.StatusPending {
		t.Errorf("task = %+v", task)
	}
}

func TestAddTaskCmd_InvalidPriority(t *testing.T) {
	useTaskManager(t, seedTasks())

	_, err := run(t, addTaskCmd, map[string]string{"title": "x", "priority": "urgent"})
	if err == nil || !strings.Contains(err.Error(), "invalid priority") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestUpdateTaskCmd(t *testing.T) {
	tm := useTaskManager(t, seedTasks())

	if _, err := run(t, updateTaskCmd, map[string]string{"title": "Fix SSO login", "status": "review"}, "2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	task, err := tm.GetTask(2)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Title != "Fix SSO login" || task.Status != models.StatusReview {
		t.Errorf("task = %+v", task)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("unset flags must not change fields, priority = %q", task.Priority)
	}
}

func TestRemoveTaskCmd(t *testing.T) {
	tm := useTaskManager(t, seedTasks())

	if _, err := run(t, removeTaskCmd, nil, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tm.GetTask(1); err == nil {
		t.Error("task 1 should be gone")
	}
	if _, err := run(t, removeTaskCmd, nil, "1"); err == nil {
		t.Error("removing a missing task should fail")
	}
}

func TestSubtaskCmds(t *testing.T) {
	tm := useTaskManager(t, seedTasks())

	out, err := run(t, addSubtaskCmd, map[string]string{"title": "Login form"}, "2")
	if err != nil {
		t.Fatalf("add-subtask: %v", err)
	}
	if !strings.Contains(out, "Created subtask 2.1 (T002-01)") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, updateSubtaskCmd, map[string]string{"details": "Use the design system"}, "2.1"); err != nil {
		t.Fatalf("update-subtask: %v", err)
	}
	st, err := tm.GetSubtask("2.1")
	if err != nil {
		t.Fatalf("GetSubtask: %v", err)
	}
	if st.Details != "Use the design system" || st.Title != "Login form" {
		t.Errorf("subtask = %+v", st)
	}

	if _, err := run(t, removeSubtaskCmd, nil, "2.1"); err != nil {
		t.Fatalf("remove-subtask: %v", err)
	}
	if _, err := tm.GetSubtask("2.1"); err == nil {
		t.Error("subtask 2.1 should be gone")
	}
}

func TestSetStatusCmd(t *testing.T) {
	tm := useTaskManager(t, seedTasks())

	out, err := run(t, setStatusCmd, nil, "1.1", "In-Progress")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1.1 is now in-progress") {
		t.Errorf("output = %q", out)
	}
	st, err := tm.GetSubtask("1.1")
	if err != nil {
		t.Fatalf("GetSubtask: %v", err)
	}
	if st.Status != models.StatusInProgress {
		t.Errorf("status = %q", st.Status)
	}
	if _, ok := st.Metadata.LastStatusUpdate(); !ok {
		t.Error("lastStatusUpdate should be recorded")
	}
}

func TestSetStatusCmd_InvalidStatus(t *testing.T) {
	useTaskManager(t, seedTasks())

	_, err := run(t, setStatusCmd, nil, "1", "finished")
	if err == nil || !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTicketKey(t *testing.T) {
	cases := []struct {
		meta models.Metadata
		want string
	}{
		{models.Metadata{"jiraKey": "PROJ-9"}, "PROJ-9"},
		{models.Metadata{"azureWorkItemId": float64(1234)}, "1234"},
		{models.Metadata{"githubIssueId": "I_kw"}, "I_kw"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := ticketKey(c.meta); got != c.want {
			t.Errorf("ticketKey(%v) = %q, want %q", c.meta, got, c.want)
		}
	}
}
