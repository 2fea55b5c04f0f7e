package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/taskmaster/internal/core"
	"github.com/valter-silva-au/taskmaster/internal/observability"
	"github.com/valter-silva-au/taskmaster/internal/storage"
	"github.com/valter-silva-au/taskmaster/internal/ticketsync"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// --- Fake implementations ---

type fakeSyncer struct {
	result   ticketsync.SyncResult
	report   ticketsync.StatusReport
	lastPath string
	lastOpts ticketsync.SyncOptions
}

func (f *fakeSyncer) SyncTickets(_ context.Context, tasksPath string, opts ticketsync.SyncOptions) ticketsync.SyncResult {
	f.lastPath = tasksPath
	f.lastOpts = opts
	return f.result
}

func (f *fakeSyncer) CheckStatus(_ context.Context) ticketsync.StatusReport {
	return f.report
}

type fakeMetricsCalculator struct {
	metrics *observability.Metrics
}

func (f *fakeMetricsCalculator) Calculate(_ time.Time) (*observability.Metrics, error) {
	return f.metrics, nil
}

type fakeAlertEngine struct {
	alerts []observability.Alert
}

func (f *fakeAlertEngine) Evaluate() ([]observability.Alert, error) {
	return f.alerts, nil
}

// --- Test helpers ---

func sampleTasks() *models.TasksFile {
	return &models.TasksFile{Tasks: []models.Task{
		{
			ID:       1,
			Title:    "Set up auth",
			Status:   models.StatusInProgress,
			Priority: models.PriorityHigh,
			Metadata: models.Metadata{"refId": "US001", "jiraKey": "PROJ-1"},
			Subtasks: []models.Subtask{
				{ID: 1, Title: "Token endpoint", Status: models.StatusPending, Metadata: models.Metadata{"jiraKey": "PROJ-2"}},
			},
		},
		{
			ID:       2,
			Title:    "Fix login",
			Status:   models.StatusPending,
			Priority: models.PriorityMedium,
		},
	}}
}

// newTestTaskManager writes sampleTasks to a temp tasks.json and returns a
// task manager backed by the file store.
func newTestTaskManager(t *testing.T) core.TaskManager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	store := storage.NewTaskStore()
	if err := store.Write(path, sampleTasks()); err != nil {
		t.Fatalf("seeding tasks: %v", err)
	}
	return core.NewTaskManager(path, dir, store, nil, nil)
}

func connect(t *testing.T, srv *Server) *gomcp.ClientSession {
	t.Helper()

	ctx := context.Background()
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)

	t1, t2 := gomcp.NewInMemoryTransports()

	// Connect server (non-blocking).
	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	return session
}

// callTool is a helper that connects a client to the server and calls a tool.
func callTool(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	session := connect(t, srv)
	defer session.Close()

	result, err := session.CallTool(context.Background(), &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("call tool %s: %v", toolName, err)
	}
	return result
}

// callToolAllowError is like callTool but returns nil instead of failing when
// the call is rejected at the protocol level (e.g. schema validation).
func callToolAllowError(t *testing.T, srv *Server, toolName string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()

	session := connect(t, srv)
	defer session.Close()

	result, err := session.CallTool(context.Background(), &gomcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil
	}
	return result
}

// decode reads the tool output from the structured content, falling back to
// the text content.
func decode(t *testing.T, result *gomcp.CallToolResult, out any) {
	t.Helper()
	if result.StructuredContent != nil {
		data, err := json.Marshal(result.StructuredContent)
		if err == nil && json.Unmarshal(data, out) == nil {
			return
		}
	}
	text := extractText(result)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		t.Fatalf("unmarshalling output: %v (text was: %s)", err, text)
	}
}

// --- Tests ---

func TestGetTasks(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "get_tasks", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}

	var out getTasksOutput
	decode(t, result, &out)
	if out.Count != 2 || len(out.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", out.Count)
	}
	first := out.Tasks[0]
	if first.ID != "1" || first.RefID != "US001" {
		t.Errorf("first task = %+v", first)
	}
	if len(first.Subtasks) != 1 || first.Subtasks[0].ID != "1.1" {
		t.Errorf("subtasks = %+v", first.Subtasks)
	}
}

func TestGetTasks_StatusFilter(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "get_tasks", map[string]any{"status": "pending"})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out getTasksOutput
	decode(t, result, &out)
	if out.Count != 1 || out.Tasks[0].ID != "2" {
		t.Errorf("expected only task 2, got %+v", out.Tasks)
	}
}

func TestGetTasks_InvalidStatus(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "get_tasks", map[string]any{"status": "someday"})
	if !result.IsError {
		t.Fatal("expected error for invalid status")
	}
}

func TestGetTask(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "get_task", map[string]any{"id": "1"})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out taskOutput
	decode(t, result, &out)
	if out.Title != "Set up auth" || out.Status != "in-progress" || out.Priority != "high" {
		t.Errorf("task = %+v", out)
	}
	if out.Metadata["jiraKey"] != "PROJ-1" {
		t.Errorf("metadata = %+v", out.Metadata)
	}
}

func TestGetTask_Subtask(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "get_task", map[string]any{"id": "1.1"})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out taskOutput
	decode(t, result, &out)
	if out.ID != "1.1" || out.Title != "Token endpoint" {
		t.Errorf("subtask = %+v", out)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	for _, id := range []string{"99", "1.9", "abc"} {
		result := callTool(t, srv, "get_task", map[string]any{"id": id})
		if !result.IsError {
			t.Errorf("expected error result for %q", id)
		}
	}
}

func TestSetTaskStatus(t *testing.T) {
	tm := newTestTaskManager(t)
	srv := NewServer(tm, nil, nil, nil, "test")

	result := callTool(t, srv, "set_task_status", map[string]any{"id": "1.1", "status": "done"})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}

	sub, err := tm.GetSubtask("1.1")
	if err != nil {
		t.Fatalf("GetSubtask: %v", err)
	}
	if sub.Status != models.StatusDone {
		t.Errorf("status = %s, want done", sub.Status)
	}
}

func TestSetTaskStatus_InvalidStatus(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "set_task_status", map[string]any{"id": "1", "status": "finished"})
	if !result.IsError {
		t.Fatal("expected error for invalid status")
	}
	if !strings.Contains(extractText(result), "in-progress") {
		t.Errorf("error should list valid statuses: %s", extractText(result))
	}
}

func TestAddSubtask(t *testing.T) {
	tm := newTestTaskManager(t)
	srv := NewServer(tm, nil, nil, nil, "test")

	result := callTool(t, srv, "add_subtask", map[string]any{"parent_id": 2, "title": "Repro the bug"})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out taskOutput
	decode(t, result, &out)
	if out.ID != "2.1" || out.Status != "pending" {
		t.Errorf("subtask = %+v", out)
	}

	task, err := tm.GetTask(2)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(task.Subtasks) != 1 {
		t.Errorf("expected subtask persisted, got %d", len(task.Subtasks))
	}
}

func TestAddSubtask_MissingTitle(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callToolAllowError(t, srv, "add_subtask", map[string]any{"parent_id": 2})
	if result != nil && !result.IsError {
		t.Fatal("expected error when title is missing")
	}
}

func TestSyncTickets(t *testing.T) {
	tm := newTestTaskManager(t)
	syncer := &fakeSyncer{result: ticketsync.SyncResult{
		Success: true,
		Stats:   ticketsync.Stats{TasksCreated: 1, TicketsUpdated: 2},
		Message: "sync completed",
	}}
	srv := NewServer(tm, syncer, nil, nil, "test")

	result := callTool(t, srv, "sync_tickets", map[string]any{"force": true})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out ticketsync.SyncResult
	decode(t, result, &out)
	if out.Stats.TasksCreated != 1 || out.Stats.TicketsUpdated != 2 {
		t.Errorf("stats = %+v", out.Stats)
	}
	if syncer.lastPath != tm.TasksPath() {
		t.Errorf("sync path = %q, want %q", syncer.lastPath, tm.TasksPath())
	}
	if !syncer.lastOpts.Force {
		t.Error("force flag not forwarded")
	}
}

func TestSyncTickets_Failure(t *testing.T) {
	syncer := &fakeSyncer{result: ticketsync.SyncResult{Message: "ticketing is disabled"}}
	srv := NewServer(newTestTaskManager(t), syncer, nil, nil, "test")

	result := callTool(t, srv, "sync_tickets", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(extractText(result), "disabled") {
		t.Errorf("unexpected message: %s", extractText(result))
	}
}

func TestSyncTickets_NotAvailable(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "sync_tickets", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error when syncer is nil")
	}
}

func TestTicketingStatus(t *testing.T) {
	syncer := &fakeSyncer{report: ticketsync.StatusReport{
		TicketingEnabled: true,
		System:           models.TicketingJira,
		Configured:       true,
		EventSubscribers: map[string]int{"task.created": 1},
	}}
	srv := NewServer(newTestTaskManager(t), syncer, nil, nil, "test")

	result := callTool(t, srv, "ticketing_status", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out ticketsync.StatusReport
	decode(t, result, &out)
	if !out.TicketingEnabled || out.System != models.TicketingJira || out.EventSubscribers["task.created"] != 1 {
		t.Errorf("report = %+v", out)
	}
}

func TestGetSyncMetrics(t *testing.T) {
	last := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	mc := &fakeMetricsCalculator{metrics: &observability.Metrics{
		TicketsCreated: 3,
		StatusesPushed: 4,
		SyncFailures:   1,
		FailuresByItem: map[string]int{"2": 1},
		LastSync:       &last,
	}}
	srv := NewServer(newTestTaskManager(t), nil, mc, nil, "test")

	result := callTool(t, srv, "get_sync_metrics", map[string]any{"since": "30d"})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out syncMetricsOutput
	decode(t, result, &out)
	if out.TicketsCreated != 3 || out.StatusesPushed != 4 || out.FailuresByItem["2"] != 1 {
		t.Errorf("metrics = %+v", out)
	}
	if out.LastSync != "2025-05-01T09:00:00Z" {
		t.Errorf("LastSync = %q", out.LastSync)
	}
}

func TestGetSyncMetrics_InvalidSince(t *testing.T) {
	mc := &fakeMetricsCalculator{metrics: &observability.Metrics{}}
	srv := NewServer(newTestTaskManager(t), nil, mc, nil, "test")

	result := callTool(t, srv, "get_sync_metrics", map[string]any{"since": "7w"})
	if !result.IsError {
		t.Fatal("expected error for unsupported suffix")
	}
}

func TestGetSyncMetrics_NotAvailable(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "get_sync_metrics", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error when metrics calculator is nil")
	}
}

func TestGetAlerts(t *testing.T) {
	ae := &fakeAlertEngine{alerts: []observability.Alert{
		{
			ID:          "blocked-3",
			Condition:   observability.ConditionBlockedTooLong,
			Severity:    observability.SeverityHigh,
			Message:     "task 3 blocked for 30h",
			TriggeredAt: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		},
	}}
	srv := NewServer(newTestTaskManager(t), nil, nil, ae, "test")

	result := callTool(t, srv, "get_alerts", map[string]any{})
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractText(result))
	}
	var out getAlertsOutput
	decode(t, result, &out)
	if out.Count != 1 || out.Alerts[0].ID != "blocked-3" || out.Alerts[0].Severity != "high" {
		t.Errorf("alerts = %+v", out)
	}
}

func TestGetAlerts_NotAvailable(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")

	result := callTool(t, srv, "get_alerts", map[string]any{})
	if !result.IsError {
		t.Fatal("expected error when alert engine is nil")
	}
}

func TestListTools(t *testing.T) {
	srv := NewServer(newTestTaskManager(t), nil, nil, nil, "test")
	session := connect(t, srv)
	defer session.Close()

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"get_tasks", "get_task", "set_task_status", "add_subtask", "sync_tickets", "ticketing_status", "get_sync_metrics", "get_alerts"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}

func TestParseSince(t *testing.T) {
	now := time.Now().UTC()
	got, err := ParseSince("24h")
	if err != nil {
		t.Fatalf("ParseSince: %v", err)
	}
	if d := now.Sub(got); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("24h resolved to %s ago", d)
	}

	for _, bad := range []string{"", "d", "xd", "-1d", "3m"} {
		if _, err := ParseSince(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

// extractText returns the text of the first text content block.
func extractText(result *gomcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
