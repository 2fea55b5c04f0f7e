// Package mcp provides an MCP (Model Context Protocol) server that exposes
// task management and ticket sync as MCP tools for AI coding assistants.
package mcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/valter-silva-au/taskmaster/internal/core"
	"github.com/valter-silva-au/taskmaster/internal/observability"
	"github.com/valter-silva-au/taskmaster/internal/ticketsync"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// Syncer is the subset of ticketsync.Engine the server exposes.
type Syncer interface {
	SyncTickets(ctx context.Context, tasksPath string, opts ticketsync.SyncOptions) ticketsync.SyncResult
	CheckStatus(ctx context.Context) ticketsync.StatusReport
}

// Server wraps taskmaster services and exposes them as MCP tools.
type Server struct {
	server      *gomcp.Server
	taskMgr     core.TaskManager
	syncer      Syncer
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server. syncer, metricsCalc and alertEngine
// may be nil; the matching tools then report that they are unavailable.
func NewServer(taskMgr core.TaskManager, syncer Syncer, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		taskMgr:     taskMgr,
		syncer:      syncer,
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "taskmaster", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdio, blocking until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type taskOutput struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Details      string          `json:"details,omitempty"`
	TestStrategy string          `json:"test_strategy,omitempty"`
	Status       string          `json:"status"`
	Priority     string          `json:"priority,omitempty"`
	Dependencies []int           `json:"dependencies,omitempty"`
	RefID        string          `json:"ref_id,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Subtasks     []subtaskOutput `json:"subtasks,omitempty"`
}

// subtaskOutput mirrors taskOutput without nesting; output schemas must not
// be recursive.
type subtaskOutput struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description,omitempty"`
	Details      string         `json:"details,omitempty"`
	TestStrategy string         `json:"test_strategy,omitempty"`
	Status       string         `json:"status"`
	Priority     string         `json:"priority,omitempty"`
	Dependencies []int          `json:"dependencies,omitempty"`
	RefID        string         `json:"ref_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type getTasksInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter tasks by status (pending, in-progress, review, blocked, deferred, done, cancelled)"`
}

type getTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type getTaskInput struct {
	ID string `json:"id" jsonschema:"task id such as 7, or subtask id such as 7.2"`
}

type setTaskStatusInput struct {
	ID     string `json:"id" jsonschema:"task id such as 7, or subtask id such as 7.2"`
	Status string `json:"status" jsonschema:"the new status (pending, in-progress, review, blocked, deferred, done, cancelled)"`
}

type messageOutput struct {
	Message string `json:"message"`
}

type addSubtaskInput struct {
	ParentID    int    `json:"parent_id" jsonschema:"id of the parent task"`
	Title       string `json:"title" jsonschema:"subtask title"`
	Description string `json:"description,omitempty" jsonschema:"what the subtask delivers"`
	Details     string `json:"details,omitempty" jsonschema:"implementation notes"`
	Priority    string `json:"priority,omitempty" jsonschema:"high, medium or low"`
}

type syncTicketsInput struct {
	Force bool `json:"force,omitempty" jsonschema:"push every local status to its ticket instead of reconciling by timestamp"`
	Debug bool `json:"debug,omitempty" jsonschema:"log every per-item decision"`
}

type ticketingStatusInput struct{}

type getSyncMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type syncMetricsOutput struct {
	TicketsCreated int            `json:"tickets_created"`
	TicketsUpdated int            `json:"tickets_updated"`
	TicketsDeleted int            `json:"tickets_deleted"`
	StatusesPushed int            `json:"statuses_pushed"`
	StatusesPulled int            `json:"statuses_pulled"`
	SyncFailures   int            `json:"sync_failures"`
	SyncSkipped    int            `json:"sync_skipped"`
	SyncRuns       int            `json:"sync_runs"`
	SuccessRate    float64        `json:"success_rate"`
	FailuresByItem map[string]int `json:"failures_by_item,omitempty"`
	StatusChanges  map[string]int `json:"status_changes,omitempty"`
	LastSync       string         `json:"last_sync,omitempty"`
	EventCount     int            `json:"event_count"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_tasks",
		Description: "List tasks from tasks.json with an optional status filter, including subtasks and ticket metadata.",
	}, s.handleGetTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get a task (id such as 7) or a subtask (id such as 7.2) with its metadata, including linked ticket keys.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "set_task_status",
		Description: "Set the status of a task or subtask. The change is pushed to the linked ticket when ticketing is enabled.",
	}, s.handleSetTaskStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "add_subtask",
		Description: "Add a subtask to a task. A ticket is created under the parent's ticket when ticketing is enabled.",
	}, s.handleAddSubtask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "sync_tickets",
		Description: "Create missing tickets and reconcile task statuses with the configured ticketing system.",
	}, s.handleSyncTickets)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "ticketing_status",
		Description: "Report whether ticketing is enabled and configured, which system is used, and how many event subscribers are registered.",
	}, s.handleTicketingStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_sync_metrics",
		Description: "Get ticket sync metrics from the event log: tickets created and updated, statuses pushed and pulled, failures.",
	}, s.handleGetSyncMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (blocked tasks, stale tasks, long reviews, repeated sync failures).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleGetTasks(_ context.Context, _ *gomcp.CallToolRequest, input getTasksInput) (*gomcp.CallToolResult, getTasksOutput, error) {
	status := models.TaskStatus(strings.TrimSpace(input.Status))
	if status != "" && !status.Valid() {
		return errorResult(fmt.Sprintf("invalid status %q", input.Status)), getTasksOutput{}, nil
	}

	tasks, err := s.taskMgr.ListTasks(status)
	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), getTasksOutput{}, nil
	}

	out := getTasksOutput{
		Tasks: make([]taskOutput, len(tasks)),
		Count: len(tasks),
	}
	for i := range tasks {
		out.Tasks[i] = taskToOutput(&tasks[i])
	}
	return nil, out, nil
}

func (s *Server) handleGetTask(_ context.Context, _ *gomcp.CallToolRequest, input getTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return errorResult("id is required"), taskOutput{}, nil
	}

	if models.IsSubtaskRef(id) {
		sub, err := s.taskMgr.GetSubtask(id)
		if err != nil {
			return errorResult(fmt.Sprintf("getting subtask %s: %s", id, err)), taskOutput{}, nil
		}
		return nil, subtaskToOutput(sub), nil
	}

	taskID, err := strconv.Atoi(id)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid task id %q", id)), taskOutput{}, nil
	}
	task, err := s.taskMgr.GetTask(taskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", id, err)), taskOutput{}, nil
	}
	return nil, taskToOutput(task), nil
}

func (s *Server) handleSetTaskStatus(_ context.Context, _ *gomcp.CallToolRequest, input setTaskStatusInput) (*gomcp.CallToolResult, messageOutput, error) {
	if strings.TrimSpace(input.ID) == "" {
		return errorResult("id is required"), messageOutput{}, nil
	}
	status := models.TaskStatus(strings.TrimSpace(input.Status))
	if !status.Valid() {
		return errorResult(fmt.Sprintf("invalid status %q: must be one of %s", input.Status, statusList())), messageOutput{}, nil
	}

	if err := s.taskMgr.SetTaskStatus(input.ID, status); err != nil {
		return errorResult(fmt.Sprintf("updating %s status: %s", input.ID, err)), messageOutput{}, nil
	}
	return nil, messageOutput{Message: fmt.Sprintf("%s status updated to %s", input.ID, status)}, nil
}

func (s *Server) handleAddSubtask(_ context.Context, _ *gomcp.CallToolRequest, input addSubtaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.ParentID <= 0 {
		return errorResult("parent_id is required"), taskOutput{}, nil
	}
	sub, err := s.taskMgr.AddSubtask(input.ParentID, core.TaskInput{
		Title:       input.Title,
		Description: input.Description,
		Details:     input.Details,
		Priority:    models.Priority(input.Priority),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("adding subtask: %s", err)), taskOutput{}, nil
	}
	return nil, subtaskToOutput(sub), nil
}

func (s *Server) handleSyncTickets(ctx context.Context, _ *gomcp.CallToolRequest, input syncTicketsInput) (*gomcp.CallToolResult, ticketsync.SyncResult, error) {
	if s.syncer == nil {
		return errorResult("ticket sync is not available"), ticketsync.SyncResult{}, nil
	}
	result := s.syncer.SyncTickets(ctx, s.taskMgr.TasksPath(), ticketsync.SyncOptions{Force: input.Force, Debug: input.Debug})
	if !result.Success {
		return errorResult(result.Message), result, nil
	}
	return nil, result, nil
}

func (s *Server) handleTicketingStatus(ctx context.Context, _ *gomcp.CallToolRequest, _ ticketingStatusInput) (*gomcp.CallToolResult, ticketsync.StatusReport, error) {
	if s.syncer == nil {
		return errorResult("ticket sync is not available"), ticketsync.StatusReport{}, nil
	}
	return nil, s.syncer.CheckStatus(ctx), nil
}

func (s *Server) handleGetSyncMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getSyncMetricsInput) (*gomcp.CallToolResult, syncMetricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (event log may be disabled)"), syncMetricsOutput{}, nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}
	sinceTime, err := ParseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), syncMetricsOutput{}, nil
	}

	m, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), syncMetricsOutput{}, nil
	}

	out := syncMetricsOutput{
		TicketsCreated: m.TicketsCreated,
		TicketsUpdated: m.TicketsUpdated,
		TicketsDeleted: m.TicketsDeleted,
		StatusesPushed: m.StatusesPushed,
		StatusesPulled: m.StatusesPulled,
		SyncFailures:   m.SyncFailures,
		SyncSkipped:    m.SyncSkipped,
		SyncRuns:       m.SyncRuns,
		SuccessRate:    m.SyncSuccessRate(),
		FailuresByItem: m.FailuresByItem,
		StatusChanges:  m.StatusChanges,
		EventCount:     m.EventCount,
	}
	if m.LastSync != nil {
		out.LastSync = m.LastSync.Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (event log may be disabled)"), getAlertsOutput{}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

// --- Helpers ---

func taskToOutput(t *models.Task) taskOutput {
	out := taskOutput{
		ID:           t.ItemID(),
		Title:        t.Title,
		Description:  t.Description,
		Details:      t.Details,
		TestStrategy: t.TestStrategy,
		Status:       string(t.Status),
		Priority:     string(t.Priority),
		Dependencies: t.Dependencies,
		RefID:        t.Metadata.RefID(),
		Metadata:     t.Metadata,
	}
	for i := range t.Subtasks {
		st := t.Subtasks[i]
		st.ParentID = t.ID
		out.Subtasks = append(out.Subtasks, nested(subtaskToOutput(&st)))
	}
	return out
}

func subtaskToOutput(s *models.Subtask) taskOutput {
	return taskOutput{
		ID:           s.ItemID(),
		Title:        s.Title,
		Description:  s.Description,
		Details:      s.Details,
		TestStrategy: s.TestStrategy,
		Status:       string(s.Status),
		Priority:     string(s.Priority),
		Dependencies: s.Dependencies,
		RefID:        s.Metadata.RefID(),
		Metadata:     s.Metadata,
	}
}

func nested(o taskOutput) subtaskOutput {
	return subtaskOutput{
		ID:           o.ID,
		Title:        o.Title,
		Description:  o.Description,
		Details:      o.Details,
		TestStrategy: o.TestStrategy,
		Status:       o.Status,
		Priority:     o.Priority,
		Dependencies: o.Dependencies,
		RefID:        o.RefID,
		Metadata:     o.Metadata,
	}
}

func statusList() string {
	names := make([]string, len(models.AllStatuses))
	for i, st := range models.AllStatuses {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d" or
// "24h" into the corresponding time in the past.
func ParseSince(s string) (time.Time, error) {
	now := time.Now().UTC()
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || num < 0 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	switch s[len(s)-1] {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix in %q (use d or h)", s)
	}
}
