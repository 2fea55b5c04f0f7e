package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/valter-silva-au/taskmaster/internal/core"
	"github.com/valter-silva-au/taskmaster/internal/observability"
	"github.com/valter-silva-au/taskmaster/internal/storage"
	"github.com/valter-silva-au/taskmaster/internal/ticketsync"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// useTaskManager points TaskMgr at a file-backed task manager seeded with
// data and restores the previous value when the test ends.
func useTaskManager(t *testing.T, data *models.TasksFile) core.TaskManager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	store := storage.NewTaskStore()
	if data != nil {
		if err := store.Write(path, data); err != nil {
			t.Fatalf("seeding tasks: %v", err)
		}
	}

	orig := TaskMgr
	t.Cleanup(func() { TaskMgr = orig })
	TaskMgr = core.NewTaskManager(path, dir, store, nil, nil)
	return TaskMgr
}

func seedTasks() *models.TasksFile {
	return &models.TasksFile{Tasks: []models.Task{
		{
			ID:       1,
			Title:    "Set up auth",
			Status:   models.StatusInProgress,
			Priority: models.PriorityHigh,
			Metadata: models.Metadata{"refId": "US001", "jiraKey": "PROJ-1"},
			Subtasks: []models.Subtask{
				{ID: 1, Title: "Token endpoint", Status: models.StatusPending, Metadata: models.Metadata{"refId": "T001-01"}},
			},
		},
		{ID: 2, Title: "Fix login", Status: models.StatusPending, Priority: models.PriorityMedium},
	}}
}

// run executes cmd with the given flags set and returns its output. Flags are
// reset afterwards so package-level flag variables do not leak between tests.
func run(t *testing.T, cmd *cobra.Command, flags map[string]string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	defer func() {
		cmd.SetOut(nil)
		cmd.Flags().Visit(func(f *pflag.Flag) {
			if f.Value.Type() != "intSlice" {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}()

	for name, value := range flags {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("setting --%s: %v", name, err)
		}
	}
	err := cmd.RunE(cmd, args)
	return out.String(), err
}

// --- Fakes ---

type fakeSyncer struct {
	result ticketsync.SyncResult
	report ticketsync.StatusReport
	opts   ticketsync.SyncOptions
	path   string
	calls  int
}

func (f *fakeSyncer) SyncTickets(_ context.Context, tasksPath string, opts ticketsync.SyncOptions) ticketsync.SyncResult {
	f.calls++
	f.path = tasksPath
	f.opts = opts
	return f.result
}

func (f *fakeSyncer) CheckStatus(_ context.Context) ticketsync.StatusReport {
	return f.report
}

func useSyncer(t *testing.T, s TicketSyncer) {
	t.Helper()
	orig := Syncer
	t.Cleanup(func() { Syncer = orig })
	Syncer = s
}

type alertsMock struct {
	alerts []observability.Alert
	err    error
}

func (m *alertsMock) Evaluate() ([]observability.Alert, error) {
	return m.alerts, m.err
}

type notifierMock struct {
	sent [][]observability.Alert
	err  error
}

func (m *notifierMock) Notify(_ context.Context, alerts []observability.Alert) error {
	m.sent = append(m.sent, alerts)
	return m.err
}

type metricsMock struct {
	metrics *observability.Metrics
	err     error
	since   time.Time
}

func (m *metricsMock) Calculate(since time.Time) (*observability.Metrics, error) {
	m.since = since
	return m.metrics, m.err
}
