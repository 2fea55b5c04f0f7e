package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/valter-silva-au/taskmaster/internal/events"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

const testTasksPath = "/project/tasks/tasks.json"

// inMemoryStore implements TaskStore for testing. Every Read returns a deep
// copy so tests observe only what was committed through Update.
type inMemoryStore struct {
	mu     sync.Mutex
	data   *models.TasksFile
	writes int
	err    error
}

func newInMemoryStore(tasks ...models.Task) *inMemoryStore {
	return &inMemoryStore{data: &models.TasksFile{Tasks: tasks}}
}

func cloneFile(f *models.TasksFile) *models.TasksFile {
	c := &models.TasksFile{}
	for i := range f.Tasks {
		c.Tasks = append(c.Tasks, *f.Tasks[i].Clone())
	}
	c.LinkSubtasks()
	return c
}

func (s *inMemoryStore) Read(string) (*models.TasksFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return cloneFile(s.data), nil
}

func (s *inMemoryStore) Update(_ string, fn func(*models.TasksFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	working := cloneFile(s.data)
	if err := fn(working); err != nil {
		return err
	}
	s.data = cloneFile(working)
	s.writes++
	return nil
}

type emitted struct {
	eventType events.Type
	payload   *events.Payload
}

// recordingEmitter captures emissions instead of dispatching them.
type recordingEmitter struct {
	events []emitted
}

func (r *recordingEmitter) Emit(eventType events.Type, p *events.Payload) bool {
	r.events = append(r.events, emitted{eventType, p})
	return true
}

func (r *recordingEmitter) types() []events.Type {
	var out []events.Type
	for _, e := range r.events {
		out = append(out, e.eventType)
	}
	return out
}

type loggedEvent struct {
	eventType string
	data      map[string]any
}

type mockEventLogger struct {
	entries []loggedEvent
}

func (m *mockEventLogger) LogEvent(eventType string, data map[string]any) error {
	m.entries = append(m.entries, loggedEvent{eventType, data})
	return nil
}

var testNow = time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestManager(store *inMemoryStore) (*taskManager, *recordingEmitter, *mockEventLogger) {
	em := &recordingEmitter{}
	el := &mockEventLogger{}
	tm := NewTaskManager(testTasksPath, "/project", store, em, el).(*taskManager)
	tm.now = func() time.Time { return testNow }
	return tm, em, el
}

func sameTypes(got, want []events.Type) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAddTask_AssignsIDAndRefID(t *testing.T) {
	store := newInMemoryStore(models.Task{ID: 4, Title: "existing", Status: models.StatusDone})
	tm, em, el := newTestManager(store)

	task, err := tm.AddTask(TaskInput{Title: "Checkout flow", Priority: models.PriorityHigh})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.ID != 5 {
		t.Errorf("ID = %d, want 5", task.ID)
	}
	if task.Metadata.RefID() != "US005" {
		t.Errorf("refId = %q, want US005", task.Metadata.RefID())
	}
	if task.Status != models.StatusPending {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if ts, ok := task.Metadata.LastStatusUpdate(); !ok || !ts.Equal(testNow) {
		t.Errorf("lastStatusUpdate = %v (%v)", ts, ok)
	}

	if !sameTypes(em.types(), []events.Type{events.TaskCreated}) {
		t.Fatalf("emitted %v", em.types())
	}
	p := em.events[0].payload
	if p.TaskID != "5" || p.TasksPath != testTasksPath || p.ProjectRoot != "/project" {
		t.Errorf("payload = %+v", p)
	}
	if p.Data == nil || p.Data.FindTask(5) != p.Task {
		t.Error("payload task must point into payload data")
	}
	if len(el.entries) != 1 || el.entries[0].eventType != "task.created" {
		t.Errorf("event log = %+v", el.entries)
	}
	if store.writes != 1 {
		t.Errorf("writes = %d, want 1", store.writes)
	}
}

func TestAddTask_RequiresTitle(t *testing.T) {
	tm, em, _ := newTestManager(newInMemoryStore())
	if _, err := tm.AddTask(TaskInput{Title: "  "}); err == nil {
		t.Fatal("expected error for empty title")
	}
	if _, err := tm.AddTask(TaskInput{Title: "x", Priority: "urgent"}); err == nil {
		t.Fatal("expected error for invalid priority")
	}
	if len(em.events) != 0 {
		t.Errorf("nothing should be emitted, got %v", em.types())
	}
}

func TestSetTaskStatus_Task(t *testing.T) {
	store := newInMemoryStore(models.Task{ID: 7, Title: "t", Status: models.StatusPending})
	tm, em, el := newTestManager(store)

	if err := tm.SetTaskStatus("7", models.StatusDone); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	got, _ := tm.GetTask(7)
	if got.Status != models.StatusDone {
		t.Errorf("Status = %q", got.Status)
	}
	if ts, ok := got.Metadata.LastStatusUpdate(); !ok || !ts.Equal(testNow) {
		t.Errorf("lastStatusUpdate not touched: %v", ts)
	}
	if !sameTypes(em.types(), []events.Type{events.TaskStatusChanged}) {
		t.Fatalf("emitted %v", em.types())
	}
	p := em.events[0].payload
	if p.NewStatus != models.StatusDone || p.PreviousTask.Status != models.StatusPending {
		t.Errorf("payload = %+v", p)
	}
	if len(el.entries) != 1 || el.entries[0].eventType != "task.status_changed" {
		t.Fatalf("event log = %+v", el.entries)
	}
	if el.entries[0].data["old_status"] != "pending" || el.entries[0].data["new_status"] != "done" {
		t.Errorf("event data = %v", el.entries[0].data)
	}
}

func TestSetTaskStatus_Subtask(t *testing.T) {
	store := newInMemoryStore(models.Task{
		ID:       2,
		Subtasks: []models.Subtask{{ID: 1, Title: "a", Status: models.StatusPending}},
	})
	tm, em, _ := newTestManager(store)

	if err := tm.SetTaskStatus("2.1", models.StatusInProgress); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	sub, err := tm.GetSubtask("2.1")
	if err != nil {
		t.Fatalf("GetSubtask: %v", err)
	}
	if sub.Status != models.StatusInProgress {
		t.Errorf("Status = %q", sub.Status)
	}
	if !sameTypes(em.types(), []events.Type{events.SubtaskStatusChanged}) {
		t.Fatalf("emitted %v", em.types())
	}
	p := em.events[0].payload
	if p.TaskID != "2.1" || p.Subtask == nil || p.Task == nil || p.Task.ID != 2 {
		t.Errorf("payload = %+v", p)
	}
}

func TestSetTaskStatus_Errors(t *testing.T) {
	store := newInMemoryStore(models.Task{ID: 1})
	tm, em, _ := newTestManager(store)

	tests := []struct {
		id     string
		status models.TaskStatus
		target error
	}{
		{"1", "finished", nil},
		{"abc", models.StatusDone, nil},
		{"9", models.StatusDone, ErrTaskNotFound},
		{"1.4", models.StatusDone, ErrSubtaskNotFound},
		{"9.1", models.StatusDone, ErrTaskNotFound},
		{"1.x", models.StatusDone, nil},
	}
	for _, tt := range tests {
		err := tm.SetTaskStatus(tt.id, tt.status)
		if err == nil {
			t.Errorf("SetTaskStatus(%q, %q): expected error", tt.id, tt.status)
			continue
		}
		if tt.target != nil && !errors.Is(err, tt.target) {
			t.Errorf("SetTaskStatus(%q): error %v is not %v", tt.id, err, tt.target)
		}
	}
	if len(em.events) != 0 || store.writes != 0 {
		t.Errorf("failed operations must not write or emit: writes=%d events=%v", store.writes, em.types())
	}
}

func TestUpdateTask_EmitsUpdatedThenStatusChanged(t *testing.T) {
	store := newInMemoryStore(models.Task{ID: 3, Title: "old", Status: models.StatusPending, Priority: models.PriorityLow})
	tm, em, _ := newTestManager(store)

	task, err := tm.UpdateTask(3, TaskInput{Title: "new", Status: models.StatusReview})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if task.Title != "new" || task.Priority != models.PriorityLow {
		t.Errorf("task = %+v", task)
	}
	want := []events.Type{events.TaskUpdated, events.TaskStatusChanged}
	if !sameTypes(em.types(), want) {
		t.Fatalf("emitted %v, want %v", em.types(), want)
	}
	if em.events[0].payload.PreviousTask.Title != "old" {
		t.Errorf("previous task = %+v", em.events[0].payload.PreviousTask)
	}

	em.events = nil
	if _, err := tm.UpdateTask(3, TaskInput{Details: "more"}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if !sameTypes(em.types(), []events.Type{events.TaskUpdated}) {
		t.Errorf("emitted %v", em.types())
	}

	if _, err := tm.UpdateTask(99, TaskInput{Title: "x"}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestAddSubtask_RefIDAndEvent(t *testing.T) {
	store := newInMemoryStore(models.Task{ID: 1, Subtasks: []models.Subtask{{ID: 1}, {ID: 3}}})
	tm, em, _ := newTestManager(store)

	sub, err := tm.AddSubtask(1, TaskInput{Title: "wire it"})
	if err != nil {
		t.Fatalf("AddSubtask: %v", err)
	}
	if sub.ID != 4 || sub.ParentID != 1 {
		t.Errorf("sub = %+v", sub)
	}
	if sub.Metadata.RefID() != "T001-04" {
		t.Errorf("refId = %q, want T001-04", sub.Metadata.RefID())
	}
	if !sameTypes(em.types(), []events.Type{events.SubtaskCreated}) {
		t.Fatalf("emitted %v", em.types())
	}
	if em.events[0].payload.TaskID != "1.4" {
		t.Errorf("TaskID = %q", em.events[0].payload.TaskID)
	}

	if _, err := tm.AddSubtask(8, TaskInput{Title: "orphan"}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestUpdateSubtask(t *testing.T) {
	store := newInMemoryStore(models.Task{ID: 1, Subtasks: []models.Subtask{{ID: 2, Title: "a", Status: models.StatusPending}}})
	tm, em, _ := newTestManager(store)

	sub, err := tm.UpdateSubtask("1.2", TaskInput{Title: "b", Status: models.StatusDone})
	if err != nil {
		t.Fatalf("UpdateSubtask: %v", err)
	}
	if sub.Title != "b" || sub.Status != models.StatusDone {
		t.Errorf("sub = %+v", sub)
	}
	want := []events.Type{events.SubtaskUpdated, events.SubtaskStatusChanged}
	if !sameTypes(em.types(), want) {
		t.Fatalf("emitted %v, want %v", em.types(), want)
	}
	if em.events[0].payload.PreviousSubtask.Title != "a" {
		t.Errorf("previous = %+v", em.events[0].payload.PreviousSubtask)
	}
}

func TestRemoveTask_CarriesRemovedTask(t *testing.T) {
	store := newInMemoryStore(
		models.Task{ID: 1},
		models.Task{ID: 2, Metadata: models.Metadata{models.MetaJiraKey: "PROJ-2"}, Subtasks: []models.Subtask{{ID: 1}}},
	)
	tm, em, _ := newTestManager(store)

	if err := tm.RemoveTask(2); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	tasks, _ := tm.ListTasks("")
	if len(tasks) != 1 || tasks[0].ID != 1 {
		t.Errorf("remaining = %+v", tasks)
	}
	p := em.events[0].payload
	if em.events[0].eventType != events.TaskDeleted || p.Task.Metadata.String(models.MetaJiraKey) != "PROJ-2" || len(p.Task.Subtasks) != 1 {
		t.Errorf("payload = %+v", p)
	}
	if err := tm.RemoveTask(2); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRemoveSubtask(t *testing.T) {
	store := newInMemoryStore(models.Task{ID: 3, Subtasks: []models.Subtask{{ID: 1}, {ID: 2}}})
	tm, em, _ := newTestManager(store)

	if err := tm.RemoveSubtask("3.1"); err != nil {
		t.Fatalf("RemoveSubtask: %v", err)
	}
	task, _ := tm.GetTask(3)
	if len(task.Subtasks) != 1 || task.Subtasks[0].ID != 2 {
		t.Errorf("subtasks = %+v", task.Subtasks)
	}
	p := em.events[0].payload
	if p.TaskID != "3.1" || p.Subtask.ParentID != 3 {
		t.Errorf("payload = %+v", p)
	}
	if err := tm.RemoveSubtask("3.1"); !errors.Is(err, ErrSubtaskNotFound) {
		t.Errorf("expected ErrSubtaskNotFound, got %v", err)
	}
}

func TestListTasks_Filter(t *testing.T) {
	store := newInMemoryStore(
		models.Task{ID: 1, Status: models.StatusDone},
		models.Task{ID: 2, Status: models.StatusPending},
		models.Task{ID: 3, Status: models.StatusDone},
	)
	tm, _, _ := newTestManager(store)

	done, err := tm.ListTasks(models.StatusDone)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(done) != 2 {
		t.Errorf("got %d done tasks, want 2", len(done))
	}
	all, _ := tm.ListTasks("")
	if len(all) != 3 {
		t.Errorf("got %d tasks, want 3", len(all))
	}
}

func TestTaskManager_StoreErrorsPropagate(t *testing.T) {
	store := newInMemoryStore()
	store.err = fmt.Errorf("disk on fire")
	tm, em, _ := newTestManager(store)

	if _, err := tm.ListTasks(""); err == nil {
		t.Error("expected ListTasks error")
	}
	if _, err := tm.AddTask(TaskInput{Title: "x"}); err == nil {
		t.Error("expected AddTask error")
	}
	if len(em.events) != 0 {
		t.Errorf("emitted %v", em.types())
	}
}

func TestTaskManager_NilEmitterAndLogger(t *testing.T) {
	tm := NewTaskManager(testTasksPath, "", newInMemoryStore(), nil, nil)
	task, err := tm.AddTask(TaskInput{Title: "quiet"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := tm.SetTaskStatus(task.ItemID(), models.StatusDone); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
}
