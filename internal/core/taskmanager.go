package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valter-silva-au/taskmaster/internal/events"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

var (
	ErrTaskNotFound    = models.ErrTaskNotFound
	ErrSubtaskNotFound = models.ErrSubtaskNotFound
)

// TaskStore is the subset of storage.TaskStore that TaskManager needs.
// Defining it here keeps core independent of the storage package.
type TaskStore interface {
	Read(path string) (*models.TasksFile, error)
	Update(path string, fn func(data *models.TasksFile) error) error
}

// EventEmitter is the subset of events.Bus that TaskManager publishes to.
type EventEmitter interface {
	Emit(eventType events.Type, payload *events.Payload) bool
}

// TaskInput carries the user-editable fields of a task or subtask. On
// update, zero-valued fields are left unchanged.
type TaskInput struct {
	Title        string
	Description  string
	Details      string
	TestStrategy string
	Priority     models.Priority
	Status       models.TaskStatus
	Dependencies []int
}

// TaskManager defines the interface for task lifecycle operations. Every
// mutating operation persists tasks.json first and then emits the matching
// lifecycle event.
type TaskManager interface {
	ListTasks(statusFilter models.TaskStatus) ([]models.Task, error)
	GetTask(taskID int) (*models.Task, error)
	GetSubtask(ref string) (*models.Subtask, error)
	AddTask(input TaskInput) (*models.Task, error)
	UpdateTask(taskID int, input TaskInput) (*models.Task, error)
	// SetTaskStatus accepts a task id ("7") or a subtask id ("7.2").
	SetTaskStatus(id string, status models.TaskStatus) error
	AddSubtask(parentID int, input TaskInput) (*models.Subtask, error)
	UpdateSubtask(ref string, input TaskInput) (*models.Subtask, error)
	RemoveTask(taskID int) error
	RemoveSubtask(ref string) error
	TasksPath() string
}

type taskManager struct {
	tasksPath   string
	projectRoot string
	store       TaskStore
	emitter     EventEmitter
	eventLogger EventLogger
	now         func() time.Time
}

// NewTaskManager creates a TaskManager over the tasks file at tasksPath.
// emitter and eventLogger may be nil.
func NewTaskManager(tasksPath, projectRoot string, store TaskStore, emitter EventEmitter, eventLogger EventLogger) TaskManager {
	return &taskManager{
		tasksPath:   tasksPath,
		projectRoot: projectRoot,
		store:       store,
		emitter:     emitter,
		eventLogger: eventLogger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (tm *taskManager) TasksPath() string { return tm.tasksPath }

func (tm *taskManager) ListTasks(statusFilter models.TaskStatus) ([]models.Task, error) {
	data, err := tm.store.Read(tm.tasksPath)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	if statusFilter == "" {
		return data.Tasks, nil
	}
	var out []models.Task
	for _, t := range data.Tasks {
		if t.Status == statusFilter {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tm *taskManager) GetTask(taskID int) (*models.Task, error) {
	data, err := tm.store.Read(tm.tasksPath)
	if err != nil {
		return nil, fmt.Errorf("getting task %d: %w", taskID, err)
	}
	t := data.FindTask(taskID)
	if t == nil {
		return nil, fmt.Errorf("getting task %d: %w", taskID, ErrTaskNotFound)
	}
	return t, nil
}

func (tm *taskManager) GetSubtask(ref string) (*models.Subtask, error) {
	parentID, subID, err := models.ParseSubtaskRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := tm.store.Read(tm.tasksPath)
	if err != nil {
		return nil, fmt.Errorf("getting subtask %s: %w", ref, err)
	}
	_, sub, err := findSubtask(data, parentID, subID)
	if err != nil {
		return nil, fmt.Errorf("getting subtask %s: %w", ref, err)
	}
	return sub, nil
}

func (tm *taskManager) AddTask(input TaskInput) (*models.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("adding task: title is required")
	}
	if err := validateInput(input); err != nil {
		return nil, fmt.Errorf("adding task: %w", err)
	}

	var (
		created *models.Task
		snap    *models.TasksFile
	)
	err := tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		t := models.Task{
			ID:           data.NextTaskID(),
			Title:        input.Title,
			Description:  input.Description,
			Details:      input.Details,
			TestStrategy: input.TestStrategy,
			Status:       models.StatusPending,
			Priority:     input.Priority,
			Dependencies: input.Dependencies,
			Metadata:     models.Metadata{},
		}
		if input.Status != "" {
			t.Status = input.Status
		}
		if t.Priority == "" {
			t.Priority = models.PriorityMedium
		}
		t.Metadata.SetRefID(models.TaskRefID(t.ID))
		t.Metadata.TouchStatus(tm.now())
		data.Tasks = append(data.Tasks, t)
		created = data.FindTask(t.ID)
		snap = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adding task: %w", err)
	}

	tm.logEvent("task.created", map[string]any{"task_id": created.ItemID(), "title": created.Title})
	tm.emit(events.TaskCreated, &events.Payload{TaskID: created.ItemID(), Task: created, Data: snap})
	return created.Clone(), nil
}

func (tm *taskManager) UpdateTask(taskID int, input TaskInput) (*models.Task, error) {
	if err := validateInput(input); err != nil {
		return nil, fmt.Errorf("updating task %d: %w", taskID, err)
	}

	var (
		updated, previous *models.Task
		snap              *models.TasksFile
	)
	err := tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		t := data.FindTask(taskID)
		if t == nil {
			return ErrTaskNotFound
		}
		previous = t.Clone()
		applyTaskInput(t, input)
		if input.Status != "" && input.Status != previous.Status {
			t.Metadata = t.ItemMetadata()
			t.Metadata.TouchStatus(tm.now())
		}
		updated, snap = t, data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating task %d: %w", taskID, err)
	}

	tm.emit(events.TaskUpdated, &events.Payload{
		TaskID:       updated.ItemID(),
		Task:         updated,
		PreviousTask: previous,
		Data:         snap,
	})
	if updated.Status != previous.Status {
		tm.statusChanged(updated.ItemID(), previous.Status, updated.Status)
		tm.emit(events.TaskStatusChanged, &events.Payload{
			TaskID:       updated.ItemID(),
			NewStatus:    updated.Status,
			Task:         updated,
			PreviousTask: previous,
			Data:         snap,
		})
	}
	return updated.Clone(), nil
}

func (tm *taskManager) SetTaskStatus(id string, status models.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("setting status of %s: invalid status %q", id, status)
	}
	if models.IsSubtaskRef(id) {
		return tm.setSubtaskStatus(id, status)
	}
	taskID, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("setting status: invalid task id %q", id)
	}

	var (
		task     *models.Task
		previous *models.Task
		snap     *models.TasksFile
	)
	err = tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		t := data.FindTask(taskID)
		if t == nil {
			return ErrTaskNotFound
		}
		previous = t.Clone()
		t.Status = status
		t.Metadata = t.ItemMetadata()
		t.Metadata.TouchStatus(tm.now())
		task, snap = t, data
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting status of task %d: %w", taskID, err)
	}

	tm.statusChanged(task.ItemID(), previous.Status, status)
	tm.emit(events.TaskStatusChanged, &events.Payload{
		TaskID:       task.ItemID(),
		NewStatus:    status,
		Task:         task,
		PreviousTask: previous,
		Data:         snap,
	})
	return nil
}

func (tm *taskManager) setSubtaskStatus(ref string, status models.TaskStatus) error {
	parentID, subID, err := models.ParseSubtaskRef(ref)
	if err != nil {
		return fmt.Errorf("setting status: %w", err)
	}

	var (
		parent   *models.Task
		sub      *models.Subtask
		previous *models.Subtask
		snap     *models.TasksFile
	)
	err = tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		p, s, err := findSubtask(data, parentID, subID)
		if err != nil {
			return err
		}
		previous = s.Clone()
		s.Status = status
		s.Metadata = s.ItemMetadata()
		s.Metadata.TouchStatus(tm.now())
		parent, sub, snap = p, s, data
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting status of subtask %s: %w", ref, err)
	}

	tm.statusChanged(sub.ItemID(), previous.Status, status)
	tm.emit(events.SubtaskStatusChanged, &events.Payload{
		TaskID:          sub.ItemID(),
		NewStatus:       status,
		Task:            parent,
		Subtask:         sub,
		PreviousSubtask: previous,
		Data:            snap,
	})
	return nil
}

func (tm *taskManager) AddSubtask(parentID int, input TaskInput) (*models.Subtask, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, fmt.Errorf("adding subtask to task %d: title is required", parentID)
	}
	if err := validateInput(input); err != nil {
		return nil, fmt.Errorf("adding subtask to task %d: %w", parentID, err)
	}

	var (
		parent *models.Task
		sub    *models.Subtask
		snap   *models.TasksFile
	)
	err := tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		p := data.FindTask(parentID)
		if p == nil {
			return ErrTaskNotFound
		}
		s := models.Subtask{
			ID:           p.NextSubtaskID(),
			ParentID:     p.ID,
			Title:        input.Title,
			Description:  input.Description,
			Details:      input.Details,
			TestStrategy: input.TestStrategy,
			Status:       models.StatusPending,
			Priority:     input.Priority,
			Dependencies: input.Dependencies,
			Metadata:     models.Metadata{},
		}
		if input.Status != "" {
			s.Status = input.Status
		}
		s.Metadata.SetRefID(models.SubtaskRefID(p.ID, s.ID))
		s.Metadata.TouchStatus(tm.now())
		p.Subtasks = append(p.Subtasks, s)
		parent, sub, snap = p, p.FindSubtask(s.ID), data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adding subtask to task %d: %w", parentID, err)
	}

	tm.logEvent("subtask.created", map[string]any{"task_id": sub.ItemID(), "title": sub.Title})
	tm.emit(events.SubtaskCreated, &events.Payload{TaskID: sub.ItemID(), Task: parent, Subtask: sub, Data: snap})
	return sub.Clone(), nil
}

func (tm *taskManager) UpdateSubtask(ref string, input TaskInput) (*models.Subtask, error) {
	parentID, subID, err := models.ParseSubtaskRef(ref)
	if err != nil {
		return nil, fmt.Errorf("updating subtask: %w", err)
	}
	if err := validateInput(input); err != nil {
		return nil, fmt.Errorf("updating subtask %s: %w", ref, err)
	}

	var (
		parent   *models.Task
		sub      *models.Subtask
		previous *models.Subtask
		snap     *models.TasksFile
	)
	err = tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		p, s, err := findSubtask(data, parentID, subID)
		if err != nil {
			return err
		}
		previous = s.Clone()
		applySubtaskInput(s, input)
		if input.Status != "" && input.Status != previous.Status {
			s.Metadata = s.ItemMetadata()
			s.Metadata.TouchStatus(tm.now())
		}
		parent, sub, snap = p, s, data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating subtask %s: %w", ref, err)
	}

	tm.emit(events.SubtaskUpdated, &events.Payload{
		TaskID:          sub.ItemID(),
		Task:            parent,
		Subtask:         sub,
		PreviousSubtask: previous,
		Data:            snap,
	})
	if sub.Status != previous.Status {
		tm.statusChanged(sub.ItemID(), previous.Status, sub.Status)
		tm.emit(events.SubtaskStatusChanged, &events.Payload{
			TaskID:          sub.ItemID(),
			NewStatus:       sub.Status,
			Task:            parent,
			Subtask:         sub,
			PreviousSubtask: previous,
			Data:            snap,
		})
	}
	return sub.Clone(), nil
}

// RemoveTask deletes a task and its subtasks. The emitted payload carries
// the removed task so handlers can clean up its tickets.
func (tm *taskManager) RemoveTask(taskID int) error {
	var (
		removed *models.Task
		snap    *models.TasksFile
	)
	err := tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		for i := range data.Tasks {
			if data.Tasks[i].ID == taskID {
				removed = data.Tasks[i].Clone()
				data.Tasks = append(data.Tasks[:i], data.Tasks[i+1:]...)
				snap = data
				return nil
			}
		}
		return ErrTaskNotFound
	})
	if err != nil {
		return fmt.Errorf("removing task %d: %w", taskID, err)
	}

	tm.logEvent("task.deleted", map[string]any{"task_id": removed.ItemID(), "subtasks": len(removed.Subtasks)})
	tm.emit(events.TaskDeleted, &events.Payload{TaskID: removed.ItemID(), Task: removed, Data: snap})
	return nil
}

func (tm *taskManager) RemoveSubtask(ref string) error {
	parentID, subID, err := models.ParseSubtaskRef(ref)
	if err != nil {
		return fmt.Errorf("removing subtask: %w", err)
	}

	var (
		parent  *models.Task
		removed *models.Subtask
		snap    *models.TasksFile
	)
	err = tm.store.Update(tm.tasksPath, func(data *models.TasksFile) error {
		p := data.FindTask(parentID)
		if p == nil {
			return ErrTaskNotFound
		}
		for i := range p.Subtasks {
			if p.Subtasks[i].ID == subID {
				removed = p.Subtasks[i].Clone()
				removed.ParentID = p.ID
				p.Subtasks = append(p.Subtasks[:i], p.Subtasks[i+1:]...)
				parent, snap = p, data
				return nil
			}
		}
		return ErrSubtaskNotFound
	})
	if err != nil {
		return fmt.Errorf("removing subtask %s: %w", ref, err)
	}

	tm.logEvent("subtask.deleted", map[string]any{"task_id": removed.ItemID()})
	tm.emit(events.SubtaskDeleted, &events.Payload{TaskID: removed.ItemID(), Task: parent, Subtask: removed, Data: snap})
	return nil
}

func (tm *taskManager) emit(eventType events.Type, p *events.Payload) {
	if tm.emitter == nil {
		return
	}
	p.TasksPath = tm.tasksPath
	p.ProjectRoot = tm.projectRoot
	tm.emitter.Emit(eventType, p)
}

func (tm *taskManager) statusChanged(id string, from, to models.TaskStatus) {
	tm.logEvent("task.status_changed", map[string]any{
		"task_id":    id,
		"old_status": string(from),
		"new_status": string(to),
	})
}

// logEvent is best-effort; the event log never blocks a task operation.
func (tm *taskManager) logEvent(eventType string, data map[string]any) {
	if tm.eventLogger == nil {
		return
	}
	_ = tm.eventLogger.LogEvent(eventType, data)
}

func findSubtask(data *models.TasksFile, parentID, subID int) (*models.Task, *models.Subtask, error) {
	p := data.FindTask(parentID)
	if p == nil {
		return nil, nil, ErrTaskNotFound
	}
	s := p.FindSubtask(subID)
	if s == nil {
		return nil, nil, ErrSubtaskNotFound
	}
	return p, s, nil
}

func validateInput(input TaskInput) error {
	if input.Status != "" && !input.Status.Valid() {
		return fmt.Errorf("invalid status %q", input.Status)
	}
	if input.Priority != "" && !input.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", input.Priority)
	}
	return nil
}

func applyTaskInput(t *models.Task, in TaskInput) {
	if in.Title != "" {
		t.Title = in.Title
	}
	if in.Description != "" {
		t.Description = in.Description
	}
	if in.Details != "" {
		t.Details = in.Details
	}
	if in.TestStrategy != "" {
		t.TestStrategy = in.TestStrategy
	}
	if in.Priority != "" {
		t.Priority = in.Priority
	}
	if in.Status != "" {
		t.Status = in.Status
	}
	if in.Dependencies != nil {
		t.Dependencies = in.Dependencies
	}
}

func applySubtaskInput(s *models.Subtask, in TaskInput) {
	if in.Title != "" {
		s.Title = in.Title
	}
	if in.Description != "" {
		s.Description = in.Description
	}
	if in.Details != "" {
		s.Details = in.Details
	}
	if in.TestStrategy != "" {
		s.TestStrategy = in.TestStrategy
	}
	if in.Priority != "" {
		s.Priority = in.Priority
	}
	if in.Status != "" {
		s.Status = in.Status
	}
	if in.Dependencies != nil {
		s.Dependencies = in.Dependencies
	}
}
