package events

import "github.com/valter-silva-au/taskmaster/pkg/models"

// Type identifies a task lifecycle event.
type Type string

const (
	TaskCreated          Type = "task:created"
	TaskUpdated          Type = "task:updated"
	TaskDeleted          Type = "task:deleted"
	TaskStatusChanged    Type = "task:status:changed"
	SubtaskCreated       Type = "subtask:created"
	SubtaskUpdated       Type = "subtask:updated"
	SubtaskDeleted       Type = "subtask:deleted"
	SubtaskStatusChanged Type = "subtask:status:changed"
)

// AllTypes lists every lifecycle event type.
var AllTypes = []Type{
	TaskCreated,
	TaskUpdated,
	TaskDeleted,
	TaskStatusChanged,
	SubtaskCreated,
	SubtaskUpdated,
	SubtaskDeleted,
	SubtaskStatusChanged,
}

// Payload is the envelope delivered to every subscriber.
//
// Data is the in-memory task collection at emission time. It is shared, not
// cloned: handlers mutate it and persist it back to TasksPath.
type Payload struct {
	// TaskID is the task id, or "<parentId>.<subtaskId>" for subtask events.
	TaskID          string
	NewStatus       models.TaskStatus
	Task            *models.Task
	Subtask         *models.Subtask
	PreviousTask    *models.Task
	PreviousSubtask *models.Subtask
	Data            *models.TasksFile
	TasksPath       string
	ProjectRoot     string
}
