package models

import (
	"fmt"
	"strconv"
	"strings"
)

// TaskStatus represents the current lifecycle state of a task or subtask.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
	StatusDeferred   TaskStatus = "deferred"
	StatusBlocked    TaskStatus = "blocked"
)

// AllStatuses lists every valid status in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusInProgress,
	StatusReview,
	StatusBlocked,
	StatusDeferred,
	StatusDone,
	StatusCancelled,
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Priority represents the urgency level of a task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Task is the root unit of work stored in tasks.json. Subtasks are owned by
// the task and are removed with it.
type Task struct {
	ID           int        `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Details      string     `json:"details,omitempty"`
	TestStrategy string     `json:"testStrategy,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     Priority   `json:"priority,omitempty"`
	Dependencies []int      `json:"dependencies,omitempty"`
	Subtasks     []Subtask  `json:"subtasks,omitempty"`
	Metadata     Metadata   `json:"metadata,omitempty"`
}

// Subtask is addressed by the compound identifier "<parentId>.<subtaskId>".
type Subtask struct {
	ID           int        `json:"id"`
	ParentID     int        `json:"-"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Details      string     `json:"details,omitempty"`
	TestStrategy string     `json:"testStrategy,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     Priority   `json:"priority,omitempty"`
	Dependencies []int      `json:"dependencies,omitempty"`
	Metadata     Metadata   `json:"metadata,omitempty"`
}

// TasksFile is the top-level structure of tasks.json.
type TasksFile struct {
	Tasks    []Task         `json:"tasks"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ItemID returns the task identifier as a string.
func (t *Task) ItemID() string { return strconv.Itoa(t.ID) }

// ItemTitle returns the task title.
func (t *Task) ItemTitle() string { return t.Title }

// ItemDescription returns the task description.
func (t *Task) ItemDescription() string { return t.Description }

// ItemDetails returns the implementation details of the task.
func (t *Task) ItemDetails() string { return t.Details }

// ItemStatus returns the task status.
func (t *Task) ItemStatus() TaskStatus { return t.Status }

// SetItemStatus replaces the task status.
func (t *Task) SetItemStatus(s TaskStatus) { t.Status = s }

// ItemPriority returns the task priority.
func (t *Task) ItemPriority() Priority { return t.Priority }

// ItemMetadata returns the task metadata, allocating it on first use.
func (t *Task) ItemMetadata() Metadata {
	if t.Metadata == nil {
		t.Metadata = Metadata{}
	}
	return t.Metadata
}

// IsSubtask reports false for tasks.
func (t *Task) IsSubtask() bool { return false }

// FindSubtask returns a pointer into t.Subtasks for the given subtask id.
func (t *Task) FindSubtask(id int) *Subtask {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			t.Subtasks[i].ParentID = t.ID
			return &t.Subtasks[i]
		}
	}
	return nil
}

// NextSubtaskID returns one past the highest subtask id.
func (t *Task) NextSubtaskID() int {
	next := 1
	for _, st := range t.Subtasks {
		if st.ID >= next {
			next = st.ID + 1
		}
	}
	return next
}

// Clone returns a deep copy of the task, including subtasks and metadata.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Metadata = t.Metadata.Clone()
	if t.Dependencies != nil {
		c.Dependencies = append([]int(nil), t.Dependencies...)
	}
	if t.Subtasks != nil {
		c.Subtasks = make([]Subtask, len(t.Subtasks))
		for i := range t.Subtasks {
			c.Subtasks[i] = *t.Subtasks[i].Clone()
		}
	}
	return &c
}

// ItemID returns the compound "<parentId>.<subtaskId>" identifier.
func (s *Subtask) ItemID() string { return SubtaskRef(s.ParentID, s.ID) }

// ItemTitle returns the subtask title.
func (s *Subtask) ItemTitle() string { return s.Title }

// ItemDescription returns the subtask description.
func (s *Subtask) ItemDescription() string { return s.Description }

// ItemDetails returns the implementation details of the subtask.
func (s *Subtask) ItemDetails() string { return s.Details }

// ItemStatus returns the subtask status.
func (s *Subtask) ItemStatus() TaskStatus { return s.Status }

// SetItemStatus replaces the subtask status.
func (s *Subtask) SetItemStatus(st TaskStatus) { s.Status = st }

// ItemPriority returns the subtask priority.
func (s *Subtask) ItemPriority() Priority { return s.Priority }

// ItemMetadata returns the subtask metadata, allocating it on first use.
func (s *Subtask) ItemMetadata() Metadata {
	if s.Metadata == nil {
		s.Metadata = Metadata{}
	}
	return s.Metadata
}

// IsSubtask reports true for subtasks.
func (s *Subtask) IsSubtask() bool { return true }

// Clone returns a deep copy of the subtask.
func (s *Subtask) Clone() *Subtask {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = s.Metadata.Clone()
	if s.Dependencies != nil {
		c.Dependencies = append([]int(nil), s.Dependencies...)
	}
	return &c
}

// FindTask returns a pointer into f.Tasks for the given id, or nil.
func (f *TasksFile) FindTask(id int) *Task {
	if f == nil {
		return nil
	}
	for i := range f.Tasks {
		if f.Tasks[i].ID == id {
			return &f.Tasks[i]
		}
	}
	return nil
}

// ReplaceTask swaps the task with the same id for t. It reports whether a
// task was replaced.
func (f *TasksFile) ReplaceTask(t Task) bool {
	for i := range f.Tasks {
		if f.Tasks[i].ID == t.ID {
			f.Tasks[i] = t
			return true
		}
	}
	return false
}

// NextTaskID returns one past the highest task id.
func (f *TasksFile) NextTaskID() int {
	next := 1
	for _, t := range f.Tasks {
		if t.ID >= next {
			next = t.ID + 1
		}
	}
	return next
}

// LinkSubtasks fills the non-persisted ParentID field of every subtask.
func (f *TasksFile) LinkSubtasks() {
	for i := range f.Tasks {
		for j := range f.Tasks[i].Subtasks {
			f.Tasks[i].Subtasks[j].ParentID = f.Tasks[i].ID
		}
	}
}

// SubtaskRef formats the compound identifier of a subtask.
func SubtaskRef(parentID, subtaskID int) string {
	return fmt.Sprintf("%d.%d", parentID, subtaskID)
}

// ParseSubtaskRef splits a compound "<parentId>.<subtaskId>" identifier.
func ParseSubtaskRef(ref string) (parentID, subtaskID int, err error) {
	parts := strings.Split(strings.TrimSpace(ref), ".")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid subtask id %q: expected <parentId>.<subtaskId>", ref)
	}
	parentID, err = strconv.Atoi(parts[0])
	if err != nil || parentID <= 0 {
		return 0, 0, fmt.Errorf("invalid subtask id %q: bad parent id", ref)
	}
	subtaskID, err = strconv.Atoi(parts[1])
	if err != nil || subtaskID <= 0 {
		return 0, 0, fmt.Errorf("invalid subtask id %q: bad subtask id", ref)
	}
	return parentID, subtaskID, nil
}

// IsSubtaskRef reports whether id looks like a compound subtask identifier.
func IsSubtaskRef(id string) bool {
	return strings.Contains(id, ".")
}
