package models

import "errors"

var (
	// ErrTaskNotFound is returned when a task id does not exist in tasks.json.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSubtaskNotFound is returned when a compound subtask id does not resolve.
	ErrSubtaskNotFound = errors.New("subtask not found")
)
