package models

import "fmt"

// TaskRefID formats the stable cross-reference id of a task, e.g. US007.
func TaskRefID(taskID int) string {
	return fmt.Sprintf("US%03d", taskID)
}

// SubtaskRefID formats the stable cross-reference id of a subtask, e.g. T007-02.
func SubtaskRefID(parentID, subtaskID int) string {
	return fmt.Sprintf("T%03d-%02d", parentID, subtaskID)
}

// EnsureRefIDs assigns a refId to every task and subtask that lacks one.
// Existing refIds are left untouched. It returns the number assigned.
func EnsureRefIDs(f *TasksFile) int {
	if f == nil {
		return 0
	}
	assigned := 0
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.ItemMetadata().SetRefID(TaskRefID(t.ID)) {
			assigned++
		}
		for j := range t.Subtasks {
			st := &t.Subtasks[j]
			st.ParentID = t.ID
			if st.ItemMetadata().SetRefID(SubtaskRefID(t.ID, st.ID)) {
				assigned++
			}
		}
	}
	return assigned
}
