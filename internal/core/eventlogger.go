package core

// EventLogger is the audit sink TaskManager reports lifecycle changes to,
// typically the JSONL event log. Core depends on this interface only.
type EventLogger interface {
	LogEvent(eventType string, data map[string]any) error
}
