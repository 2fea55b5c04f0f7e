package observability

import (
	"fmt"
	"time"
)

// Metrics holds task and ticket sync metrics derived from the event log.
type Metrics struct {
	TasksCreated   int            `json:"tasks_created"`
	TasksCompleted int            `json:"tasks_completed"`
	TasksDeleted   int            `json:"tasks_deleted"`
	StatusChanges  map[string]int `json:"status_changes"`

	TicketsCreated int `json:"tickets_created"`
	TicketsUpdated int `json:"tickets_updated"`
	TicketsDeleted int `json:"tickets_deleted"`
	StatusesPushed int `json:"statuses_pushed"`
	StatusesPulled int `json:"statuses_pulled"`
	SyncFailures   int `json:"sync_failures"`
	SyncSkipped    int `json:"sync_skipped"`
	SyncRuns       int `json:"sync_runs"`
	// FailuresByItem counts sync.failed events per task or subtask id.
	FailuresByItem map[string]int `json:"failures_by_item,omitempty"`
	LastSync       *time.Time     `json:"last_sync,omitempty"`

	EventCount  int        `json:"event_count"`
	OldestEvent *time.Time `json:"oldest_event,omitempty"`
	NewestEvent *time.Time `json:"newest_event,omitempty"`
}

// SyncSuccessRate returns the share of sync operations that did not fail,
// or 1 when nothing was attempted.
func (m *Metrics) SyncSuccessRate() float64 {
	ok := m.TicketsCreated + m.TicketsUpdated + m.TicketsDeleted + m.StatusesPushed + m.StatusesPulled
	total := ok + m.SyncFailures
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

// MetricsCalculator derives metrics from the event log.
type MetricsCalculator interface {
	Calculate(since time.Time) (*Metrics, error)
}

type metricsCalculator struct {
	eventLog EventLog
}

// NewMetricsCalculator creates a new MetricsCalculator that reads from the given EventLog.
func NewMetricsCalculator(eventLog EventLog) MetricsCalculator {
	return &metricsCalculator{eventLog: eventLog}
}

// Calculate reads all events since the given time and aggregates them into metrics.
func (mc *metricsCalculator) Calculate(since time.Time) (*Metrics, error) {
	events, err := mc.eventLog.Read(EventFilter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("reading events for metrics: %w", err)
	}

	m := &Metrics{
		StatusChanges:  make(map[string]int),
		FailuresByItem: make(map[string]int),
	}
	m.EventCount = len(events)

	for i, event := range events {
		if i == 0 {
			t := event.Time
			m.OldestEvent = &t
		}
		t := event.Time
		m.NewestEvent = &t

		switch event.Type {
		case "task.created", "subtask.created":
			m.TasksCreated++
		case "task.deleted", "subtask.deleted":
			m.TasksDeleted++
		case "task.status_changed":
			if status, ok := event.Data["new_status"].(string); ok {
				m.StatusChanges[status]++
				if status == "done" {
					m.TasksCompleted++
				}
			}
		case "sync.ticket_created":
			m.TicketsCreated++
		case "sync.ticket_updated":
			m.TicketsUpdated++
		case "sync.ticket_deleted":
			m.TicketsDeleted++
		case "sync.status_pushed":
			m.StatusesPushed++
		case "sync.status_pulled":
			m.StatusesPulled++
		case "sync.skipped":
			m.SyncSkipped++
		case "sync.failed":
			m.SyncFailures++
			if id := event.TaskID(); id != "" {
				m.FailuresByItem[id]++
			}
		case "sync.completed":
			m.SyncRuns++
			m.LastSync = &t
		}
	}

	return m, nil
}
