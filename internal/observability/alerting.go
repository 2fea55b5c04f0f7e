package observability

import (
	"fmt"
	"sort"
	"time"
)

// AlertSeverity represents the urgency of an alert.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// Alert conditions.
const (
	ConditionBlockedTooLong = "task_blocked_too_long"
	ConditionStale          = "task_stale"
	ConditionReviewTooLong  = "review_too_long"
	ConditionSyncFailing    = "sync_failing"
)

// Alert represents a triggered alert condition.
type Alert struct {
	ID          string        `json:"id"`
	Condition   string        `json:"condition"`
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	TriggeredAt time.Time     `json:"triggered_at"`
}

// AlertThresholds configures when alerts should fire.
type AlertThresholds struct {
	BlockedHours int `yaml:"blocked_threshold_hours" json:"blocked_threshold_hours" mapstructure:"blocked_threshold_hours"`
	StaleDays    int `yaml:"stale_threshold_days" json:"stale_threshold_days" mapstructure:"stale_threshold_days"`
	ReviewDays   int `yaml:"review_threshold_days" json:"review_threshold_days" mapstructure:"review_threshold_days"`
	// MaxSyncFailures is the number of consecutive sync.failed events for
	// one item, with no successful sync in between, that raises an alert.
	MaxSyncFailures int `yaml:"max_sync_failures" json:"max_sync_failures" mapstructure:"max_sync_failures"`
}

// DefaultAlertThresholds returns sensible defaults for alert thresholds.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		BlockedHours:    24,
		StaleDays:       3,
		ReviewDays:      5,
		MaxSyncFailures: 3,
	}
}

// AlertEngine evaluates alert conditions against the event log.
type AlertEngine interface {
	Evaluate() ([]Alert, error)
}

type alertEngine struct {
	eventLog   EventLog
	thresholds AlertThresholds
}

// NewAlertEngine creates a new AlertEngine with the given EventLog and thresholds.
func NewAlertEngine(eventLog EventLog, thresholds AlertThresholds) AlertEngine {
	return &alertEngine{
		eventLog:   eventLog,
		thresholds: thresholds,
	}
}

// Evaluate reads the event log once and checks every alert condition.
// Alerts are ordered by condition, then id.
func (ae *alertEngine) Evaluate() ([]Alert, error) {
	now := time.Now().UTC()

	events, err := ae.eventLog.Read(EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("reading events for alerts: %w", err)
	}

	var alerts []Alert
	alerts = append(alerts, ae.checkStatusDurations(events, now)...)
	alerts = append(alerts, ae.checkStaleTasks(events, now)...)
	alerts = append(alerts, ae.checkSyncFailures(events, now)...)

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Condition != alerts[j].Condition {
			return alerts[i].Condition < alerts[j].Condition
		}
		return alerts[i].ID < alerts[j].ID
	})
	return alerts, nil
}

type statusState struct {
	status    string
	changedAt time.Time
}

// latestStatuses returns the most recent status change per task id.
func latestStatuses(events []Event) map[string]statusState {
	states := make(map[string]statusState)
	for _, event := range events {
		if event.Type != "task.status_changed" {
			continue
		}
		taskID := event.TaskID()
		newStatus, _ := event.Data["new_status"].(string)
		if taskID == "" || newStatus == "" {
			continue
		}
		states[taskID] = statusState{status: newStatus, changedAt: event.Time}
	}
	return states
}

// checkStatusDurations flags tasks left blocked or in review too long.
func (ae *alertEngine) checkStatusDurations(events []Event, now time.Time) []Alert {
	blockedFor := time.Duration(ae.thresholds.BlockedHours) * time.Hour
	reviewFor := time.Duration(ae.thresholds.ReviewDays) * 24 * time.Hour

	var alerts []Alert
	for taskID, state := range latestStatuses(events) {
		age := now.Sub(state.changedAt)
		switch {
		case state.status == "blocked" && age > blockedFor:
			alerts = append(alerts, Alert{
				ID:          "blocked-" + taskID,
				Condition:   ConditionBlockedTooLong,
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("task %s has been blocked for more than %d hours", taskID, ae.thresholds.BlockedHours),
				TriggeredAt: now,
			})
		case state.status == "review" && age > reviewFor:
			alerts = append(alerts, Alert{
				ID:          "review-" + taskID,
				Condition:   ConditionReviewTooLong,
				Severity:    SeverityMedium,
				Message:     fmt.Sprintf("task %s has been in review for more than %d days", taskID, ae.thresholds.ReviewDays),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// checkStaleTasks flags in-progress tasks with no recorded activity of any
// kind, sync events included, within the stale window.
func (ae *alertEngine) checkStaleTasks(events []Event, now time.Time) []Alert {
	lastActivity := make(map[string]time.Time)
	for _, event := range events {
		taskID := event.TaskID()
		if taskID == "" {
			continue
		}
		if event.Time.After(lastActivity[taskID]) {
			lastActivity[taskID] = event.Time
		}
	}

	threshold := time.Duration(ae.thresholds.StaleDays) * 24 * time.Hour
	var alerts []Alert
	for taskID, state := range latestStatuses(events) {
		if state.status == "in-progress" && now.Sub(lastActivity[taskID]) > threshold {
			alerts = append(alerts, Alert{
				ID:          "stale-" + taskID,
				Condition:   ConditionStale,
				Severity:    SeverityMedium,
				Message:     fmt.Sprintf("task %s has had no activity for more than %d days", taskID, ae.thresholds.StaleDays),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}

// syncSucceeded lists the event types that reset an item's failure streak.
var syncSucceeded = map[string]bool{
	"sync.ticket_created": true,
	"sync.ticket_updated": true,
	"sync.ticket_deleted": true,
	"sync.status_pushed":  true,
	"sync.status_pulled":  true,
}

// checkSyncFailures flags items whose last MaxSyncFailures sync attempts
// all failed.
func (ae *alertEngine) checkSyncFailures(events []Event, now time.Time) []Alert {
	if ae.thresholds.MaxSyncFailures <= 0 {
		return nil
	}

	streaks := make(map[string]int)
	for _, event := range events {
		taskID := event.TaskID()
		if taskID == "" {
			continue
		}
		switch {
		case event.Type == "sync.failed":
			streaks[taskID]++
		case syncSucceeded[event.Type]:
			streaks[taskID] = 0
		}
	}

	var alerts []Alert
	for taskID, n := range streaks {
		if n >= ae.thresholds.MaxSyncFailures {
			alerts = append(alerts, Alert{
				ID:          "sync-" + taskID,
				Condition:   ConditionSyncFailing,
				Severity:    SeverityHigh,
				Message:     fmt.Sprintf("ticket sync for task %s failed %d times in a row", taskID, n),
				TriggeredAt: now,
			})
		}
	}
	return alerts
}
