package ticketing

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// statusTable maps between local statuses and a provider's workflow states.
// Lookups are case-insensitive and fall back to the defaults.
type statusTable struct {
	toTicket      map[models.TaskStatus]string
	fromTicket    map[string]models.TaskStatus
	defaultTicket string
	defaultLocal  models.TaskStatus
}

func (t statusTable) toRemote(s models.TaskStatus) string {
	key := models.TaskStatus(strings.ToLower(strings.TrimSpace(string(s))))
	if v, ok := t.toTicket[key]; ok {
		return v
	}
	return t.defaultTicket
}

func (t statusTable) toLocal(remote string) models.TaskStatus {
	if v, ok := t.fromTicket[strings.ToLower(strings.TrimSpace(remote))]; ok {
		return v
	}
	return t.defaultLocal
}

type priorityTable struct {
	toTicket      map[models.Priority]string
	fromTicket    map[string]models.Priority
	defaultTicket string
	defaultLocal  models.Priority
}

func (t priorityTable) toRemote(p models.Priority) string {
	key := models.Priority(strings.ToLower(strings.TrimSpace(string(p))))
	if v, ok := t.toTicket[key]; ok {
		return v
	}
	return t.defaultTicket
}

func (t priorityTable) toLocal(remote string) models.Priority {
	if v, ok := t.fromTicket[strings.ToLower(strings.TrimSpace(remote))]; ok {
		return v
	}
	return t.defaultLocal
}

// base carries the table-driven, network-free half of the Provider contract.
// Concrete providers embed it.
type base struct {
	name       models.TicketingSystem
	metaKey    string
	titleFmt   string
	statuses   statusTable
	priorities priorityTable
	logger     *slog.Logger
}

func (b *base) Name() models.TicketingSystem { return b.name }

func (b *base) MetadataKey() string { return b.metaKey }

// GetTicketID returns the ticket key stored on item itself. A subtask never
// inherits its parent's key.
func (b *base) GetTicketID(item Ticketable, _ GetTicketIDOptions) string {
	if item == nil {
		return ""
	}
	return item.ItemMetadata().String(b.metaKey)
}

func (b *base) StoreTicketID(item Ticketable, ticketID string) {
	if item == nil || ticketID == "" {
		return
	}
	item.ItemMetadata()[b.metaKey] = ticketID
}

func (b *base) MapStatusToTicket(status models.TaskStatus) string {
	return b.statuses.toRemote(status)
}

func (b *base) MapTicketStatusToTaskmaster(providerStatus string) models.TaskStatus {
	return b.statuses.toLocal(providerStatus)
}

func (b *base) MapPriorityToTicket(priority models.Priority) string {
	return b.priorities.toRemote(priority)
}

func (b *base) MapTicketPriorityToTaskmaster(providerPriority string) models.Priority {
	return b.priorities.toLocal(providerPriority)
}

// FormatTitleForTicket prefixes the title with the refId using the
// provider's format. Items without a refId keep their plain title.
func (b *base) FormatTitleForTicket(item Ticketable) string {
	if item == nil {
		return ""
	}
	refID := item.ItemMetadata().RefID()
	if refID == "" {
		return item.ItemTitle()
	}
	return fmt.Sprintf(b.titleFmt, refID, item.ItemTitle())
}

func (b *base) formatTitle(refID, title string) string {
	if refID == "" {
		return title
	}
	return fmt.Sprintf(b.titleFmt, refID, title)
}

var jiraStatuses = statusTable{
	toTicket: map[models.TaskStatus]string{
		models.StatusPending:    "To Do",
		models.StatusInProgress: "In Progress",
		models.StatusReview:     "In Review",
		models.StatusDone:       "Done",
		models.StatusCancelled:  "Cancelled",
		models.StatusDeferred:   "Backlog",
		models.StatusBlocked:    "Blocked",
	},
	fromTicket: map[string]models.TaskStatus{
		"to do":                    models.StatusPending,
		"open":                     models.StatusPending,
		"selected for development": models.StatusPending,
		"in progress":              models.StatusInProgress,
		"in review":                models.StatusReview,
		"review":                   models.StatusReview,
		"code review":              models.StatusReview,
		"done":                     models.StatusDone,
		"closed":                   models.StatusDone,
		"resolved":                 models.StatusDone,
		"cancelled":                models.StatusCancelled,
		"canceled":                 models.StatusCancelled,
		"won't do":                 models.StatusCancelled,
		"backlog":                  models.StatusDeferred,
		"blocked":                  models.StatusBlocked,
	},
	defaultTicket: "To Do",
	defaultLocal:  models.StatusPending,
}

var jiraPriorities = priorityTable{
	toTicket: map[models.Priority]string{
		models.PriorityHigh:   "High",
		models.PriorityMedium: "Medium",
		models.PriorityLow:    "Low",
	},
	fromTicket: map[string]models.Priority{
		"highest": models.PriorityHigh,
		"high":    models.PriorityHigh,
		"medium":  models.PriorityMedium,
		"low":     models.PriorityLow,
		"lowest":  models.PriorityLow,
	},
	defaultTicket: "Medium",
	defaultLocal:  models.PriorityMedium,
}

var azureStatuses = statusTable{
	toTicket: map[models.TaskStatus]string{
		models.StatusPending:    "New",
		models.StatusInProgress: "Active",
		models.StatusReview:     "Resolved",
		models.StatusDone:       "Closed",
		models.StatusCancelled:  "Removed",
		models.StatusDeferred:   "New",
		models.StatusBlocked:    "Active",
	},
	fromTicket: map[string]models.TaskStatus{
		"new":      models.StatusPending,
		"active":   models.StatusInProgress,
		"resolved": models.StatusReview,
		"closed":   models.StatusDone,
		"removed":  models.StatusCancelled,
	},
	defaultTicket: "New",
	defaultLocal:  models.StatusPending,
}

var azurePriorities = priorityTable{
	toTicket: map[models.Priority]string{
		models.PriorityHigh:   "1",
		models.PriorityMedium: "2",
		models.PriorityLow:    "3",
	},
	fromTicket: map[string]models.Priority{
		"1": models.PriorityHigh,
		"2": models.PriorityMedium,
		"3": models.PriorityLow,
		"4": models.PriorityLow,
	},
	defaultTicket: "2",
	defaultLocal:  models.PriorityMedium,
}

var githubStatuses = statusTable{
	toTicket: map[models.TaskStatus]string{
		models.StatusPending:    "Todo",
		models.StatusInProgress: "In Progress",
		models.StatusReview:     "In Review",
		models.StatusDone:       "Done",
		models.StatusCancelled:  "Closed",
		models.StatusDeferred:   "Backlog",
		models.StatusBlocked:    "Blocked",
	},
	fromTicket: map[string]models.TaskStatus{
		"todo":        models.StatusPending,
		"in progress": models.StatusInProgress,
		"in review":   models.StatusReview,
		"done":        models.StatusDone,
		"closed":      models.StatusCancelled,
		"backlog":     models.StatusDeferred,
		"blocked":     models.StatusBlocked,
	},
	defaultTicket: "Todo",
	defaultLocal:  models.StatusPending,
}

var githubPriorities = priorityTable{
	toTicket: map[models.Priority]string{
		models.PriorityHigh:   "priority: high",
		models.PriorityMedium: "priority: medium",
		models.PriorityLow:    "priority: low",
	},
	fromTicket: map[string]models.Priority{
		"priority: high":   models.PriorityHigh,
		"priority: medium": models.PriorityMedium,
		"priority: low":    models.PriorityLow,
	},
	defaultTicket: "priority: medium",
	defaultLocal:  models.PriorityMedium,
}
