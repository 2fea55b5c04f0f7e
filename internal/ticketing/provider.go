// Package ticketing defines the contract every ticketing provider implements
// and contains the Jira provider plus Azure DevOps and GitHub Projects stubs.
//
// Providers never return errors across the interface: failures are logged and
// surface as nil, false or "" so callers can treat absence uniformly.
package ticketing

import (
	"context"
	"time"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// Ticketable is satisfied by *models.Task and *models.Subtask.
type Ticketable interface {
	ItemID() string
	ItemTitle() string
	ItemDescription() string
	ItemDetails() string
	ItemStatus() models.TaskStatus
	SetItemStatus(models.TaskStatus)
	ItemPriority() models.Priority
	ItemMetadata() models.Metadata
	IsSubtask() bool
}

// TicketRef identifies a ticket returned by a create call.
type TicketRef struct {
	Key string `json:"key"`
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// RemoteStatus is the status of a remote ticket. UpdatedAt is nil when the
// provider did not supply a timestamp.
type RemoteStatus struct {
	Status    string
	UpdatedAt *time.Time
}

// TicketData is the provider-neutral snapshot of a task or subtask used for
// diff-based detail updates.
type TicketData struct {
	RefID       string
	Title       string
	Description string
	Details     string
	Status      models.TaskStatus
	Priority    models.Priority
}

// DataFromItem captures the ticket-relevant fields of item.
func DataFromItem(item Ticketable) TicketData {
	if item == nil {
		return TicketData{}
	}
	return TicketData{
		RefID:       item.ItemMetadata().RefID(),
		Title:       item.ItemTitle(),
		Description: item.ItemDescription(),
		Details:     item.ItemDetails(),
		Status:      item.ItemStatus(),
		Priority:    item.ItemPriority(),
	}
}

// Recreate tells UpdateTicketStatus how to rebuild a ticket that no longer
// exists remotely. ParentTicketID is required for subtasks.
type Recreate struct {
	Item           Ticketable
	ParentTicketID string
}

// GetTicketIDOptions customises GetTicketID.
type GetTicketIDOptions struct {
	// ParentTask is accepted for subtasks but never used as a fallback: every
	// subtask owns its own ticket key once created.
	ParentTask *models.Task
}

// Provider is the capability set shared by Jira, Azure DevOps and GitHub
// Projects.
type Provider interface {
	Name() models.TicketingSystem

	IsConfigured(ctx context.Context) bool
	// ValidateConfig returns the validated configuration, or nil after
	// logging what is missing.
	ValidateConfig(ctx context.Context) *models.TicketingConfig

	CreateStory(ctx context.Context, task Ticketable) *TicketRef
	// CreateTask creates a subtask ticket under parentTicketID. It returns
	// nil when the parent does not exist remotely.
	CreateTask(ctx context.Context, subtask Ticketable, parentTicketID string) *TicketRef

	FindTicketByRefID(ctx context.Context, refID string) string
	TicketExists(ctx context.Context, ticketID string) bool
	GetTicketStatus(ctx context.Context, ticketID string) *RemoteStatus
	UpdateTicketStatus(ctx context.Context, ticketID string, status models.TaskStatus, recreate *Recreate) bool
	UpdateTicketDetails(ctx context.Context, ticketID string, newData, previousData TicketData) bool
	DeleteTicket(ctx context.Context, ticketID string) bool

	GetTicketID(item Ticketable, opts GetTicketIDOptions) string
	StoreTicketID(item Ticketable, ticketID string)
	MetadataKey() string

	MapStatusToTicket(status models.TaskStatus) string
	MapTicketStatusToTaskmaster(providerStatus string) models.TaskStatus
	MapPriorityToTicket(priority models.Priority) string
	MapTicketPriorityToTaskmaster(providerPriority string) models.Priority

	FormatTitleForTicket(item Ticketable) string
}
