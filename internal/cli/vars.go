package cli

import (
	"context"

	"github.com/valter-silva-au/taskmaster/internal/core"
	"github.com/valter-silva-au/taskmaster/internal/observability"
	"github.com/valter-silva-au/taskmaster/internal/ticketsync"
)

// TicketSyncer is the part of the sync engine the CLI drives.
type TicketSyncer interface {
	SyncTickets(ctx context.Context, tasksPath string, opts ticketsync.SyncOptions) ticketsync.SyncResult
	CheckStatus(ctx context.Context) ticketsync.StatusReport
}

// Service instances, set during app initialization in app.go.
var (
	TaskMgr   core.TaskManager
	ConfigMgr core.ConfigurationManager
	Syncer    TicketSyncer
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)
