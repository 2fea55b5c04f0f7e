package ticketsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/valter-silva-au/taskmaster/internal/ticketing"
)

// Stats accumulates the outcome of one or more reconciliations.
type Stats struct {
	TasksCreated          int `json:"tasksCreated"`
	SubtasksCreated       int `json:"subtasksCreated"`
	TasksUpdated          int `json:"tasksUpdated"`
	SubtasksUpdated       int `json:"subtasksUpdated"`
	TicketsUpdated        int `json:"ticketsUpdated"`
	TimestampsInitialized int `json:"timestampsInitialized"`
	Errors                int `json:"errors"`
}

// Reconciler decides which side wins when a local status and its ticket's
// status disagree. The most recent change wins; local wins ties and any
// comparison where the remote timestamp is unknown.
type Reconciler struct {
	now    func() time.Time
	logger *slog.Logger
	audit  Audit
}

// NewReconciler creates a Reconciler. A nil clock uses time.Now.
func NewReconciler(logger *slog.Logger, audit Audit, now func() time.Time) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{now: now, logger: logger, audit: auditOrNop(audit)}
}

// Synchronize reconciles item with ticketID. It returns true when item was
// modified locally (status pulled or timestamp initialized) and needs to be
// persisted.
func (r *Reconciler) Synchronize(ctx context.Context, item ticketing.Ticketable, ticketID string, provider ticketing.Provider, stats *Stats) bool {
	if stats == nil {
		stats = &Stats{}
	}
	if item == nil || provider == nil || ticketID == "" {
		return false
	}
	log := r.logger.With("item", item.ItemID(), "ticket", ticketID)

	remote := provider.GetTicketStatus(ctx, ticketID)
	if remote == nil {
		log.Info("remote status unavailable, skipping reconciliation")
		r.audit.Record(AuditSkipped, item.ItemID(), "remote status unavailable", map[string]any{"ticket": ticketID})
		return false
	}
	mapped := provider.MapTicketStatusToTaskmaster(remote.Status)

	changed := false
	md := item.ItemMetadata()
	localAt, ok := md.LastStatusUpdate()
	if !ok {
		localAt = r.now().UTC()
		md.TouchStatus(localAt)
		stats.TimestampsInitialized++
		changed = true
		log.Debug("initialized lastStatusUpdate", "at", localAt)
	}

	local := item.ItemStatus()
	if local == mapped {
		log.Debug("status in sync", "status", local)
		return changed
	}

	if remote.UpdatedAt == nil || !remote.UpdatedAt.After(localAt) {
		if provider.UpdateTicketStatus(ctx, ticketID, local, nil) {
			stats.TicketsUpdated++
			log.Info("pushed local status to ticket", "status", local, "remote_status", remote.Status)
			r.audit.Record(AuditStatusPushed, item.ItemID(), "local status pushed",
				map[string]any{"ticket": ticketID, "status": string(local), "remote_status": remote.Status})
		} else {
			stats.Errors++
			log.Warn("pushing local status failed, local status kept", "status", local)
			r.audit.Record(AuditFailed, item.ItemID(), "status push failed",
				map[string]any{"ticket": ticketID, "status": string(local)})
		}
		return changed
	}

	item.SetItemStatus(mapped)
	md.TouchStatus(r.now().UTC())
	if item.IsSubtask() {
		stats.SubtasksUpdated++
	} else {
		stats.TasksUpdated++
	}
	log.Info("pulled newer ticket status", "from", local, "to", mapped, "remote_updated", remote.UpdatedAt)
	r.audit.Record(AuditStatusPulled, item.ItemID(), "remote status pulled",
		map[string]any{"ticket": ticketID, "from": string(local), "to": string(mapped)})
	return true
}

// Push sends the local status to the ticket regardless of timestamps.
func (r *Reconciler) Push(ctx context.Context, item ticketing.Ticketable, ticketID string, provider ticketing.Provider, stats *Stats) bool {
	if stats == nil {
		stats = &Stats{}
	}
	if item == nil || provider == nil || ticketID == "" {
		return false
	}
	if provider.UpdateTicketStatus(ctx, ticketID, item.ItemStatus(), nil) {
		stats.TicketsUpdated++
		r.audit.Record(AuditStatusPushed, item.ItemID(), "local status force-pushed",
			map[string]any{"ticket": ticketID, "status": string(item.ItemStatus())})
		return true
	}
	stats.Errors++
	r.logger.Warn("force push failed", "item", item.ItemID(), "ticket", ticketID)
	r.audit.Record(AuditFailed, item.ItemID(), "status force-push failed", map[string]any{"ticket": ticketID})
	return false
}
