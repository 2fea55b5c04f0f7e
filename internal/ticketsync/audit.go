package ticketsync

// Audit event types written for every sync outcome.
const (
	AuditTicketCreated = "sync.ticket_created"
	AuditTicketUpdated = "sync.ticket_updated"
	AuditTicketDeleted = "sync.ticket_deleted"
	AuditStatusPushed  = "sync.status_pushed"
	AuditStatusPulled  = "sync.status_pulled"
	AuditFailed        = "sync.failed"
	AuditSkipped       = "sync.skipped"
	AuditSyncCompleted = "sync.completed"
)

// Audit receives a record of each sync outcome. Implementations must not
// block for long; they run inside event handlers.
type Audit interface {
	Record(eventType, itemID, message string, data map[string]any)
}

type nopAudit struct{}

func (nopAudit) Record(string, string, string, map[string]any) {}

func auditOrNop(a Audit) Audit {
	if a == nil {
		return nopAudit{}
	}
	return a
}
