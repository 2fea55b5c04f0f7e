package ticketsync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/valter-silva-au/taskmaster/internal/events"
	"github.com/valter-silva-au/taskmaster/internal/storage"
	"github.com/valter-silva-au/taskmaster/internal/ticketing"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// ProviderSource resolves the active ticketing provider. *ticketing.Factory
// satisfies it.
type ProviderSource interface {
	GetInstance(explicitType models.TicketingSystem) ticketing.Provider
	Enabled() bool
}

// Store is the part of the task store the sync engine needs.
type Store interface {
	Read(path string) (*models.TasksFile, error)
	Update(path string, fn func(data *models.TasksFile) error) error
}

// Handlers mirrors task lifecycle events onto the configured ticketing
// system. Every method matches events.Handler and never returns an error:
// failures are logged, audited and swallowed.
type Handlers struct {
	providers ProviderSource
	store     Store
	audit     Audit
	logger    *slog.Logger
}

// NewHandlers creates the event handlers.
func NewHandlers(providers ProviderSource, store Store, audit Audit, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		providers: providers,
		store:     store,
		audit:     auditOrNop(audit),
		logger:    logger,
	}
}

// Bindings returns the handler for each lifecycle event type.
func (h *Handlers) Bindings() map[events.Type]events.Handler {
	return map[events.Type]events.Handler{
		events.TaskCreated:          h.OnTaskCreated,
		events.TaskUpdated:          h.OnTaskUpdated,
		events.TaskDeleted:          h.OnTaskDeleted,
		events.TaskStatusChanged:    h.OnTaskStatusChanged,
		events.SubtaskCreated:       h.OnSubtaskCreated,
		events.SubtaskUpdated:       h.OnSubtaskUpdated,
		events.SubtaskDeleted:       h.OnSubtaskDeleted,
		events.SubtaskStatusChanged: h.OnSubtaskStatusChanged,
	}
}

// guard runs body and converts panics into log lines.
func (h *Handlers) guard(eventType events.Type, p *events.Payload, body func(log *slog.Logger)) (err error) {
	log := h.logger.With("event", string(eventType))
	if p != nil {
		log = log.With("task_id", p.TaskID)
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("ticket sync handler panicked", "panic", r)
			id := ""
			if p != nil {
				id = p.TaskID
			}
			h.audit.Record(AuditFailed, id, fmt.Sprintf("%s handler panicked", eventType), map[string]any{"panic": fmt.Sprint(r)})
			err = nil
		}
	}()
	if p == nil {
		log.Warn("event without payload ignored")
		return nil
	}
	body(log)
	return nil
}

// provider returns a configured provider or nil after logging why none is
// available.
func (h *Handlers) provider(ctx context.Context, log *slog.Logger) ticketing.Provider {
	if h.providers == nil {
		log.Info("no ticketing provider source, skipping")
		return nil
	}
	p := h.providers.GetInstance("")
	if p == nil {
		log.Info("ticketing integration disabled or no provider configured, skipping")
		return nil
	}
	if !p.IsConfigured(ctx) {
		log.Warn("ticketing provider is not fully configured, skipping", "provider", p.Name())
		return nil
	}
	return p
}

// resolveTask returns the task from the payload, falling back to an id lookup
// in the payload's data.
func resolveTask(p *events.Payload) *models.Task {
	if p.Task != nil {
		return p.Task
	}
	id, err := strconv.Atoi(strings.TrimSpace(p.TaskID))
	if err != nil {
		return nil
	}
	return p.Data.FindTask(id)
}

// resolveSubtask returns the parent task and the subtask addressed by the
// payload's compound id.
func resolveSubtask(p *events.Payload, allowDetached bool) (*models.Task, *models.Subtask, error) {
	parentID, subID, err := models.ParseSubtaskRef(p.TaskID)
	if err != nil {
		if p.Subtask == nil || p.Subtask.ParentID == 0 {
			return nil, nil, err
		}
		parentID, subID = p.Subtask.ParentID, p.Subtask.ID
	}

	parent := p.Task
	if parent == nil || parent.ID != parentID {
		parent = p.Data.FindTask(parentID)
	}
	if parent == nil {
		return nil, nil, fmt.Errorf("parent task %d: %w", parentID, storage.ErrTaskNotFound)
	}

	sub := p.Subtask
	if sub == nil {
		sub = parent.FindSubtask(subID)
	}
	if sub == nil && allowDetached {
		sub = p.PreviousSubtask
	}
	if sub == nil {
		return parent, nil, fmt.Errorf("subtask %s: %w", models.SubtaskRef(parentID, subID), storage.ErrSubtaskNotFound)
	}
	sub.ParentID = parentID
	sub.ID = subID
	return parent, sub, nil
}

// persist applies change to the task in the payload's data and to the task
// store, as one read-modify-write.
func (h *Handlers) persist(p *events.Payload, taskID int, change func(t *models.Task), log *slog.Logger) {
	if t := p.Data.FindTask(taskID); t != nil {
		change(t)
	}
	if p.TasksPath == "" || h.store == nil {
		log.Debug("no tasks path, metadata kept in memory only")
		return
	}
	err := h.store.Update(p.TasksPath, func(data *models.TasksFile) error {
		t := data.FindTask(taskID)
		if t == nil {
			return fmt.Errorf("task %d: %w", taskID, storage.ErrTaskNotFound)
		}
		change(t)
		return nil
	})
	if err != nil {
		log.Error("persisting ticket metadata", "path", p.TasksPath, "error", err)
		h.audit.Record(AuditFailed, p.TaskID, "persisting ticket metadata failed", map[string]any{"error": err.Error()})
	}
}

// storeKey records the ticket key together with the refId the ticket was
// titled with. An existing refId is kept.
func storeKey(provider ticketing.Provider, key, refID string) func(*models.Task) {
	return func(t *models.Task) {
		provider.StoreTicketID(t, key)
		t.ItemMetadata().SetRefID(refID)
	}
}

func storeSubtaskKey(provider ticketing.Provider, subID int, key string) func(*models.Task) {
	return func(t *models.Task) {
		if st := t.FindSubtask(subID); st != nil {
			provider.StoreTicketID(st, key)
		}
	}
}

// OnTaskCreated creates a story for a new task. A task that already carries
// a ticket key is left alone.
func (h *Handlers) OnTaskCreated(ctx context.Context, p *events.Payload) error {
	return h.guard(events.TaskCreated, p, func(log *slog.Logger) {
		task := resolveTask(p)
		if task == nil {
			log.Warn("task not found for creation event")
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}

		task.ItemMetadata().SetRefID(models.TaskRefID(task.ID))
		if key := provider.GetTicketID(task, ticketing.GetTicketIDOptions{}); key != "" {
			log.Info("task already has a ticket, skipping creation", "ticket", key)
			h.audit.Record(AuditSkipped, task.ItemID(), "ticket already exists", map[string]any{"ticket": key})
			return
		}

		key := provider.FindTicketByRefID(ctx, task.ItemMetadata().RefID())
		if key != "" {
			log.Info("linked existing ticket by refId", "ticket", key)
		} else {
			ref := provider.CreateStory(ctx, task)
			if ref == nil {
				log.Warn("ticket creation failed")
				h.audit.Record(AuditFailed, task.ItemID(), "story creation failed", nil)
				return
			}
			key = ref.Key
			h.audit.Record(AuditTicketCreated, task.ItemID(), "story created", map[string]any{"ticket": key})
		}

		provider.StoreTicketID(task, key)
		h.persist(p, task.ID, storeKey(provider, key, task.ItemMetadata().RefID()), log)
	})
}

// OnTaskUpdated pushes changed title, description and priority.
func (h *Handlers) OnTaskUpdated(ctx context.Context, p *events.Payload) error {
	return h.guard(events.TaskUpdated, p, func(log *slog.Logger) {
		task := resolveTask(p)
		if task == nil {
			log.Warn("task not found for update event")
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}
		key := provider.GetTicketID(task, ticketing.GetTicketIDOptions{})
		if key == "" {
			log.Info("task has no ticket, skipping update")
			return
		}

		var previous ticketing.TicketData
		if p.PreviousTask != nil {
			previous = ticketing.DataFromItem(p.PreviousTask)
		}
		if !provider.UpdateTicketDetails(ctx, key, ticketing.DataFromItem(task), previous) {
			log.Warn("ticket detail update failed", "ticket", key)
			h.audit.Record(AuditFailed, task.ItemID(), "ticket update failed", map[string]any{"ticket": key})
			return
		}
		h.audit.Record(AuditTicketUpdated, task.ItemID(), "ticket details updated", map[string]any{"ticket": key})
	})
}

// OnTaskStatusChanged transitions the task's ticket and applies the same
// status to every subtask ticket.
func (h *Handlers) OnTaskStatusChanged(ctx context.Context, p *events.Payload) error {
	return h.guard(events.TaskStatusChanged, p, func(log *slog.Logger) {
		task := resolveTask(p)
		if task == nil {
			log.Warn("task not found for status event")
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}
		key := provider.GetTicketID(task, ticketing.GetTicketIDOptions{})
		if key == "" {
			log.Info("task has no ticket, skipping status update")
			return
		}

		status := p.NewStatus
		if status == "" {
			status = task.Status
		}

		var changes []func(*models.Task)
		if provider.UpdateTicketStatus(ctx, key, status, &ticketing.Recreate{Item: task}) {
			h.audit.Record(AuditStatusPushed, task.ItemID(), "task status pushed", map[string]any{"ticket": key, "status": string(status)})
		} else {
			log.Warn("ticket status update failed, local status kept", "ticket", key, "status", status)
			h.audit.Record(AuditFailed, task.ItemID(), "status update failed", map[string]any{"ticket": key})
		}
		if newKey := provider.GetTicketID(task, ticketing.GetTicketIDOptions{}); newKey != key {
			changes = append(changes, storeKey(provider, newKey, task.ItemMetadata().RefID()))
			key = newKey
		}

		for i := range task.Subtasks {
			st := &task.Subtasks[i]
			st.ParentID = task.ID
			subKey := provider.GetTicketID(st, ticketing.GetTicketIDOptions{ParentTask: task})
			if subKey == "" {
				continue
			}
			ok := provider.UpdateTicketStatus(ctx, subKey, status, &ticketing.Recreate{Item: st, ParentTicketID: key})
			if !ok {
				log.Warn("subtask ticket status update failed", "subtask", st.ItemID(), "ticket", subKey)
				h.audit.Record(AuditFailed, st.ItemID(), "cascaded status update failed", map[string]any{"ticket": subKey})
				continue
			}
			h.audit.Record(AuditStatusPushed, st.ItemID(), "cascaded status pushed", map[string]any{"ticket": subKey, "status": string(status)})
			if newKey := provider.GetTicketID(st, ticketing.GetTicketIDOptions{}); newKey != subKey {
				changes = append(changes, storeSubtaskKey(provider, st.ID, newKey))
			}
		}

		if len(changes) > 0 {
			h.persist(p, task.ID, func(t *models.Task) {
				for _, c := range changes {
					c(t)
				}
			}, log)
		}
	})
}

// OnTaskDeleted deletes the task's ticket. Subtask tickets are moved to
// cancelled first rather than deleted.
func (h *Handlers) OnTaskDeleted(ctx context.Context, p *events.Payload) error {
	return h.guard(events.TaskDeleted, p, func(log *slog.Logger) {
		task := p.Task
		if task == nil {
			task = p.PreviousTask
		}
		if task == nil {
			log.Warn("deleted task not supplied in payload")
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}
		key := provider.GetTicketID(task, ticketing.GetTicketIDOptions{})
		if key == "" {
			log.Info("deleted task has no ticket, nothing to delete")
			return
		}

		for i := range task.Subtasks {
			st := &task.Subtasks[i]
			st.ParentID = task.ID
			subKey := provider.GetTicketID(st, ticketing.GetTicketIDOptions{ParentTask: task})
			if subKey == "" {
				continue
			}
			if provider.UpdateTicketStatus(ctx, subKey, models.StatusCancelled, nil) {
				h.audit.Record(AuditStatusPushed, st.ItemID(), "subtask ticket cancelled", map[string]any{"ticket": subKey})
			} else {
				log.Warn("cancelling subtask ticket failed", "subtask", st.ItemID(), "ticket", subKey)
				h.audit.Record(AuditFailed, st.ItemID(), "subtask cancel failed", map[string]any{"ticket": subKey})
			}
		}

		if !provider.DeleteTicket(ctx, key) {
			log.Warn("ticket deletion failed", "ticket", key)
			h.audit.Record(AuditFailed, task.ItemID(), "ticket deletion failed", map[string]any{"ticket": key})
			return
		}
		h.audit.Record(AuditTicketDeleted, task.ItemID(), "ticket deleted", map[string]any{"ticket": key})
	})
}

// OnSubtaskCreated creates a subtask ticket under the parent's ticket. The
// parent must already have one.
func (h *Handlers) OnSubtaskCreated(ctx context.Context, p *events.Payload) error {
	return h.guard(events.SubtaskCreated, p, func(log *slog.Logger) {
		parent, sub, err := resolveSubtask(p, false)
		if err != nil {
			log.Warn("resolving subtask for creation event", "error", err)
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}

		sub.ItemMetadata().SetRefID(models.SubtaskRefID(parent.ID, sub.ID))
		if key := provider.GetTicketID(sub, ticketing.GetTicketIDOptions{ParentTask: parent}); key != "" {
			log.Info("subtask already has a ticket, skipping creation", "ticket", key)
			h.audit.Record(AuditSkipped, sub.ItemID(), "ticket already exists", map[string]any{"ticket": key})
			return
		}
		parentKey := provider.GetTicketID(parent, ticketing.GetTicketIDOptions{})
		if parentKey == "" {
			log.Info("parent task has no ticket yet, skipping subtask creation", "parent", parent.ID)
			h.audit.Record(AuditSkipped, sub.ItemID(), "parent has no ticket", nil)
			return
		}

		ref := provider.CreateTask(ctx, sub, parentKey)
		if ref == nil {
			log.Warn("subtask ticket creation failed", "parent_ticket", parentKey)
			h.audit.Record(AuditFailed, sub.ItemID(), "subtask creation failed", map[string]any{"parent_ticket": parentKey})
			return
		}
		provider.StoreTicketID(sub, ref.Key)
		h.audit.Record(AuditTicketCreated, sub.ItemID(), "subtask ticket created", map[string]any{"ticket": ref.Key, "parent_ticket": parentKey})

		subID := sub.ID
		refID := sub.ItemMetadata().RefID()
		h.persist(p, parent.ID, func(t *models.Task) {
			if st := t.FindSubtask(subID); st != nil {
				provider.StoreTicketID(st, ref.Key)
				st.ItemMetadata().SetRefID(refID)
			}
		}, log)
	})
}

// OnSubtaskUpdated pushes changed subtask details.
func (h *Handlers) OnSubtaskUpdated(ctx context.Context, p *events.Payload) error {
	return h.guard(events.SubtaskUpdated, p, func(log *slog.Logger) {
		parent, sub, err := resolveSubtask(p, false)
		if err != nil {
			log.Warn("resolving subtask for update event", "error", err)
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}
		key := provider.GetTicketID(sub, ticketing.GetTicketIDOptions{ParentTask: parent})
		if key == "" {
			log.Info("subtask has no ticket, skipping update")
			return
		}

		var previous ticketing.TicketData
		if p.PreviousSubtask != nil {
			previous = ticketing.DataFromItem(p.PreviousSubtask)
		}
		if !provider.UpdateTicketDetails(ctx, key, ticketing.DataFromItem(sub), previous) {
			log.Warn("subtask ticket detail update failed", "ticket", key)
			h.audit.Record(AuditFailed, sub.ItemID(), "ticket update failed", map[string]any{"ticket": key})
			return
		}
		h.audit.Record(AuditTicketUpdated, sub.ItemID(), "ticket details updated", map[string]any{"ticket": key})
	})
}

// OnSubtaskStatusChanged transitions the subtask's ticket.
func (h *Handlers) OnSubtaskStatusChanged(ctx context.Context, p *events.Payload) error {
	return h.guard(events.SubtaskStatusChanged, p, func(log *slog.Logger) {
		parent, sub, err := resolveSubtask(p, false)
		if err != nil {
			log.Warn("resolving subtask for status event", "error", err)
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}
		key := provider.GetTicketID(sub, ticketing.GetTicketIDOptions{ParentTask: parent})
		if key == "" {
			log.Info("subtask has no ticket, skipping status update")
			return
		}

		status := p.NewStatus
		if status == "" {
			status = sub.Status
		}
		parentKey := provider.GetTicketID(parent, ticketing.GetTicketIDOptions{})
		if !provider.UpdateTicketStatus(ctx, key, status, &ticketing.Recreate{Item: sub, ParentTicketID: parentKey}) {
			log.Warn("subtask ticket status update failed, local status kept", "ticket", key, "status", status)
			h.audit.Record(AuditFailed, sub.ItemID(), "status update failed", map[string]any{"ticket": key})
			return
		}
		h.audit.Record(AuditStatusPushed, sub.ItemID(), "subtask status pushed", map[string]any{"ticket": key, "status": string(status)})

		if newKey := provider.GetTicketID(sub, ticketing.GetTicketIDOptions{}); newKey != key {
			h.persist(p, parent.ID, storeSubtaskKey(provider, sub.ID, newKey), log)
		}
	})
}

// OnSubtaskDeleted deletes the subtask's ticket.
func (h *Handlers) OnSubtaskDeleted(ctx context.Context, p *events.Payload) error {
	return h.guard(events.SubtaskDeleted, p, func(log *slog.Logger) {
		parent, sub, err := resolveSubtask(p, true)
		if err != nil {
			log.Warn("resolving subtask for deletion event", "error", err)
			return
		}
		provider := h.provider(ctx, log)
		if provider == nil {
			return
		}
		key := provider.GetTicketID(sub, ticketing.GetTicketIDOptions{ParentTask: parent})
		if key == "" {
			log.Info("deleted subtask has no ticket, nothing to delete")
			return
		}
		if !provider.DeleteTicket(ctx, key) {
			log.Warn("subtask ticket deletion failed", "ticket", key)
			h.audit.Record(AuditFailed, sub.ItemID(), "ticket deletion failed", map[string]any{"ticket": key})
			return
		}
		h.audit.Record(AuditTicketDeleted, sub.ItemID(), "subtask ticket deleted", map[string]any{"ticket": key})
	})
}
