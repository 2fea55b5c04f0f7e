// Package ticketsync keeps tasks.json and a remote ticketing system in step.
//
// Incremental sync is event driven: Handlers subscribe to the task lifecycle
// events on an events.Bus and mirror each change onto the provider. Batch
// sync (Engine.SyncTickets) walks the whole task file without the bus and
// reconciles every task and subtask with its ticket.
package ticketsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valter-silva-au/taskmaster/internal/events"
	"github.com/valter-silva-au/taskmaster/internal/ticketing"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// EngineConfig holds the collaborators of an Engine.
type EngineConfig struct {
	Bus         *events.Bus
	Providers   ProviderSource
	Store       Store
	Audit       Audit
	Logger      *slog.Logger
	ProjectRoot string
	// Now overrides the reconciler clock.
	Now func() time.Time
}

// Engine owns the sync lifecycle: handler registration, diagnostics and
// batch sync.
type Engine struct {
	bus         *events.Bus
	providers   ProviderSource
	store       Store
	audit       Audit
	logger      *slog.Logger
	projectRoot string

	handlers   *Handlers
	registrar  *Registrar
	reconciler *Reconciler

	mu          sync.Mutex
	initialized bool
	teardown    func()
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := auditOrNop(cfg.Audit)
	handlers := NewHandlers(cfg.Providers, cfg.Store, audit, logger.With("component", "ticket-handlers"))

	var gate Gate
	if cfg.Providers != nil {
		gate = cfg.Providers
	}
	return &Engine{
		bus:         cfg.Bus,
		providers:   cfg.Providers,
		store:       cfg.Store,
		audit:       audit,
		logger:      logger,
		projectRoot: cfg.ProjectRoot,
		handlers:    handlers,
		registrar:   NewRegistrar(cfg.Bus, handlers, gate, logger),
		reconciler:  NewReconciler(logger.With("component", "reconciler"), audit, cfg.Now),
	}
}

// Handlers returns the event handlers the engine registers.
func (e *Engine) Handlers() *Handlers { return e.handlers }

// Initialize registers the sync handlers on the bus. Calling it again while
// initialized is a no-op that returns true.
func (e *Engine) Initialize(_ context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return true
	}
	if e.bus == nil {
		e.logger.Error("cannot initialize ticket sync without an event bus")
		return false
	}
	e.teardown = e.registrar.Register()
	e.initialized = true
	e.logger.Debug("ticket sync initialized", "subscribers", e.bus.SubscriberCounts())
	return true
}

// Shutdown unregisters the handlers and waits for in-flight dispatches.
// It is safe to call repeatedly.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}
	if e.teardown != nil {
		e.teardown()
		e.teardown = nil
	}
	e.bus.Wait()
	e.initialized = false
	e.logger.Debug("ticket sync shut down")
}

// Initialized reports whether handlers are currently registered.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// StatusReport is the diagnostic snapshot returned by CheckStatus.
type StatusReport struct {
	TicketingEnabled bool                   `json:"ticketingEnabled"`
	System           models.TicketingSystem `json:"system"`
	Configured       bool                   `json:"configured"`
	Initialized      bool                   `json:"initialized"`
	ProjectRoot      string                 `json:"projectRoot"`
	EventSubscribers map[string]int         `json:"eventSubscribers"`
	Error            string                 `json:"error,omitempty"`
}

// CheckStatus reports whether ticketing is enabled, which provider is active
// and how many subscribers each event type has. It makes no network calls.
func (e *Engine) CheckStatus(ctx context.Context) StatusReport {
	report := StatusReport{
		ProjectRoot:      e.projectRoot,
		Initialized:      e.Initialized(),
		EventSubscribers: map[string]int{},
		System:           models.TicketingNone,
	}
	if e.bus != nil {
		for t, n := range e.bus.SubscriberCounts() {
			report.EventSubscribers[string(t)] = n
		}
	}
	if e.providers == nil {
		report.Error = "no ticketing configuration available"
		return report
	}

	report.TicketingEnabled = e.providers.Enabled()
	if !report.TicketingEnabled {
		return report
	}
	provider := e.providers.GetInstance("")
	if provider == nil {
		report.Error = "ticketing enabled but no supported system configured"
		return report
	}
	report.System = provider.Name()
	report.Configured = provider.IsConfigured(ctx)
	if !report.Configured {
		report.Error = fmt.Sprintf("%s credentials are missing or placeholders", provider.Name())
	}
	return report
}

// SyncOptions tunes a batch sync.
type SyncOptions struct {
	// Force pushes every local status to its ticket instead of reconciling.
	Force bool
	// Debug logs every per-item decision at info level.
	Debug bool
}

// SyncResult summarises a batch sync.
type SyncResult struct {
	Success bool   `json:"success"`
	Stats   Stats  `json:"stats"`
	Message string `json:"message"`
}

// SyncTickets creates missing tickets and reconciles statuses for every task
// and subtask in tasksPath. The task file is written at most once, merging
// only the items this run changed.
func (e *Engine) SyncTickets(ctx context.Context, tasksPath string, opts SyncOptions) SyncResult {
	var stats Stats
	fail := func(msg string) SyncResult {
		e.logger.Warn("ticket sync aborted", "reason", msg)
		e.audit.Record(AuditFailed, "", msg, map[string]any{"path": tasksPath})
		return SyncResult{Success: false, Stats: stats, Message: msg}
	}

	if e.providers == nil || e.store == nil {
		return fail("ticket sync is not wired")
	}
	provider := e.providers.GetInstance("")
	if provider == nil {
		return fail("ticketing integration is disabled or no provider is configured")
	}
	if !provider.IsConfigured(ctx) {
		return fail(fmt.Sprintf("%s provider is not fully configured", provider.Name()))
	}

	data, err := e.store.Read(tasksPath)
	if err != nil {
		return fail(fmt.Sprintf("reading tasks: %v", err))
	}

	trace := e.logger.Debug
	if opts.Debug {
		trace = e.logger.Info
	}

	assigned := models.EnsureRefIDs(data)
	changed := map[string]bool{}
	if assigned > 0 {
		trace("assigned missing refIds", "count", assigned)
		for i := range data.Tasks {
			changed[data.Tasks[i].ItemID()] = true
			for j := range data.Tasks[i].Subtasks {
				changed[data.Tasks[i].Subtasks[j].ItemID()] = true
			}
		}
	}

	for i := range data.Tasks {
		if err := ctx.Err(); err != nil {
			stats.Errors++
			e.logger.Warn("ticket sync cancelled", "error", err)
			break
		}
		task := &data.Tasks[i]
		key, created := e.ensureTicket(ctx, provider, task, "", &stats, trace)
		if created {
			changed[task.ItemID()] = true
		}
		if key == "" {
			continue
		}
		if e.reconcile(ctx, provider, task, key, opts, &stats) {
			changed[task.ItemID()] = true
		}

		for j := range task.Subtasks {
			st := &task.Subtasks[j]
			st.ParentID = task.ID
			subKey, created := e.ensureTicket(ctx, provider, st, key, &stats, trace)
			if created {
				changed[st.ItemID()] = true
			}
			if subKey == "" {
				continue
			}
			if e.reconcile(ctx, provider, st, subKey, opts, &stats) {
				changed[st.ItemID()] = true
			}
		}
	}

	if len(changed) > 0 {
		err := e.store.Update(tasksPath, func(fresh *models.TasksFile) error {
			mergeSynced(fresh, data, changed)
			return nil
		})
		if err != nil {
			stats.Errors++
			e.logger.Error("persisting synced tasks", "path", tasksPath, "error", err)
			return SyncResult{Success: false, Stats: stats, Message: fmt.Sprintf("writing tasks: %v", err)}
		}
	}

	msg := fmt.Sprintf("Synced %d tasks with %s: %d tickets created, %d ticket statuses pushed, %d local statuses pulled, %d errors",
		len(data.Tasks), provider.Name(),
		stats.TasksCreated+stats.SubtasksCreated, stats.TicketsUpdated,
		stats.TasksUpdated+stats.SubtasksUpdated, stats.Errors)
	e.logger.Info("ticket sync finished", "stats", stats)
	e.audit.Record(AuditSyncCompleted, "", msg, map[string]any{
		"system":          string(provider.Name()),
		"tasks":           len(data.Tasks),
		"tickets_created": stats.TasksCreated + stats.SubtasksCreated,
		"tickets_updated": stats.TicketsUpdated,
		"statuses_pulled": stats.TasksUpdated + stats.SubtasksUpdated,
		"errors":          stats.Errors,
		"forced":          opts.Force,
	})
	return SyncResult{Success: true, Stats: stats, Message: msg}
}

// ensureTicket returns the ticket key for item, linking a ticket found by
// refId or creating one when necessary. created reports whether item's
// metadata changed.
func (e *Engine) ensureTicket(ctx context.Context, provider ticketing.Provider, item ticketing.Ticketable, parentKey string, stats *Stats, trace func(string, ...any)) (key string, created bool) {
	if key = provider.GetTicketID(item, ticketing.GetTicketIDOptions{}); key != "" {
		return key, false
	}

	refID := item.ItemMetadata().RefID()
	if found := provider.FindTicketByRefID(ctx, refID); found != "" {
		trace("linked existing ticket", "item", item.ItemID(), "ticket", found)
		provider.StoreTicketID(item, found)
		return found, true
	}

	var ref *ticketing.TicketRef
	if item.IsSubtask() {
		ref = provider.CreateTask(ctx, item, parentKey)
	} else {
		ref = provider.CreateStory(ctx, item)
	}
	if ref == nil {
		stats.Errors++
		e.logger.Warn("ticket creation failed", "item", item.ItemID())
		e.audit.Record(AuditFailed, item.ItemID(), "ticket creation failed", nil)
		return "", false
	}
	if item.IsSubtask() {
		stats.SubtasksCreated++
	} else {
		stats.TasksCreated++
	}
	trace("created ticket", "item", item.ItemID(), "ticket", ref.Key)
	e.audit.Record(AuditTicketCreated, item.ItemID(), "ticket created", map[string]any{"ticket": ref.Key})
	provider.StoreTicketID(item, ref.Key)
	return ref.Key, true
}

func (e *Engine) reconcile(ctx context.Context, provider ticketing.Provider, item ticketing.Ticketable, key string, opts SyncOptions, stats *Stats) bool {
	if opts.Force {
		e.reconciler.Push(ctx, item, key, provider, stats)
		return false
	}
	return e.reconciler.Synchronize(ctx, item, key, provider, stats)
}

// mergeSynced copies status and metadata of the changed items from synced
// into fresh, matching by id.
func mergeSynced(fresh, synced *models.TasksFile, changed map[string]bool) {
	for i := range synced.Tasks {
		src := &synced.Tasks[i]
		dst := fresh.FindTask(src.ID)
		if dst == nil {
			continue
		}
		if changed[src.ItemID()] {
			dst.Status = src.Status
			dst.ItemMetadata().Merge(src.Metadata)
		}
		for j := range src.Subtasks {
			st := &src.Subtasks[j]
			if !changed[st.ItemID()] {
				continue
			}
			if d := dst.FindSubtask(st.ID); d != nil {
				d.Status = st.Status
				d.ItemMetadata().Merge(st.Metadata)
			}
		}
	}
}
