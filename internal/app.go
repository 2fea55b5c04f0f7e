// Package internal provides the App struct that wires all components of
// taskmaster together and initializes the CLI layer.
package internal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/taskmaster/internal/cli"
	"github.com/valter-silva-au/taskmaster/internal/core"
	"github.com/valter-silva-au/taskmaster/internal/events"
	"github.com/valter-silva-au/taskmaster/internal/observability"
	"github.com/valter-silva-au/taskmaster/internal/storage"
	"github.com/valter-silva-au/taskmaster/internal/ticketing"
	"github.com/valter-silva-au/taskmaster/internal/ticketsync"
	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// HomeEnv overrides project root discovery when set.
const HomeEnv = "TASKMASTER_HOME"

// App holds all service dependencies for taskmaster.
type App struct {
	BasePath string
	Logger   *slog.Logger

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.GlobalConfig

	// Storage and events
	Store storage.TaskStore
	Bus   *events.Bus

	// Core services
	TaskMgr core.TaskManager

	// Ticketing
	Providers *ticketing.Factory
	Sync      *ticketsync.Engine

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp creates and wires all components. basePath is the project root,
// the directory holding .taskconfig. A nil logger means slog.Default().
func NewApp(basePath string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{BasePath: basePath, Logger: logger}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	globalCfg, err := app.ConfigMgr.LoadGlobalConfig()
	if err != nil {
		logger.Warn("using default configuration", "error", err)
		globalCfg = &models.GlobalConfig{}
	}
	app.Config = globalCfg

	// --- Observability ---
	app.EventLog, err = observability.NewJSONLEventLog(app.ConfigMgr.EventLogPath())
	if err != nil {
		// Non-fatal: run without the audit trail.
		logger.Warn("event log disabled", "path", app.ConfigMgr.EventLogPath(), "error", err)
		app.EventLog = nil
	}

	// --- Storage and events ---
	app.Store = storage.NewTaskStore()
	busOpts := []events.Option{events.WithLogger(logger.With("component", "events"))}
	if app.EventLog != nil {
		busOpts = append(busOpts, events.WithRecorder(&emissionRecorder{log: app.EventLog}))
	}
	app.Bus = events.NewBus(busOpts...)

	// --- Ticketing ---
	app.Providers = ticketing.NewFactory(app.ConfigMgr, logger.With("component", "ticketing"))
	var audit ticketsync.Audit
	if app.EventLog != nil {
		audit = &auditAdapter{log: app.EventLog}
	}
	app.Sync = ticketsync.NewEngine(ticketsync.EngineConfig{
		Bus:         app.Bus,
		Providers:   app.Providers,
		Store:       app.Store,
		Audit:       audit,
		Logger:      logger.With("component", "ticketsync"),
		ProjectRoot: basePath,
	})
	if !app.Sync.Initialize(context.Background()) {
		logger.Warn("ticket sync handlers not registered")
	}

	// --- Core services ---
	var evtAdapter core.EventLogger
	if app.EventLog != nil {
		evtAdapter = &eventLogAdapter{log: app.EventLog}
	}
	app.TaskMgr = core.NewTaskManager(app.ConfigMgr.TasksFilePath(), basePath, app.Store, app.Bus, evtAdapter)

	if app.EventLog != nil {
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, alertThresholds(globalCfg.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if url := globalCfg.Alerts.SlackWebhookURL; url != "" {
		app.Notifier = observability.NewSlackNotifier(url, filepath.Base(basePath))
	}

	// --- Wire CLI package-level variables ---
	cli.TaskMgr = app.TaskMgr
	cli.ConfigMgr = app.ConfigMgr
	cli.Syncer = app.Sync
	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// Close unregisters the sync handlers, waits for in-flight dispatches and
// releases the event log file handle. It is safe to call more than once.
func (a *App) Close() error {
	if a.Sync != nil {
		a.Sync.Shutdown()
	}
	if a.Bus != nil {
		a.Bus.Wait()
	}
	if a.EventLog != nil {
		err := a.EventLog.Close()
		a.EventLog = nil
		return err
	}
	return nil
}

// ResolveBasePath determines the project root. TASKMASTER_HOME wins;
// otherwise the nearest ancestor of the working directory holding
// .taskconfig is used, falling back to the working directory itself.
func ResolveBasePath() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	for {
		for _, name := range []string{core.ConfigFileName, core.ConfigFileName + ".yaml", core.ConfigFileName + ".yml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

func alertThresholds(cfg models.AlertsConfig) observability.AlertThresholds {
	thresholds := observability.DefaultAlertThresholds()
	if cfg.BlockedHours > 0 {
		thresholds.BlockedHours = cfg.BlockedHours
	}
	if cfg.StaleDays > 0 {
		thresholds.StaleDays = cfg.StaleDays
	}
	if cfg.ReviewDays > 0 {
		thresholds.ReviewDays = cfg.ReviewDays
	}
	if cfg.MaxSyncFailures > 0 {
		thresholds.MaxSyncFailures = cfg.MaxSyncFailures
	}
	return thresholds
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   observability.LevelInfo,
		Type:    eventType,
		Message: eventType,
		Data:    data,
	})
}

// auditAdapter adapts observability.EventLog to ticketsync.Audit.
type auditAdapter struct {
	log observability.EventLog
}

func (a *auditAdapter) Record(eventType, itemID, message string, data map[string]any) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if itemID != "" {
		payload["task_id"] = itemID
	}

	level := observability.LevelInfo
	switch eventType {
	case ticketsync.AuditFailed:
		level = observability.LevelError
	case ticketsync.AuditSkipped:
		level = observability.LevelWarn
	}

	// Audit writes are best-effort.
	_ = a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   level,
		Type:    eventType,
		Message: message,
		Data:    payload,
	})
}

// emissionRecorder adapts observability.EventLog to events.Recorder.
type emissionRecorder struct {
	log observability.EventLog
}

func (r *emissionRecorder) RecordEmission(e events.Emission) {
	data := map[string]any{
		"emission_id": e.ID,
		"subscribers": e.Subscribers,
	}
	if e.TaskID != "" {
		data["task_id"] = e.TaskID
	}
	_ = r.log.Write(observability.Event{
		Time:    e.Time,
		Level:   observability.LevelInfo,
		Type:    "bus." + string(e.Type),
		Message: "emitted " + string(e.Type),
		Data:    data,
	})
}
