package ticketing

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// ConfigSource returns the persisted ticketing configuration. It is consulted
// on every lookup so configuration edits take effect without a restart.
type ConfigSource interface {
	TicketingConfig() (models.TicketingConfig, error)
}

// Constructor builds a provider from configuration.
type Constructor func(cfg models.TicketingConfig, logger *slog.Logger) (Provider, error)

// Factory resolves the configured provider.
type Factory struct {
	source ConfigSource
	logger *slog.Logger

	mu    sync.RWMutex
	ctors map[models.TicketingSystem]Constructor
}

// NewFactory creates a Factory with the Jira, Azure DevOps and GitHub
// Projects constructors registered.
func NewFactory(source ConfigSource, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		source: source,
		logger: logger,
		ctors:  make(map[models.TicketingSystem]Constructor),
	}
	f.Register(models.TicketingJira, func(cfg models.TicketingConfig, l *slog.Logger) (Provider, error) {
		return NewJiraProvider(cfg, l), nil
	})
	f.Register(models.TicketingAzure, func(cfg models.TicketingConfig, l *slog.Logger) (Provider, error) {
		return NewAzureDevOpsProvider(cfg, l), nil
	})
	f.Register(models.TicketingGitHub, func(cfg models.TicketingConfig, l *slog.Logger) (Provider, error) {
		return NewGitHubProjectsProvider(cfg, l), nil
	})
	return f
}

// Register adds or replaces the constructor for system.
func (f *Factory) Register(system models.TicketingSystem, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[system] = ctor
}

// Enabled reports whether ticketing integration is switched on.
func (f *Factory) Enabled() bool {
	cfg, err := f.config()
	return err == nil && cfg.Enabled
}

// ConfiguredSystem returns the configured provider type, "none" by default.
func (f *Factory) ConfiguredSystem() models.TicketingSystem {
	cfg, err := f.config()
	if err != nil || cfg.System == "" {
		return models.TicketingNone
	}
	return models.TicketingSystem(strings.ToLower(string(cfg.System)))
}

func (f *Factory) config() (models.TicketingConfig, error) {
	if f.source == nil {
		return models.TicketingConfig{}, fmt.Errorf("no ticketing configuration source")
	}
	return f.source.TicketingConfig()
}

// GetInstance returns the provider for explicitType, or for the configured
// system when explicitType is empty. It returns nil when integration is
// disabled (and no override is given), when no system is configured, when the
// type is unknown, or when construction fails. It never panics.
func (f *Factory) GetInstance(explicitType models.TicketingSystem) (p Provider) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("ticketing provider construction panicked", "panic", r)
			p = nil
		}
	}()

	cfg, err := f.config()
	if err != nil {
		f.logger.Warn("loading ticketing configuration", "error", err)
		if explicitType == "" {
			return nil
		}
	}

	if !cfg.Enabled && explicitType == "" {
		f.logger.Debug("ticketing integration disabled")
		return nil
	}

	system := models.TicketingSystem(strings.ToLower(string(explicitType)))
	if system == "" {
		system = f.ConfiguredSystem()
	}
	if system == models.TicketingNone {
		f.logger.Info("no ticketing system configured")
		return nil
	}

	f.mu.RLock()
	ctor, ok := f.ctors[system]
	f.mu.RUnlock()
	if !ok {
		f.logger.Warn("unknown ticketing system", "system", system)
		return nil
	}

	provider, err := ctor(cfg, f.logger)
	if err != nil {
		f.logger.Error("creating ticketing provider", "system", system, "error", err)
		return nil
	}
	return provider
}
