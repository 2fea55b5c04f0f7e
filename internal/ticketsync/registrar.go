package ticketsync

import (
	"log/slog"
	"sync"

	"github.com/valter-silva-au/taskmaster/internal/events"
)

// Gate reports whether ticketing integration is enabled.
type Gate interface {
	Enabled() bool
}

// Registrar subscribes the sync handlers to the bus.
type Registrar struct {
	bus      *events.Bus
	handlers *Handlers
	gate     Gate
	logger   *slog.Logger
}

// NewRegistrar creates a Registrar.
func NewRegistrar(bus *events.Bus, handlers *Handlers, gate Gate, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{bus: bus, handlers: handlers, gate: gate, logger: logger}
}

// Register subscribes one handler per lifecycle event type when ticketing is
// enabled and returns a function that removes all of them. When ticketing is
// disabled nothing is subscribed and the returned function does nothing.
func (r *Registrar) Register() (unsubscribeAll func()) {
	if r.bus == nil || r.handlers == nil {
		r.logger.Warn("ticket sync registrar missing bus or handlers")
		return func() {}
	}
	if r.gate == nil || !r.gate.Enabled() {
		r.logger.Info("ticketing integration disabled, sync handlers not registered")
		return func() {}
	}

	bindings := r.handlers.Bindings()
	unsubs := make([]func(), 0, len(bindings))
	for _, eventType := range events.AllTypes {
		fn, ok := bindings[eventType]
		if !ok {
			continue
		}
		unsubs = append(unsubs, r.bus.Subscribe(eventType, fn))
	}
	r.logger.Debug("ticket sync handlers registered", "count", len(unsubs))

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}
}
