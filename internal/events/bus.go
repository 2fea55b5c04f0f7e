// Package events provides the in-process publish/subscribe bus that carries
// task lifecycle events from the task manager to the ticket sync handlers.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistoryLimit bounds the emission history kept for diagnostics.
const DefaultHistoryLimit = 100

// Handler receives an emitted payload. A returned error is logged by the bus
// and does not affect other subscribers.
type Handler func(ctx context.Context, p *Payload) error

// Emission is one entry of the bus history.
type Emission struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	TaskID      string    `json:"task_id,omitempty"`
	Subscribers int       `json:"subscribers"`
	Time        time.Time `json:"time"`
}

// Recorder receives every emission, e.g. to persist an audit trail.
type Recorder interface {
	RecordEmission(e Emission)
}

type subscription struct {
	id uint64
	fn Handler
}

// dispatch is one queued fire-and-forget emission.
type dispatch struct {
	eventType Type
	payload   *Payload
	subs      []subscription
}

// Bus is an in-memory publish/subscribe registry keyed by event type.
// The zero value is not usable; create one with NewBus.
type Bus struct {
	mu           sync.Mutex
	subs         map[Type][]subscription
	nextID       uint64
	history      []Emission
	historyLimit int

	// queue holds pending Emit dispatches. At most one worker drains it,
	// so handlers of consecutive emissions never run concurrently.
	queue    []dispatch
	draining bool

	logger   *slog.Logger
	recorder Recorder
	baseCtx  context.Context
	inflight sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for subscriber failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyLimit = n
		}
	}
}

// WithRecorder attaches a Recorder notified on every emission.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// WithContext sets the context handed to fire-and-forget dispatches.
func WithContext(ctx context.Context) Option {
	return func(b *Bus) {
		if ctx != nil {
			b.baseCtx = ctx
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:         make(map[Type][]subscription),
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
		baseCtx:      context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn under eventType and returns a function that removes
// exactly this registration. Calling the returned function more than once has
// no further effect.
func (b *Bus) Subscribe(eventType Type, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

func (b *Bus) remove(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, s := range list {
		if s.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, eventType)
		return
	}
	b.subs[eventType] = list
}

// snapshot copies the current subscribers of eventType and records the
// emission in the history.
func (b *Bus) snapshot(eventType Type, p *Payload) ([]subscription, Emission) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := append([]subscription(nil), b.subs[eventType]...)
	e := Emission{
		ID:          uuid.NewString(),
		Type:        eventType,
		Subscribers: len(list),
		Time:        time.Now().UTC(),
	}
	if p != nil {
		e.TaskID = p.TaskID
	}
	b.history = append(b.history, e)
	if over := len(b.history) - b.historyLimit; over > 0 {
		b.history = append([]Emission(nil), b.history[over:]...)
	}
	return list, e
}

// Emit dispatches payload to a snapshot of the current subscribers of
// eventType without waiting for them. Dispatches are queued and run by a
// single background worker in emission order: subscribers of one emission
// run in registration order and complete before the next emission starts.
// A failing subscriber never prevents the remaining ones from running.
// Emit reports whether any subscriber existed.
func (b *Bus) Emit(eventType Type, payload *Payload) bool {
	list, e := b.snapshot(eventType, payload)
	if b.recorder != nil {
		b.recorder.RecordEmission(e)
	}
	if len(list) == 0 {
		b.logger.Debug("no subscribers for event", "event", eventType)
		return false
	}

	b.inflight.Add(1)
	b.mu.Lock()
	b.queue = append(b.queue, dispatch{eventType: eventType, payload: payload, subs: list})
	start := !b.draining
	b.draining = true
	b.mu.Unlock()

	if start {
		go b.drain()
	}
	return true
}

// drain runs queued dispatches until the queue is empty.
func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		d := b.queue[0]
		b.queue[0] = dispatch{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		for _, s := range d.subs {
			_ = b.invoke(b.baseCtx, d.eventType, s.fn, d.payload)
		}
		b.inflight.Done()
	}
}

// EmitAndWait dispatches payload synchronously on the calling goroutine and
// returns once every subscriber has completed. It does not wait for queued
// Emit dispatches; call Wait first when ordering against them matters.
// Subscriber errors are joined into the returned error; they are also logged.
func (b *Bus) EmitAndWait(ctx context.Context, eventType Type, payload *Payload) (bool, error) {
	list, e := b.snapshot(eventType, payload)
	if b.recorder != nil {
		b.recorder.RecordEmission(e)
	}

	var errs []error
	for _, s := range list {
		if err := b.invoke(ctx, eventType, s.fn, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return len(list) > 0, errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, eventType Type, fn Handler, payload *Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber for %s panicked: %v", eventType, r)
			b.logger.Error("event subscriber panicked",
				"event", eventType, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := fn(ctx, payload); err != nil {
		b.logger.Error("event subscriber failed", "event", eventType, "error", err)
		return fmt.Errorf("subscriber for %s: %w", eventType, err)
	}
	return nil
}

// Wait blocks until every fire-and-forget dispatch started by Emit returns.
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// SubscriberCounts returns the number of subscribers per event type.
func (b *Bus) SubscriberCounts() map[Type]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[Type]int, len(b.subs))
	for t, list := range b.subs {
		counts[t] = len(list)
	}
	return counts
}

// HasSubscribers reports whether eventType has at least one subscriber.
func (b *Bus) HasSubscribers(eventType Type) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[eventType]) > 0
}

// History returns a copy of the most recent emissions, oldest first.
func (b *Bus) History() []Emission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Emission(nil), b.history...)
}

// ClearHistory drops the emission history.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}
