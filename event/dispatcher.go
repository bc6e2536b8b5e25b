package event

import (
	"cmp"
	"errors"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/stateforward/fsm.go/kind"
)

// Error variables for handler registration.
var (
	// ErrInvalidKind is returned when registering for the zero kind.
	ErrInvalidKind = errors.New("event kind is invalid")
	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("event handler is nil")
)

type queue struct {
	mutex sync.Mutex
	fifo  []Event
}

func (q *queue) len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.fifo)
}

func (q *queue) pop() (Event, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.fifo) == 0 {
		return nil, false
	}
	e := q.fifo[0]
	q.fifo[0] = nil
	q.fifo = q.fifo[1:]
	return e, true
}

func (q *queue) push(e Event) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.fifo = append(q.fifo, e)
}

func (q *queue) clear() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.fifo = nil
}

type registration struct {
	handler  Handler
	priority Priority
}

// Config provides configuration options for a Dispatcher.
type Config struct {
	// Logger receives recovered handler panics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Dispatcher routes events to the handlers registered for their kind.
//
// Enqueue may be called from any goroutine. Drain, DispatchImmediately and the
// handlers themselves run on the goroutine that owns the simulation loop.
type Dispatcher struct {
	queue    queue
	mutex    sync.RWMutex
	handlers map[kind.Kind][]registration
	logger   *slog.Logger
}

// New creates an empty dispatcher.
func New(maybeConfig ...Config) *Dispatcher {
	dispatcher := &Dispatcher{
		handlers: map[kind.Kind][]registration{},
	}
	if len(maybeConfig) > 0 {
		dispatcher.logger = maybeConfig[0].Logger
	}
	if dispatcher.logger == nil {
		dispatcher.logger = slog.Default()
	}
	return dispatcher
}

// same compares handlers without panicking on non comparable dynamic types.
func same(a, b Handler) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}

// Register adds handler for events of kind k. Handlers stay sorted from the
// highest priority to the lowest, in registration order within a priority.
// Registering a handler that is already present for k changes nothing.
func (d *Dispatcher) Register(k kind.Kind, handler Handler, priority Priority) error {
	if k == 0 {
		return ErrInvalidKind
	}
	if handler == nil {
		return ErrNilHandler
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if slices.ContainsFunc(d.handlers[k], func(r registration) bool { return same(r.handler, handler) }) {
		return nil
	}
	// a fresh slice keeps in-flight dispatch snapshots intact
	registrations := append(slices.Clone(d.handlers[k]), registration{handler: handler, priority: priority})
	slices.SortStableFunc(registrations, func(a, b registration) int {
		return cmp.Compare(b.priority, a.priority)
	})
	d.handlers[k] = registrations
	return nil
}

// Unregister removes handler from kind k and reports whether it was present.
// A kind without handlers is dropped from the registry.
func (d *Dispatcher) Unregister(k kind.Kind, handler Handler) bool {
	if handler == nil {
		return false
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	registrations, ok := d.handlers[k]
	if !ok {
		return false
	}
	index := slices.IndexFunc(registrations, func(r registration) bool { return same(r.handler, handler) })
	if index < 0 {
		return false
	}
	// copy so in-flight dispatch snapshots are not modified
	registrations = slices.Delete(slices.Clone(registrations), index, index+1)
	if len(registrations) == 0 {
		delete(d.handlers, k)
		return true
	}
	d.handlers[k] = registrations
	return true
}

// HandlerCount returns the number of handlers registered for kind k.
func (d *Dispatcher) HandlerCount(k kind.Kind) int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.handlers[k])
}

// Kinds returns the number of kinds with at least one handler.
func (d *Dispatcher) Kinds() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.handlers)
}

// Len returns the number of pending events.
func (d *Dispatcher) Len() int {
	return d.queue.len()
}

// Enqueue queues e for the next Drain. Nil and already cancelled events are
// dropped and Enqueue reports false.
func (d *Dispatcher) Enqueue(e Event) bool {
	if e == nil || e.IsCancelled() {
		return false
	}
	d.queue.push(e)
	return true
}

// DispatchImmediately delivers e on the calling goroutine, bypassing the queue.
// Nil and already cancelled events are dropped and it reports false.
func (d *Dispatcher) DispatchImmediately(e Event) bool {
	if e == nil || e.IsCancelled() {
		return false
	}
	d.dispatch(e)
	return true
}

// Drain delivers the events that were pending when it was called and returns
// how many it delivered. The queue lock is released while handlers run, so
// handlers may enqueue; those events wait for the next Drain.
func (d *Dispatcher) Drain() int {
	pending := d.queue.len()
	delivered := 0
	for delivered < pending {
		e, ok := d.queue.pop()
		if !ok {
			break
		}
		d.dispatch(e)
		delivered++
	}
	return delivered
}

func (d *Dispatcher) dispatch(e Event) {
	d.mutex.RLock()
	// registrations are replaced, never mutated in place, so sharing the slice is a copy
	registrations := d.handlers[e.Kind()]
	d.mutex.RUnlock()
	for _, registration := range registrations {
		if e.IsCancelled() {
			return
		}
		d.handle(registration, e)
	}
}

func (d *Dispatcher) handle(registration registration, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event: panic in handler", "kind", e.Kind(), "id", e.ID(), "priority", registration.priority, "error", r, "stack", string(debug.Stack()))
		}
	}()
	registration.handler.HandleEvent(e)
}

// Shutdown drops every pending event and handler.
func (d *Dispatcher) Shutdown() {
	d.queue.clear()
	d.mutex.Lock()
	d.handlers = map[kind.Kind][]registration{}
	d.mutex.Unlock()
}
