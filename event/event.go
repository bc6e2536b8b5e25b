// Package event provides typed events and a prioritised, cancellable dispatcher.
//
// # Overview
//
// Concrete events embed Base and report a kind.Kind; handlers register for one kind
// with a Priority. Events are either queued with Enqueue and delivered by the next
// Drain, or delivered on the spot with DispatchImmediately. Handlers run from the
// highest priority to the lowest and a handler can stop delivery by cancelling the
// event.
//
// # Usage
//
//	var SceneLoadedKind = kind.Make(event.Kind)
//
//	type SceneLoaded struct {
//	    event.Base
//	    Scene string
//	}
//
//	func (*SceneLoaded) Kind() kind.Kind { return SceneLoadedKind }
//
//	dispatcher := event.New()
//	defer dispatcher.Shutdown()
//	dispatcher.Register(SceneLoadedKind, event.Typed(func(e *SceneLoaded) {
//	    log.Println("loaded", e.Scene)
//	}), event.High)
//	dispatcher.Enqueue(&SceneLoaded{Base: event.NewBase(), Scene: "menu"})
//	dispatcher.Drain()
package event

import (
	"time"

	"github.com/stateforward/fsm.go/kind"
	"github.com/stateforward/fsm.go/muid"
)

// Kind is the base kind application event kinds derive from.
var Kind = kind.Make()

// Event is a value delivered to handlers. Implementations embed Base and add Kind.
type Event interface {
	Kind() kind.Kind
	ID() string
	Timestamp() time.Time
	Source() any
	// Cancel stops delivery to the remaining handlers. Events built with
	// Uncancellable ignore it.
	Cancel()
	IsCancelled() bool
}

// Base carries the bookkeeping shared by every event. The zero value is a
// cancellable event without id, timestamp or source.
type Base struct {
	id            string
	timestamp     time.Time
	source        any
	cancelled     bool
	uncancellable bool
}

// Option configures a Base.
type Option func(*Base)

// WithSource records the value that raised the event.
func WithSource(source any) Option {
	return func(b *Base) { b.source = source }
}

// WithTimestamp overrides the creation time.
func WithTimestamp(timestamp time.Time) Option {
	return func(b *Base) { b.timestamp = timestamp }
}

// Uncancellable makes Cancel a no-op for the event.
func Uncancellable() Option {
	return func(b *Base) { b.uncancellable = true }
}

// NewBase stamps a new id and the current time.
func NewBase(opts ...Option) Base {
	base := Base{
		id:        muid.MakeString(),
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

func (b *Base) ID() string {
	return b.id
}

func (b *Base) Timestamp() time.Time {
	return b.timestamp
}

func (b *Base) Source() any {
	return b.source
}

func (b *Base) Cancel() {
	if b.uncancellable {
		return
	}
	b.cancelled = true
}

func (b *Base) IsCancelled() bool {
	return b.cancelled
}

// IsCancellable reports whether Cancel has any effect.
func (b *Base) IsCancellable() bool {
	return !b.uncancellable
}

/******* Handlers *******/

// Priority orders handlers registered for the same kind. Higher runs first.
type Priority int

const (
	Lowest Priority = iota
	Low
	Normal
	High
	Highest
)

func (p Priority) String() string {
	switch p {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Highest:
		return "highest"
	}
	return "unknown"
}

// Handler receives events. Handlers are compared with == to detect duplicate
// registrations, so use pointer types; Func and Typed already do.
type Handler interface {
	HandleEvent(e Event)
}

type funcHandler struct {
	fn func(Event)
}

func (h *funcHandler) HandleEvent(e Event) {
	h.fn(e)
}

// Func adapts fn to a Handler. Every call returns a distinct handler, so keep
// the result to unregister it later.
func Func(fn func(Event)) Handler {
	return &funcHandler{fn: fn}
}

type typedHandler[E Event] struct {
	fn func(E)
}

func (h *typedHandler[E]) HandleEvent(e Event) {
	if typed, ok := e.(E); ok {
		h.fn(typed)
	}
}

// Typed adapts fn to a Handler that only sees events of Go type E; other
// events registered under the same kind are ignored.
func Typed[E Event](fn func(E)) Handler {
	return &typedHandler[E]{fn: fn}
}
