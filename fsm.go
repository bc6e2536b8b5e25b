// Package fsm provides tick driven finite state machines grouped in an explicit registry.
//
// # Overview
//
// A state machine belongs to an owner value and holds a fixed set of states, one per
// state kind, supplied when the machine is created. The registry keys machines by the
// owner's Go type and a name, and advances every registered machine once per Tick.
// States move their machine along by calling ChangeState from inside their hooks.
//
// # Features
//
//   - **Owner scoped**: at most one machine per (owner type, name) pair.
//   - **Fixed states**: states are resolved at creation and never change afterwards.
//   - **Contained ticks**: a panicking state is logged and the rest of the pass still runs.
//   - **Snapshots**: machines report their state and the transitions they have taken.
//
// # Usage
//
//	type Game struct{}
//
//	var (
//	    LaunchKind = kind.Make(fsm.StateKind)
//	    MenuKind   = kind.Make(fsm.StateKind)
//	)
//
//	type Launch struct{ fsm.BaseState[Game] }
//
//	func (*Launch) Kind() kind.Kind { return LaunchKind }
//
//	func (s *Launch) OnUpdate(m fsm.Machine[Game], elapsed, realElapsed time.Duration) {
//	    if m.CurrentStateTime() >= 3*time.Second {
//	        s.ChangeState(m, MenuKind)
//	    }
//	}
//
//	registry := fsm.NewRegistry()
//	defer registry.Shutdown()
//	machine, err := fsm.Create(registry, "", &Game{}, &Launch{}, &Menu{})
//	if err != nil {
//	    return err
//	}
//	machine.Start(LaunchKind)
//	registry.Tick(time.Second/60, time.Second/60)
package fsm

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/stateforward/fsm.go/kind"
	"github.com/stateforward/fsm.go/muid"
)

var (
	// StateKind is the base kind application state kinds derive from:
	//
	//	var IdleKind = kind.Make(fsm.StateKind)
	StateKind = kind.Make()
)

// Error variables for state machine configuration and protocol errors.
// These sentinel errors can be checked using errors.Is.
var (
	// ErrNilRegistry is returned when a registry operation receives a nil registry.
	ErrNilRegistry = errors.New("fsm registry is nil")
	// ErrNilMachine is returned when a transition is requested on a machine that was not created by this package.
	ErrNilMachine = errors.New("fsm is invalid")
	// ErrNilOwner is returned when a machine is created without an owner.
	ErrNilOwner = errors.New("fsm owner is invalid")
	// ErrNoStates is returned when a machine is created without states.
	ErrNoStates = errors.New("fsm states are empty")
	// ErrNilState is returned when one of the supplied states is nil.
	ErrNilState = errors.New("fsm state is nil")
	// ErrInvalidKind is returned for the zero kind.
	ErrInvalidKind = errors.New("fsm state kind is invalid")
	// ErrDuplicateState is returned when two supplied states share a kind.
	ErrDuplicateState = errors.New("fsm state already exists")
	// ErrAlreadyExists is returned when a machine with the same owner type and name is registered.
	ErrAlreadyExists = errors.New("fsm already exists")
	// ErrUnknownState is returned when starting or changing to a kind the machine does not hold.
	ErrUnknownState = errors.New("fsm state does not exist")
	// ErrAlreadyRunning is returned when Start is called on a running machine.
	ErrAlreadyRunning = errors.New("fsm is running, can not start again")
	// ErrNotRunning is returned when ChangeState is called before Start.
	ErrNotRunning = errors.New("fsm is not running")
	// ErrDestroyed is returned by operations on a destroyed machine.
	ErrDestroyed = errors.New("fsm is destroyed")
)

/******* States *******/

// State is one state of a machine owned by a *T. Every hook receives the machine
// the state belongs to.
type State[T any] interface {
	// Kind identifies the state type. It must be non-zero and unique within a machine.
	Kind() kind.Kind
	OnInit(fsm Machine[T])
	OnEnter(fsm Machine[T])
	OnUpdate(fsm Machine[T], elapsed, realElapsed time.Duration)
	OnLeave(fsm Machine[T], shutdown bool)
	OnDestroy(fsm Machine[T])
}

// BaseState provides no-op hooks and the transition helper. Embed it in
// concrete states and override the hooks you need.
type BaseState[T any] struct{}

func (BaseState[T]) OnInit(Machine[T]) {}

func (BaseState[T]) OnEnter(Machine[T]) {}

func (BaseState[T]) OnUpdate(Machine[T], time.Duration, time.Duration) {}

func (BaseState[T]) OnLeave(Machine[T], bool) {}

func (BaseState[T]) OnDestroy(Machine[T]) {}

// ChangeState leaves the current state of fsm and enters the state of kind k.
// It is meant to be called from a state's hooks.
func (BaseState[T]) ChangeState(fsm Machine[T], k kind.Kind) error {
	m, ok := fsm.(*machine[T])
	if !ok || m == nil {
		return ErrNilMachine
	}
	return m.changeState(k)
}

// Lookup returns the state of Go type S held by fsm.
//
//	launch, ok := fsm.Lookup[*Launch](machine)
func Lookup[S State[T], T any](fsm Machine[T]) (S, bool) {
	var zero S
	if fsm == nil {
		return zero, false
	}
	for _, state := range fsm.States() {
		if typed, ok := state.(S); ok {
			return typed, true
		}
	}
	return zero, false
}

// stateName prefers a Name() method and falls back to the bare Go type name.
func stateName(state any) string {
	if state == nil {
		return ""
	}
	if named, ok := state.(interface{ Name() string }); ok {
		return named.Name()
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", state), "*")
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name[strings.LastIndexByte(name, '.')+1:]
}

/******* Machine *******/

// Machine is the public view of a state machine. Transitions are only
// available to states, through BaseState.ChangeState.
type Machine[T any] interface {
	ID() string
	Name() string
	Owner() *T
	StateCount() int
	IsRunning() bool
	IsDestroyed() bool
	// CurrentState returns nil while the machine is idle.
	CurrentState() State[T]
	// CurrentStateTime is the game time spent in the current state.
	CurrentStateTime() time.Duration
	// Start enters the state of kind k. Only legal while idle.
	Start(k kind.Kind) error
	HasState(k kind.Kind) bool
	GetState(k kind.Kind) (State[T], bool)
	// States returns the states in the order they were supplied.
	States() []State[T]
	Snapshot() Snapshot
}

type edge struct {
	source kind.Kind
	target kind.Kind
}

type machine[T any] struct {
	id          string
	name        string
	owner       *T
	states      map[kind.Kind]State[T]
	order       []State[T]
	current     State[T]
	initial     State[T]
	currentTime time.Duration
	transitions map[edge]int
	destroyed   bool
	closing     bool
}

func newMachine[T any](name string, owner *T, states []State[T]) (*machine[T], error) {
	if owner == nil {
		return nil, ErrNilOwner
	}
	if len(states) == 0 {
		return nil, ErrNoStates
	}
	m := &machine[T]{
		name:        name,
		owner:       owner,
		states:      make(map[kind.Kind]State[T], len(states)),
		order:       make([]State[T], 0, len(states)),
		transitions: map[edge]int{},
	}
	for _, state := range states {
		if state == nil {
			return nil, ErrNilState
		}
		k := state.Kind()
		if k == 0 {
			return nil, fmt.Errorf("%w: state %s", ErrInvalidKind, stateName(state))
		}
		if _, ok := m.states[k]; ok {
			return nil, fmt.Errorf("%w: fsm %q state %s", ErrDuplicateState, name, stateName(state))
		}
		m.states[k] = state
		m.order = append(m.order, state)
	}
	m.id = fmt.Sprintf("%s_%s", ownerName[T](name), muid.MakeString())
	for _, state := range m.order {
		state.OnInit(m)
	}
	return m, nil
}

func (m *machine[T]) ID() string {
	return m.id
}

func (m *machine[T]) Name() string {
	return m.name
}

func (m *machine[T]) Owner() *T {
	return m.owner
}

func (m *machine[T]) StateCount() int {
	return len(m.states)
}

func (m *machine[T]) IsRunning() bool {
	return m.current != nil
}

func (m *machine[T]) IsDestroyed() bool {
	return m.destroyed
}

func (m *machine[T]) CurrentState() State[T] {
	return m.current
}

func (m *machine[T]) CurrentStateTime() time.Duration {
	return m.currentTime
}

func (m *machine[T]) HasState(k kind.Kind) bool {
	_, ok := m.states[k]
	return ok
}

func (m *machine[T]) GetState(k kind.Kind) (State[T], bool) {
	state, ok := m.states[k]
	return state, ok
}

func (m *machine[T]) States() []State[T] {
	return slices.Clone(m.order)
}

func (m *machine[T]) Start(k kind.Kind) error {
	if m.destroyed || m.closing {
		return fmt.Errorf("%w: %s", ErrDestroyed, m.id)
	}
	if m.current != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.id)
	}
	if k == 0 {
		return ErrInvalidKind
	}
	state, ok := m.states[k]
	if !ok {
		return fmt.Errorf("%w: fsm %q can not start kind %d", ErrUnknownState, m.name, k)
	}
	m.currentTime = 0
	m.current = state
	if m.initial == nil {
		m.initial = state
	}
	state.OnEnter(m)
	return nil
}

func (m *machine[T]) changeState(k kind.Kind) error {
	if m.closing {
		return fmt.Errorf("%w: %s", ErrDestroyed, m.id)
	}
	if m.current == nil {
		return fmt.Errorf("%w: %s", ErrNotRunning, m.id)
	}
	next, ok := m.states[k]
	if !ok {
		return fmt.Errorf("%w: fsm %q can not change to kind %d", ErrUnknownState, m.name, k)
	}
	previous := m.current
	previous.OnLeave(m, false)
	// OnLeave is free to destroy the machine.
	if m.destroyed || m.closing {
		return fmt.Errorf("%w: %s", ErrDestroyed, m.id)
	}
	m.transitions[edge{source: previous.Kind(), target: k}]++
	m.currentTime = 0
	m.current = next
	next.OnEnter(m)
	return nil
}

func (m *machine[T]) update(elapsed, realElapsed time.Duration) {
	if m.current == nil {
		return
	}
	m.currentTime += elapsed
	m.current.OnUpdate(m, elapsed, realElapsed)
}

func (m *machine[T]) shutdown() {
	if m.destroyed || m.closing {
		return
	}
	m.closing = true
	// every hook runs even if an earlier one panics; the first panic is
	// raised again once the machine is destroyed
	var failure any
	run := func(hook func()) {
		defer func() {
			if r := recover(); r != nil && failure == nil {
				failure = r
			}
		}()
		hook()
	}
	if current := m.current; current != nil {
		run(func() { current.OnLeave(m, true) })
	}
	for _, state := range m.order {
		run(func() { state.OnDestroy(m) })
	}
	m.owner = nil
	m.states = map[kind.Kind]State[T]{}
	m.order = nil
	m.current = nil
	m.initial = nil
	m.currentTime = 0
	m.transitions = map[edge]int{}
	m.destroyed = true
	m.closing = false
	if failure != nil {
		panic(failure)
	}
}

/******* Snapshot *******/

// TransitionDetail counts how often a machine moved from Source to Target.
type TransitionDetail struct {
	Source string
	Target string
	Count  int
}

// Snapshot is a point in time description of a machine.
type Snapshot struct {
	ID          string
	Name        string
	Owner       string
	State       string
	Initial     string
	StateTime   time.Duration
	Running     bool
	Destroyed   bool
	States      []string
	Transitions []TransitionDetail
}

func (m *machine[T]) Snapshot() Snapshot {
	snapshot := Snapshot{
		ID:        m.id,
		Name:      m.name,
		Owner:     ownerName[T](""),
		State:     stateName(m.current),
		Initial:   stateName(m.initial),
		StateTime: m.currentTime,
		Running:   m.current != nil,
		Destroyed: m.destroyed,
	}
	for _, state := range m.order {
		snapshot.States = append(snapshot.States, stateName(state))
	}
	for transition, count := range m.transitions {
		snapshot.Transitions = append(snapshot.Transitions, TransitionDetail{
			Source: stateName(m.states[transition.source]),
			Target: stateName(m.states[transition.target]),
			Count:  count,
		})
	}
	slices.SortFunc(snapshot.Transitions, func(a, b TransitionDetail) int {
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return strings.Compare(a.Target, b.Target)
	})
	return snapshot
}

/******* Registry *******/

// ticker is the non-generic face every machine shows the registry.
type ticker interface {
	ID() string
	Name() string
	Snapshot() Snapshot
	update(elapsed, realElapsed time.Duration)
	shutdown()
}

type ownerKey[T any] struct{}

type key struct {
	owner any
	name  string
}

func keyOf[T any](name string) key {
	return key{owner: ownerKey[T]{}, name: name}
}

func ownerName[T any](name string) string {
	typeName := strings.TrimPrefix(fmt.Sprintf("%T", (*T)(nil)), "*")
	if name == "" {
		return typeName
	}
	return typeName + "." + name
}

// Config provides configuration options for a Registry.
type Config struct {
	// Logger receives lifecycle messages and recovered panics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Registry owns every state machine of an application and advances them on Tick.
// Create, Destroy and Tick are expected to run on the simulation goroutine; the
// internal lock only protects the bookkeeping and is never held across state hooks.
type Registry struct {
	mutex    sync.RWMutex
	machines map[key]ticker
	order    []key
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(maybeConfig ...Config) *Registry {
	registry := &Registry{
		machines: map[key]ticker{},
	}
	if len(maybeConfig) > 0 {
		registry.logger = maybeConfig[0].Logger
	}
	if registry.logger == nil {
		registry.logger = slog.Default()
	}
	return registry
}

func (registry *Registry) lookup(k key) (ticker, bool) {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	m, ok := registry.machines[k]
	return m, ok
}

func (registry *Registry) snapshot() []ticker {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	machines := make([]ticker, 0, len(registry.order))
	for _, k := range registry.order {
		machines = append(machines, registry.machines[k])
	}
	return machines
}

// Len returns the number of registered machines.
func (registry *Registry) Len() int {
	if registry == nil {
		return 0
	}
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return len(registry.machines)
}

// Create builds a machine for owner from states and registers it under
// (T, name). Every state receives OnInit in the order supplied. On failure
// the registry is left unchanged.
func Create[T any](registry *Registry, name string, owner *T, states ...State[T]) (Machine[T], error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	k := keyOf[T](name)
	if _, ok := registry.lookup(k); ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, ownerName[T](name))
	}
	m, err := newMachine(name, owner, states)
	if err != nil {
		registry.logger.Warn("fsm: create failed", "fsm", ownerName[T](name), "error", err)
		return nil, err
	}
	registry.mutex.Lock()
	if _, ok := registry.machines[k]; ok {
		// an OnInit hook registered the same key first
		registry.mutex.Unlock()
		m.shutdown()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, ownerName[T](name))
	}
	registry.machines[k] = m
	registry.order = append(registry.order, k)
	registry.mutex.Unlock()
	registry.logger.Debug("fsm: created", "fsm", ownerName[T](name), "id", m.id, "states", len(m.order))
	return m, nil
}

// Get returns the machine registered under (T, name).
func Get[T any](registry *Registry, name string) (Machine[T], bool) {
	if registry == nil {
		return nil, false
	}
	found, ok := registry.lookup(keyOf[T](name))
	if !ok {
		return nil, false
	}
	m, ok := found.(*machine[T])
	return m, ok
}

// Has reports whether a machine is registered under (T, name).
func Has[T any](registry *Registry, name string) bool {
	_, ok := Get[T](registry, name)
	return ok
}

// Destroy shuts down the machine registered under (T, name) and removes it.
// It reports whether such a machine existed.
func Destroy[T any](registry *Registry, name string) bool {
	if registry == nil {
		return false
	}
	return registry.destroy(keyOf[T](name), ownerName[T](name))
}

// DestroyMachine destroys fsm through the registry it was created in.
func DestroyMachine[T any](registry *Registry, fsm Machine[T]) bool {
	if fsm == nil {
		return false
	}
	return Destroy[T](registry, fsm.Name())
}

func (registry *Registry) destroy(k key, fullName string) bool {
	m, ok := registry.lookup(k)
	if !ok {
		return false
	}
	registry.shutdown(m)
	registry.mutex.Lock()
	if registry.machines[k] == m {
		delete(registry.machines, k)
		registry.order = slices.DeleteFunc(registry.order, func(other key) bool {
			return other == k
		})
	}
	registry.mutex.Unlock()
	registry.logger.Debug("fsm: destroyed", "fsm", fullName, "id", m.ID())
	return true
}

// Tick advances every registered machine by elapsed game time and realElapsed
// wall time. The set of machines is copied before the pass, so hooks may create
// or destroy machines while it runs; a machine destroyed mid pass is skipped
// because it no longer has a current state.
func (registry *Registry) Tick(elapsed, realElapsed time.Duration) {
	if registry == nil {
		return
	}
	for _, m := range registry.snapshot() {
		registry.update(m, elapsed, realElapsed)
	}
}

func (registry *Registry) update(m ticker, elapsed, realElapsed time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			registry.logger.Error("fsm: panic while updating state machine", "fsm", m.Name(), "id", m.ID(), "error", r, "stack", string(debug.Stack()))
		}
	}()
	m.update(elapsed, realElapsed)
}

func (registry *Registry) shutdown(m ticker) {
	defer func() {
		if r := recover(); r != nil {
			registry.logger.Error("fsm: panic while shutting down state machine", "fsm", m.Name(), "id", m.ID(), "error", r, "stack", string(debug.Stack()))
		}
	}()
	m.shutdown()
}

// Snapshots describes every registered machine in registration order.
func (registry *Registry) Snapshots() []Snapshot {
	if registry == nil {
		return nil
	}
	machines := registry.snapshot()
	snapshots := make([]Snapshot, 0, len(machines))
	for _, m := range machines {
		snapshots = append(snapshots, m.Snapshot())
	}
	return snapshots
}

// Shutdown destroys every machine and empties the registry.
func (registry *Registry) Shutdown() {
	if registry == nil {
		return
	}
	// hooks may create machines while the registry shuts down
	for machines := registry.snapshot(); len(machines) > 0; machines = registry.snapshot() {
		for _, m := range machines {
			registry.shutdown(m)
		}
		registry.mutex.Lock()
		for k, m := range registry.machines {
			if slices.Contains(machines, m) {
				delete(registry.machines, k)
			}
		}
		registry.order = slices.DeleteFunc(registry.order, func(k key) bool {
			_, ok := registry.machines[k]
			return !ok
		})
		registry.mutex.Unlock()
	}
}
