// Package procedure runs an application's top level phases as one state machine.
//
// A procedure is a state of the manager's machine: launch, main menu, gameplay
// and so on. Procedures embed Base and move between each other with
// Base.ChangeState, exactly like any other state.
package procedure

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/kind"
)

// Error variables returned by the Manager.
var (
	// ErrNoProcedures is returned when Initialize receives no procedures.
	ErrNoProcedures = errors.New("no procedures supplied")
	// ErrAlreadyInitialized is returned when Initialize is called twice without Shutdown.
	ErrAlreadyInitialized = errors.New("procedure manager is already initialized")
	// ErrNotInitialized is returned by Start before Initialize.
	ErrNotInitialized = errors.New("procedure manager is not initialized")
)

// Procedure is a state owned by the Manager.
type Procedure = fsm.State[Manager]

// Base supplies no-op hooks and ChangeState for procedures.
type Base = fsm.BaseState[Manager]

// Machine is the machine procedure hooks receive.
type Machine = fsm.Machine[Manager]

// Config provides configuration options for a Manager.
type Config struct {
	// Name distinguishes several managers in one registry.
	Name   string
	Logger *slog.Logger
}

// Manager owns the procedure machine. The machine is registered in the
// registry under the Manager owner type and the configured name.
type Manager struct {
	registry *fsm.Registry
	name     string
	logger   *slog.Logger
	mutex    sync.RWMutex
	// pending is set while Initialize runs the OnInit hooks
	pending bool
	current fsm.Machine[Manager]
}

// New creates a manager backed by registry. Procedures are supplied later with
// Initialize.
func New(registry *fsm.Registry, maybeConfig ...Config) (*Manager, error) {
	if registry == nil {
		return nil, fsm.ErrNilRegistry
	}
	config := Config{}
	if len(maybeConfig) > 0 {
		config = maybeConfig[0]
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		name:     config.Name,
		logger:   config.Logger,
	}, nil
}

// Initialize creates the procedure machine. It calls OnInit on every procedure
// in the order supplied.
func (m *Manager) Initialize(procedures ...Procedure) error {
	if len(procedures) == 0 {
		return ErrNoProcedures
	}
	m.mutex.Lock()
	if m.current != nil || m.pending {
		m.mutex.Unlock()
		return ErrAlreadyInitialized
	}
	m.pending = true
	m.mutex.Unlock()

	machine, err := fsm.Create[Manager](m.registry, m.name, m, procedures...)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pending = false
	if err != nil {
		m.logger.Error("procedure: initialize failed", "name", m.name, "error", err)
		return fmt.Errorf("procedure: %w", err)
	}
	m.current = machine
	m.logger.Debug("procedure: initialized", "name", m.name, "procedures", machine.StateCount())
	return nil
}

// Machine returns the procedure machine, or nil before Initialize.
func (m *Manager) Machine() fsm.Machine[Manager] {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// Start enters the procedure of kind k.
func (m *Manager) Start(k kind.Kind) error {
	machine := m.Machine()
	if machine == nil {
		return ErrNotInitialized
	}
	if err := machine.Start(k); err != nil {
		return fmt.Errorf("procedure: %w", err)
	}
	return nil
}

// Has reports whether a procedure of kind k exists.
func (m *Manager) Has(k kind.Kind) bool {
	machine := m.Machine()
	return machine != nil && machine.HasState(k)
}

// Get returns the procedure of kind k.
func (m *Manager) Get(k kind.Kind) (Procedure, bool) {
	machine := m.Machine()
	if machine == nil {
		return nil, false
	}
	return machine.GetState(k)
}

// Current returns the running procedure, or nil.
func (m *Manager) Current() Procedure {
	machine := m.Machine()
	if machine == nil {
		return nil
	}
	return machine.CurrentState()
}

// CurrentTime returns how long the current procedure has been running.
func (m *Manager) CurrentTime() time.Duration {
	machine := m.Machine()
	if machine == nil {
		return 0
	}
	return machine.CurrentStateTime()
}

// Count returns the number of procedures.
func (m *Manager) Count() int {
	machine := m.Machine()
	if machine == nil {
		return 0
	}
	return machine.StateCount()
}

// Shutdown destroys the procedure machine. The manager can be initialized again
// afterwards.
func (m *Manager) Shutdown() {
	m.mutex.Lock()
	machine := m.current
	m.current = nil
	m.mutex.Unlock()
	if machine == nil {
		return
	}
	fsm.DestroyMachine(m.registry, machine)
}
