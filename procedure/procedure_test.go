package procedure_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/kind"
	"github.com/stateforward/fsm.go/procedure"
)

var (
	launchKind   = kind.Make(fsm.StateKind)
	menuKind     = kind.Make(fsm.StateKind)
	gameplayKind = kind.Make(fsm.StateKind)
)

type trace []string

// Launch moves to the menu once it has run for delay.
type Launch struct {
	procedure.Base
	delay time.Duration
	trace *trace
}

func (*Launch) Kind() kind.Kind { return launchKind }

func (p *Launch) OnInit(procedure.Machine) { *p.trace = append(*p.trace, "launch.init") }

func (p *Launch) OnEnter(procedure.Machine) { *p.trace = append(*p.trace, "launch.enter") }

func (p *Launch) OnUpdate(m procedure.Machine, _, _ time.Duration) {
	if m.CurrentStateTime() >= p.delay {
		_ = p.ChangeState(m, menuKind)
	}
}

func (p *Launch) OnLeave(_ procedure.Machine, shutdown bool) {
	if shutdown {
		*p.trace = append(*p.trace, "launch.shutdown")
		return
	}
	*p.trace = append(*p.trace, "launch.leave")
}

type Menu struct {
	procedure.Base
	trace *trace
}

func (*Menu) Kind() kind.Kind { return menuKind }

func (p *Menu) OnEnter(procedure.Machine) { *p.trace = append(*p.trace, "menu.enter") }

func (p *Menu) OnLeave(_ procedure.Machine, shutdown bool) {
	if shutdown {
		*p.trace = append(*p.trace, "menu.shutdown")
	}
}

func (p *Menu) OnDestroy(procedure.Machine) { *p.trace = append(*p.trace, "menu.destroy") }

func newRegistry(t *testing.T) *fsm.Registry {
	t.Helper()
	registry := fsm.NewRegistry(fsm.Config{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))})
	t.Cleanup(registry.Shutdown)
	return registry
}

func newManager(t *testing.T, registry *fsm.Registry, name string) *procedure.Manager {
	t.Helper()
	manager, err := procedure.New(registry, procedure.Config{
		Name:   name,
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	require.NoError(t, err)
	return manager
}

func TestNew(t *testing.T) {
	_, err := procedure.New(nil)
	assert.ErrorIs(t, err, fsm.ErrNilRegistry)
}

func TestBeforeInitialize(t *testing.T) {
	manager := newManager(t, newRegistry(t), "")
	assert.ErrorIs(t, manager.Start(launchKind), procedure.ErrNotInitialized)
	assert.False(t, manager.Has(launchKind))
	_, ok := manager.Get(launchKind)
	assert.False(t, ok)
	assert.Nil(t, manager.Current())
	assert.Zero(t, manager.CurrentTime())
	assert.Zero(t, manager.Count())
	assert.Nil(t, manager.Machine())
	assert.NotPanics(t, manager.Shutdown)
}

func TestInitialize(t *testing.T) {
	registry := newRegistry(t)
	manager := newManager(t, registry, "")
	var tr trace
	launch := &Launch{delay: time.Second, trace: &tr}

	assert.ErrorIs(t, manager.Initialize(), procedure.ErrNoProcedures)
	require.NoError(t, manager.Initialize(launch, &Menu{trace: &tr}))
	assert.ErrorIs(t, manager.Initialize(launch), procedure.ErrAlreadyInitialized)

	assert.Equal(t, trace{"launch.init"}, tr)
	assert.Equal(t, 2, manager.Count())
	assert.True(t, manager.Has(menuKind))
	assert.False(t, manager.Has(gameplayKind))
	got, ok := manager.Get(launchKind)
	require.True(t, ok)
	assert.Same(t, launch, got)

	machine, ok := fsm.Get[procedure.Manager](registry, "")
	require.True(t, ok)
	assert.Same(t, manager, machine.Owner())
}

func TestInitializeFailureAllowsRetry(t *testing.T) {
	manager := newManager(t, newRegistry(t), "")
	var tr trace
	err := manager.Initialize(&Menu{trace: &tr}, &Menu{trace: &tr})
	assert.ErrorIs(t, err, fsm.ErrDuplicateState)
	require.NoError(t, manager.Initialize(&Menu{trace: &tr}))
}

func TestStartAndTransition(t *testing.T) {
	registry := newRegistry(t)
	manager := newManager(t, registry, "")
	var tr trace
	require.NoError(t, manager.Initialize(&Launch{delay: 100 * time.Millisecond, trace: &tr}, &Menu{trace: &tr}))

	assert.ErrorIs(t, manager.Start(gameplayKind), fsm.ErrUnknownState)
	require.NoError(t, manager.Start(launchKind))
	assert.ErrorIs(t, manager.Start(menuKind), fsm.ErrAlreadyRunning)
	assert.Equal(t, launchKind, manager.Current().Kind())

	registry.Tick(60*time.Millisecond, 60*time.Millisecond)
	assert.Equal(t, launchKind, manager.Current().Kind())
	assert.Equal(t, 60*time.Millisecond, manager.CurrentTime())

	registry.Tick(60*time.Millisecond, 60*time.Millisecond)
	assert.Equal(t, menuKind, manager.Current().Kind())
	assert.Zero(t, manager.CurrentTime())
	assert.Equal(t, trace{"launch.init", "launch.enter", "launch.leave", "menu.enter"}, tr)
}

func TestShutdown(t *testing.T) {
	registry := newRegistry(t)
	manager := newManager(t, registry, "")
	var tr trace
	require.NoError(t, manager.Initialize(&Launch{trace: &tr}, &Menu{trace: &tr}))
	require.NoError(t, manager.Start(menuKind))
	tr = nil

	manager.Shutdown()
	assert.Equal(t, trace{"menu.shutdown", "menu.destroy"}, tr)
	assert.False(t, fsm.Has[procedure.Manager](registry, ""))
	assert.Nil(t, manager.Current())

	require.NoError(t, manager.Initialize(&Launch{trace: &tr}))
}

func TestNamedManagers(t *testing.T) {
	registry := newRegistry(t)
	var tr trace
	game := newManager(t, registry, "game")
	tools := newManager(t, registry, "tools")
	require.NoError(t, game.Initialize(&Menu{trace: &tr}))
	require.NoError(t, tools.Initialize(&Menu{trace: &tr}))
	assert.Equal(t, 2, registry.Len())

	clash := newManager(t, registry, "game")
	assert.ErrorIs(t, clash.Initialize(&Menu{trace: &tr}), fsm.ErrAlreadyExists)
}
