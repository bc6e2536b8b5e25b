package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/event"
	"github.com/stateforward/fsm.go/internal/config"
	"github.com/stateforward/fsm.go/loop"
	"github.com/stateforward/fsm.go/procedure"
)

func TestRound(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	registry := fsm.NewRegistry(fsm.Config{Logger: logger})
	defer registry.Shutdown()
	dispatcher := event.New(event.Config{Logger: logger})
	defer dispatcher.Shutdown()
	game := &Game{Registry: registry, Dispatcher: dispatcher, Logger: logger, MenuShown: make(chan struct{}, 1)}

	manager, err := procedure.New(registry, procedure.Config{Logger: logger})
	require.NoError(t, err)
	defer manager.Shutdown()
	require.NoError(t, manager.Initialize(
		&Launch{Game: game, Delay: 100 * time.Millisecond},
		&MainMenu{Game: game},
		&GamePlay{Game: game, Step: 10 * time.Millisecond},
	))
	require.NoError(t, manager.Start(LaunchKind))
	l, err := loop.New(registry, dispatcher, loop.Config{Logger: logger})
	require.NoError(t, err)

	l.Step(50*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, LaunchKind, manager.Current().Kind())
	l.Step(50*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, MainMenuKind, manager.Current().Kind())
	select {
	case <-game.MenuShown:
	default:
		t.Fatal("menu did not announce itself")
	}

	l.Step(10*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, MainMenuKind, manager.Current().Kind(), "nothing happens without input")

	dispatcher.Enqueue(&StartRequested{Base: event.NewBase()})
	l.Step(10*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, GamePlayKind, manager.Current().Kind())
	assert.True(t, fsm.Has[Player](registry, ""))
	assert.Zero(t, dispatcher.HandlerCount(StartRequestedKind))
	assert.Equal(t, 2, dispatcher.HandlerCount(ScoreChangedKind))

	for range 20 {
		if game.Rounds > 0 {
			break
		}
		l.Step(10*time.Millisecond, 10*time.Millisecond)
	}
	assert.Equal(t, 1, game.Rounds)
	assert.Equal(t, MainMenuKind, manager.Current().Kind())
	assert.False(t, fsm.Has[Player](registry, ""))
	assert.Zero(t, dispatcher.HandlerCount(ScoreChangedKind))
	assert.Zero(t, dispatcher.HandlerCount(GameOverKind))
	assert.Contains(t, logs.String(), "value=2")
	assert.NotContains(t, logs.String(), "value=3", "the referee cancels the winning score")
}

func TestRun(t *testing.T) {
	diagram := filepath.Join(t.TempDir(), "procedures.puml")
	file := filepath.Join(t.TempDir(), "procedures.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
tick_interval: 1ms
frames: 300
launch_duration: 4ms
log_level: error
diagram: `+diagram+"\n"), 0o600))
	for _, name := range []string{"FSM_TICK_INTERVAL", "FSM_TIME_SCALE", "FSM_FRAMES", "FSM_LAUNCH_DURATION", "FSM_LOG_LEVEL", "FSM_LOG_FORMAT", "FSM_DIAGRAM"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	require.NoError(t, run(context.Background(), config.Options{File: file}))
	data, err := os.ReadFile(diagram)
	require.NoError(t, err)
	assert.Contains(t, string(data), "@startuml procedure_Manager")
	assert.Contains(t, string(data), "[*] --> Launch")
	assert.Contains(t, string(data), "Launch ----> MainMenu : 1")
}

func TestRunStopsOnCancel(t *testing.T) {
	for _, name := range []string{"FSM_TICK_INTERVAL", "FSM_FRAMES", "FSM_LOG_LEVEL", "FSM_DIAGRAM"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
	t.Setenv("FSM_LOG_LEVEL", "error")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx, config.Options{}))
}

func TestRunRejectsBadConfig(t *testing.T) {
	t.Setenv("FSM_LOG_FORMAT", "xml")
	assert.ErrorIs(t, run(context.Background(), config.Options{}), config.ErrInvalidFormat)
}
