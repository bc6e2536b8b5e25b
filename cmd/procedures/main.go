// Command procedures runs a small game loop: a launch procedure hands over to
// a main menu, an input goroutine asks to start, and a gameplay procedure runs
// a player state machine until it reaches the winning score.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/event"
	"github.com/stateforward/fsm.go/internal/config"
	"github.com/stateforward/fsm.go/internal/logging"
	"github.com/stateforward/fsm.go/loop"
	"github.com/stateforward/fsm.go/pkg/plantuml"
	"github.com/stateforward/fsm.go/procedure"
)

func main() {
	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.Options{DotEnv: *envFile, File: *configPath}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, options config.Options) error {
	cfg, err := config.Load(options)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(
		logging.WithLevel(level),
		logging.WithFormat(logging.Format(cfg.LogFormat)),
		logging.WithAttr(slog.String("app", "procedures")),
	)

	registry := fsm.NewRegistry(fsm.Config{Logger: logger})
	defer registry.Shutdown()
	dispatcher := event.New(event.Config{Logger: logger})
	defer dispatcher.Shutdown()

	game := &Game{
		Registry:   registry,
		Dispatcher: dispatcher,
		Logger:     logger,
		MenuShown:  make(chan struct{}, 1),
	}
	manager, err := procedure.New(registry, procedure.Config{Logger: logger})
	if err != nil {
		return err
	}
	defer manager.Shutdown()
	step := max(cfg.LaunchDuration/4, cfg.TickInterval)
	if err := manager.Initialize(
		&Launch{Game: game, Delay: cfg.LaunchDuration},
		&MainMenu{Game: game},
		&GamePlay{Game: game, Step: step},
	); err != nil {
		return err
	}
	if err := manager.Start(LaunchKind); err != nil {
		return err
	}

	l, err := loop.New(registry, dispatcher, loop.Config{
		Interval:  cfg.TickInterval,
		MaxFrames: cfg.Frames,
		Clock:     &loop.WallClock{TimeScale: cfg.TimeScale},
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pressStart(ctx, game, step)

	err = l.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	logger.Info("stopped", "frames", l.Frames(), "rounds", game.Rounds, "procedure", manager.Machine().Snapshot().State)
	if cfg.Diagram != "" {
		if diagramErr := writeDiagram(cfg.Diagram, registry.Snapshots()); diagramErr != nil {
			return errors.Join(err, diagramErr)
		}
		logger.Info("diagram written", "path", cfg.Diagram)
	}
	return err
}

// pressStart plays the user: every time the menu is shown it waits a moment
// and asks to start. It only talks to the loop through the dispatcher.
func pressStart(ctx context.Context, game *Game, delay time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-game.MenuShown:
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		game.Dispatcher.Enqueue(&StartRequested{Base: event.NewBase(event.WithSource("input"))})
	}
}

func writeDiagram(path string, snapshots []fsm.Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("diagram: %w", err)
	}
	if err := plantuml.GenerateAll(file, snapshots); err != nil {
		file.Close()
		return fmt.Errorf("diagram: %w", err)
	}
	return file.Close()
}
