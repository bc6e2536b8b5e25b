package main

import (
	"log/slog"
	"time"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/event"
	"github.com/stateforward/fsm.go/kind"
	"github.com/stateforward/fsm.go/procedure"
)

var (
	LaunchKind   = kind.Make(fsm.StateKind)
	MainMenuKind = kind.Make(fsm.StateKind)
	GamePlayKind = kind.Make(fsm.StateKind)

	IdleKind    = kind.Make(fsm.StateKind)
	WalkingKind = kind.Make(fsm.StateKind)

	StartRequestedKind = kind.Make(event.Kind)
	ScoreChangedKind   = kind.Make(event.Kind)
	GameOverKind       = kind.Make(event.Kind)
)

// WinningScore ends a round.
const WinningScore = 3

/******* Events *******/

// StartRequested is raised by the input goroutine while the main menu is shown.
type StartRequested struct {
	event.Base
}

func (*StartRequested) Kind() kind.Kind { return StartRequestedKind }

type ScoreChanged struct {
	event.Base
	Score int
}

func (*ScoreChanged) Kind() kind.Kind { return ScoreChangedKind }

type GameOver struct {
	event.Base
	Score int
}

func (*GameOver) Kind() kind.Kind { return GameOverKind }

// Game is what the procedures share.
type Game struct {
	Registry   *fsm.Registry
	Dispatcher *event.Dispatcher
	Logger     *slog.Logger
	// MenuShown receives a value every time the main menu is entered.
	MenuShown chan struct{}
	Rounds    int
}

/******* Procedures *******/

// Launch waits for Delay before showing the main menu.
type Launch struct {
	procedure.Base
	Game  *Game
	Delay time.Duration
}

func (*Launch) Kind() kind.Kind { return LaunchKind }

func (p *Launch) OnEnter(procedure.Machine) {
	p.Game.Logger.Info("launching", "delay", p.Delay)
}

func (p *Launch) OnUpdate(m procedure.Machine, _, _ time.Duration) {
	if m.CurrentStateTime() < p.Delay {
		return
	}
	if err := p.ChangeState(m, MainMenuKind); err != nil {
		p.Game.Logger.Error("launch: change state failed", "error", err)
	}
}

// MainMenu waits for a StartRequested event.
type MainMenu struct {
	procedure.Base
	Game    *Game
	handler event.Handler
	start   bool
}

func (*MainMenu) Kind() kind.Kind { return MainMenuKind }

func (p *MainMenu) OnInit(procedure.Machine) {
	p.handler = event.Typed(func(e *StartRequested) {
		p.start = true
	})
}

func (p *MainMenu) OnEnter(procedure.Machine) {
	p.start = false
	if err := p.Game.Dispatcher.Register(StartRequestedKind, p.handler, event.Normal); err != nil {
		p.Game.Logger.Error("main menu: register failed", "error", err)
	}
	p.Game.Logger.Info("main menu shown", "rounds", p.Game.Rounds)
	select {
	case p.Game.MenuShown <- struct{}{}:
	default:
	}
}

func (p *MainMenu) OnUpdate(m procedure.Machine, _, _ time.Duration) {
	if !p.start {
		return
	}
	if err := p.ChangeState(m, GamePlayKind); err != nil {
		p.Game.Logger.Error("main menu: change state failed", "error", err)
	}
}

func (p *MainMenu) OnLeave(procedure.Machine, bool) {
	p.Game.Dispatcher.Unregister(StartRequestedKind, p.handler)
}

// GamePlay runs a player machine until it reaches WinningScore.
type GamePlay struct {
	procedure.Base
	Game     *Game
	Step     time.Duration
	player   *Player
	handlers map[kind.Kind][]event.Handler
	over     bool
}

func (*GamePlay) Kind() kind.Kind { return GamePlayKind }

func (p *GamePlay) OnInit(procedure.Machine) {
	hud := event.Typed(func(e *ScoreChanged) {
		p.Game.Logger.Info("score", "value", e.Score)
	})
	referee := event.Typed(func(e *ScoreChanged) {
		if e.Score >= WinningScore {
			e.Cancel()
			p.Game.Dispatcher.Enqueue(&GameOver{Base: event.NewBase(event.WithSource(e)), Score: e.Score})
		}
	})
	over := event.Typed(func(e *GameOver) {
		p.over = true
	})
	p.handlers = map[kind.Kind][]event.Handler{
		ScoreChangedKind: {referee, hud},
		GameOverKind:     {over},
	}
}

func (p *GamePlay) OnEnter(procedure.Machine) {
	p.over = false
	dispatcher := p.Game.Dispatcher
	scores := p.handlers[ScoreChangedKind]
	_ = dispatcher.Register(ScoreChangedKind, scores[0], event.Highest)
	_ = dispatcher.Register(ScoreChangedKind, scores[1], event.Low)
	_ = dispatcher.Register(GameOverKind, p.handlers[GameOverKind][0], event.Normal)

	p.player = &Player{}
	machine, err := fsm.Create[Player](p.Game.Registry, "", p.player,
		&Idle{Step: p.Step},
		&Walking{Step: p.Step, Dispatcher: dispatcher},
	)
	if err != nil {
		p.Game.Logger.Error("gameplay: create player failed", "error", err)
		return
	}
	if err := machine.Start(IdleKind); err != nil {
		p.Game.Logger.Error("gameplay: start player failed", "error", err)
	}
}

func (p *GamePlay) OnUpdate(m procedure.Machine, _, _ time.Duration) {
	if !p.over {
		return
	}
	p.Game.Rounds++
	if err := p.ChangeState(m, MainMenuKind); err != nil {
		p.Game.Logger.Error("gameplay: change state failed", "error", err)
	}
}

func (p *GamePlay) OnLeave(_ procedure.Machine, shutdown bool) {
	if p.player != nil {
		p.Game.Logger.Info("round over", "score", p.player.Score, "shutdown", shutdown)
		p.player = nil
	}
	fsm.Destroy[Player](p.Game.Registry, "")
	for k, handlers := range p.handlers {
		for _, handler := range handlers {
			p.Game.Dispatcher.Unregister(k, handler)
		}
	}
}

/******* Player *******/

type Player struct {
	Score int
}

// Idle starts walking after Step.
type Idle struct {
	fsm.BaseState[Player]
	Step time.Duration
}

func (*Idle) Kind() kind.Kind { return IdleKind }

func (s *Idle) OnUpdate(m fsm.Machine[Player], _, _ time.Duration) {
	if m.CurrentStateTime() >= s.Step {
		_ = s.ChangeState(m, WalkingKind)
	}
}

// Walking scores a point every time it finishes a Step.
type Walking struct {
	fsm.BaseState[Player]
	Step       time.Duration
	Dispatcher *event.Dispatcher
}

func (*Walking) Kind() kind.Kind { return WalkingKind }

func (s *Walking) OnUpdate(m fsm.Machine[Player], _, _ time.Duration) {
	if m.CurrentStateTime() < s.Step {
		return
	}
	player := m.Owner()
	player.Score++
	s.Dispatcher.Enqueue(&ScoreChanged{Base: event.NewBase(event.WithSource(player)), Score: player.Score})
	_ = s.ChangeState(m, IdleKind)
}
