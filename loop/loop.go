// Package loop drives a registry and a dispatcher frame by frame.
//
// Every frame first drains the events queued since the previous frame and
// then ticks every machine in the registry with the frame's elapsed time.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stateforward/fsm.go"
	"github.com/stateforward/fsm.go/event"
)

// Error variables returned by New and Run.
var (
	// ErrNilRegistry is returned when New receives a nil registry.
	ErrNilRegistry = errors.New("loop registry is nil")
	// ErrNilDispatcher is returned when New receives a nil dispatcher.
	ErrNilDispatcher = errors.New("loop dispatcher is nil")
	// ErrAlreadyRunning is returned when Run is called while another Run is active.
	ErrAlreadyRunning = errors.New("loop is already running")
)

// Clock reports the time that passed since it was last asked. elapsed is
// scaled simulation time, realElapsed is unscaled.
type Clock interface {
	Elapsed() (elapsed, realElapsed time.Duration)
}

// WallClock measures real time and scales it by TimeScale.
type WallClock struct {
	// TimeScale multiplies elapsed time. Zero means 1.
	TimeScale float64
	last      time.Time
}

// Elapsed returns zero on the first call and the time since the previous call
// afterwards.
func (c *WallClock) Elapsed() (time.Duration, time.Duration) {
	now := time.Now()
	if c.last.IsZero() {
		c.last = now
		return 0, 0
	}
	actual := now.Sub(c.last)
	c.last = now
	scale := c.TimeScale
	if scale == 0 {
		scale = 1
	}
	return time.Duration(float64(actual) * scale), actual
}

// FixedClock reports the same step every frame.
type FixedClock struct {
	Step time.Duration
}

// Elapsed returns Step for both values.
func (c FixedClock) Elapsed() (time.Duration, time.Duration) {
	return c.Step, c.Step
}

// Config provides configuration options for a Loop.
type Config struct {
	// Interval between frames in Run. Defaults to 16ms.
	Interval time.Duration
	// MaxFrames stops Run after that many frames. Zero runs until cancelled.
	MaxFrames int
	// Clock supplies frame times. Defaults to a WallClock.
	Clock Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultInterval is the frame interval used when Config.Interval is not positive.
const DefaultInterval = 16 * time.Millisecond

// Loop owns the frame order for one registry and one dispatcher. Step and Run
// must not be called concurrently; other goroutines talk to the loop through
// Dispatcher.Enqueue.
type Loop struct {
	registry   *fsm.Registry
	dispatcher *event.Dispatcher
	interval   time.Duration
	maxFrames  int
	clock      Clock
	logger     *slog.Logger
	mutex      sync.Mutex
	running    bool
	frames     atomic.Int64
}

// New creates a loop for registry and dispatcher.
func New(registry *fsm.Registry, dispatcher *event.Dispatcher, maybeConfig ...Config) (*Loop, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	config := Config{}
	if len(maybeConfig) > 0 {
		config = maybeConfig[0]
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Clock == nil {
		config.Clock = &WallClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Loop{
		registry:   registry,
		dispatcher: dispatcher,
		interval:   config.Interval,
		maxFrames:  config.MaxFrames,
		clock:      config.Clock,
		logger:     config.Logger,
	}, nil
}

// Step runs one frame: pending events are delivered, then every machine is
// updated. It returns the number of events delivered.
func (l *Loop) Step(elapsed, realElapsed time.Duration) int {
	delivered := l.dispatcher.Drain()
	l.registry.Tick(elapsed, realElapsed)
	l.frames.Add(1)
	return delivered
}

// Frames returns the number of frames stepped so far. It is safe to call
// while Run is active.
func (l *Loop) Frames() int64 {
	return l.frames.Load()
}

// Run steps a frame every interval until ctx is done or MaxFrames is reached.
// It returns ctx.Err() when cancelled and nil when the frame budget is spent.
func (l *Loop) Run(ctx context.Context) error {
	l.mutex.Lock()
	if l.running {
		l.mutex.Unlock()
		return ErrAlreadyRunning
	}
	l.running = true
	l.mutex.Unlock()
	defer func() {
		l.mutex.Lock()
		l.running = false
		l.mutex.Unlock()
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Debug("loop: started", "interval", l.interval, "max_frames", l.maxFrames)
	for frames := 0; l.maxFrames == 0 || frames < l.maxFrames; frames++ {
		select {
		case <-ctx.Done():
			l.logger.Debug("loop: stopped", "frames", l.frames.Load(), "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
		elapsed, realElapsed := l.clock.Elapsed()
		l.Step(elapsed, realElapsed)
	}
	l.logger.Debug("loop: finished", "frames", l.frames.Load())
	return nil
}
