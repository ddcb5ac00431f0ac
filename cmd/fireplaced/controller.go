package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"fireplaced/internal/noise"
)

var (
	errNotRunning = errors.New("no run in progress")
	errBadRequest = errors.New("invalid request")
)

// RunState is the read-only snapshot returned by Controller.Status and
// broadcast to observers on every state transition.
type RunState struct {
	Running          bool    `json:"running"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Volume           float64 `json:"volume"`
}

// Deps are the hardware/resource factories the controller acquires at run
// start and releases at run end. Each factory is called on the worker
// goroutine; tests substitute fakes here.
type Deps struct {
	OpenDisplay func() (Display, error)
	OpenAudio   func() (Audio, error)
	OpenEncoder func(*Counter) (io.Closer, error)
	LoadNoise   func() (*noise.Field, error)
}

// Controller owns the run lifecycle: Idle → Running → Idle, with live
// duration updates while running. One worker goroutine runs the
// initialize→animate→cleanup sequence; the controller itself only manages
// state and signalling.
type Controller struct {
	deps     Deps
	counter  *Counter
	fade     *FadeScheduler
	colormap *ColorMap
	logger   *slog.Logger

	rows, cols, fps int

	// fadeEvery bounds how often the fade ramp is evaluated inside the
	// render loop. Overridable in tests.
	fadeEvery time.Duration

	onRunState func(RunState)

	mu         sync.Mutex
	running    bool
	startTime  time.Time
	duration   time.Duration
	fadeWindow time.Duration
	stopCh     chan struct{}
	stopOnce   *sync.Once
	doneCh     chan struct{}
	display    Display
	audio      Audio
}

// NewController wires the shared counter to the per-run collaborators:
// subscriber order is volume first, then brightness.
func NewController(deps Deps, colormap *ColorMap, rows, cols, fps int, logger *slog.Logger) *Controller {
	c := &Controller{
		deps:      deps,
		counter:   NewCounter(counterInitial, counterMin, counterMax, counterStep),
		colormap:  colormap,
		logger:    logger,
		rows:      rows,
		cols:      cols,
		fps:       fps,
		fadeEvery: fadeCheckInterval,
	}
	c.fade = NewFadeScheduler(c.counter, logger)

	c.counter.Subscribe(func(v float64) {
		c.mu.Lock()
		audio := c.audio
		c.mu.Unlock()
		if audio != nil {
			audio.SetVolume(v)
		}
	})
	c.counter.Subscribe(func(v float64) {
		c.mu.Lock()
		display := c.display
		c.mu.Unlock()
		if display != nil {
			display.SetBrightness(v)
		}
	})
	return c
}

// Counter exposes the shared volume/brightness level for additional
// observers (state broadcasts, auxiliary inputs).
func (c *Controller) Counter() *Counter { return c.counter }

// OnRunState registers a listener called after every run-state transition
// (start, live update, stop). Must be set before the first Start.
func (c *Controller) OnRunState(fn func(RunState)) {
	c.mu.Lock()
	c.onRunState = fn
	c.mu.Unlock()
}

// Start begins a run, or live-updates the duration and fade window of a run
// already in progress without restarting the worker. A live update resets
// the elapsed clock and clears any fade in progress.
func (c *Controller) Start(duration, fadeWindow time.Duration) error {
	if duration <= 0 || duration > maxDurationMinutes*time.Minute {
		return fmt.Errorf("%w: duration %v outside (0, %v min]",
			errBadRequest, duration, maxDurationMinutes)
	}
	if fadeWindow < 0 {
		return fmt.Errorf("%w: negative fade window %v", errBadRequest, fadeWindow)
	}
	if fadeWindow > duration {
		fadeWindow = duration
	}

	c.mu.Lock()
	if c.running {
		c.startTime = time.Now()
		c.duration = duration
		c.fadeWindow = fadeWindow
		c.mu.Unlock()

		c.fade.Reset()
		c.logger.Info("run updated",
			"duration_min", duration.Minutes(), "fade_min", fadeWindow.Minutes())
		c.notifyRunState()
		return nil
	}

	c.running = true
	c.startTime = time.Now()
	c.duration = duration
	c.fadeWindow = fadeWindow
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stopCh = stop
	c.stopOnce = &sync.Once{}
	c.doneCh = done
	c.mu.Unlock()

	c.fade.Reset()
	go c.run(stop, done)

	c.logger.Info("run started",
		"duration_min", duration.Minutes(), "fade_min", fadeWindow.Minutes())
	c.notifyRunState()
	return nil
}

// Stop signals the worker to exit and waits for cleanup up to a bounded
// join timeout; on timeout it proceeds anyway, leaving the worker to finish
// cleanup on its own.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errNotRunning
	}
	stop := c.stopCh
	once := c.stopOnce
	done := c.doneCh
	c.mu.Unlock()

	once.Do(func() { close(stop) })

	select {
	case <-done:
	case <-time.After(workerJoinTimeout):
		c.logger.Error("worker did not stop within timeout", "timeout", workerJoinTimeout)
	}
	return nil
}

// Status returns a consistent snapshot of the run state.
func (c *Controller) Status() RunState {
	volume := c.counter.Value()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return RunState{Volume: volume}
	}
	remaining := c.duration - time.Since(c.startTime)
	if remaining < 0 {
		remaining = 0
	}
	return RunState{
		Running:          true,
		RemainingSeconds: remaining.Seconds(),
		Volume:           volume,
	}
}

// SetVolume applies an externally requested level to the shared counter,
// triggering the usual subscriber chain. Out-of-range requests are rejected
// before the counter is touched; clamping is reserved for internal sources
// (encoder ticks, fade ramp).
func (c *Controller) SetVolume(v float64) error {
	if v < counterMin || v > counterMax {
		return fmt.Errorf("%w: volume %v outside [%v, %v]",
			errBadRequest, v, counterMin, counterMax)
	}
	c.counter.Set(v)
	c.logger.Info("volume set", "value", v)
	return nil
}

// timeLeft snapshots the remaining run time and fade window.
func (c *Controller) timeLeft() (remaining, window time.Duration, expired bool) {
	c.mu.Lock()
	remaining = c.duration - time.Since(c.startTime)
	window = c.fadeWindow
	c.mu.Unlock()
	return remaining, window, remaining <= 0
}

func (c *Controller) notifyRunState() {
	c.mu.Lock()
	fn := c.onRunState
	c.mu.Unlock()
	if fn != nil {
		fn(c.Status())
	}
}

// run is the worker goroutine: acquire resources, animate until stop or
// expiry, then clean up unconditionally so the panel never freezes
// mid-animation with stale hardware state.
func (c *Controller) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	display, err := c.deps.OpenDisplay()
	if err != nil {
		c.logger.Error("display unavailable, aborting run", "error", err)
		c.finish(nil, nil, nil)
		return
	}

	audio, err := c.deps.OpenAudio()
	if err != nil {
		c.logger.Warn("audio unavailable, running silent", "error", err)
		audio = nopAudio{}
	}

	encoder, err := c.deps.OpenEncoder(c.counter)
	if err != nil {
		c.logger.Warn("encoder unavailable, knob disabled", "error", err)
		encoder = nil
	}

	c.mu.Lock()
	c.display = display
	c.audio = audio
	c.mu.Unlock()

	level := c.counter.Value()
	display.SetBrightness(level)
	audio.SetVolume(level)
	if err := audio.Play(); err != nil {
		c.logger.Warn("audio playback failed", "error", err)
	}

	prefetch := NewPrefetcher(c.deps.LoadNoise, c.logger)
	render := NewRenderLoop(prefetch, c.colormap, display, c.rows, c.cols, c.fps, c.logger)

	lastFade := time.Now()
animate:
	for {
		select {
		case <-stop:
			c.logger.Info("stop requested")
			break animate
		default:
		}

		remaining, window, expired := c.timeLeft()
		if expired {
			c.logger.Info("run duration expired")
			break animate
		}
		if time.Since(lastFade) >= c.fadeEvery {
			c.fade.Apply(remaining, window)
			lastFade = time.Now()
		}

		if err := render.Tick(); err != nil {
			c.logger.Error("render tick failed, aborting run", "error", err)
			break animate
		}
	}

	c.finish(display, audio, encoder)
}

// finish releases everything the run acquired and resets to Idle. Any of
// the arguments may be nil when acquisition failed part-way.
func (c *Controller) finish(display Display, audio Audio, encoder io.Closer) {
	c.mu.Lock()
	c.display = nil
	c.audio = nil
	c.mu.Unlock()

	if display != nil {
		black := make([]RGB, c.rows*c.cols)
		if err := display.Frame(black); err == nil {
			display.Present()
		}
		if err := display.Close(); err != nil {
			c.logger.Warn("display close failed", "error", err)
		}
	}
	if encoder != nil {
		if err := encoder.Close(); err != nil {
			c.logger.Warn("encoder close failed", "error", err)
		}
	}
	if audio != nil {
		if err := audio.Close(); err != nil {
			c.logger.Warn("audio close failed", "error", err)
		}
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.logger.Info("run finished")
	c.notifyRunState()
}
