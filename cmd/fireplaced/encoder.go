package main

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// encoderState is the debounce/direction state machine for a two-line rotary
// encoder, kept free of hardware dependencies so it can be driven directly
// in tests.
//
// Detection is falling-edge-only on the clock line, with direction read from
// the data line's level at that instant: data high means clockwise (up),
// data low counter-clockwise (down). Edges arriving within the debounce
// window of the last accepted trigger are ignored, which suppresses
// mechanical contact bounce without double-counting detents.
type encoderState struct {
	counter  *Counter
	debounce time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	lastTrigger time.Time
}

func newEncoderState(counter *Counter, debounce time.Duration, logger *slog.Logger) *encoderState {
	return &encoderState{counter: counter, debounce: debounce, logger: logger}
}

// ClockEdge processes one edge on the clock line. Rising edges are ignored.
func (e *encoderState) ClockEdge(now time.Time, falling, dataHigh bool) {
	if !falling {
		return
	}

	e.mu.Lock()
	if now.Sub(e.lastTrigger) < e.debounce {
		e.mu.Unlock()
		return
	}
	e.lastTrigger = now
	e.mu.Unlock()

	if dataHigh {
		e.counter.Up()
	} else {
		e.counter.Down()
	}
	e.logger.Debug("encoder tick", "up", dataHigh, "counter", e.counter.Value())
}

// gpioEncoder wires the state machine to GPIO character-device lines: the
// clock line delivers falling-edge events, the data line is sampled on each
// event.
type gpioEncoder struct {
	state *encoderState
	clk   *gpiocdev.Line
	dt    *gpiocdev.Line
}

// openGPIOEncoder requests both encoder lines and registers the edge
// handler. The returned encoder must be closed to release the lines.
func openGPIOEncoder(chip string, clockPin, dataPin int, counter *Counter, debounce time.Duration, logger *slog.Logger) (*gpioEncoder, error) {
	enc := &gpioEncoder{
		state: newEncoderState(counter, debounce, logger),
	}

	dt, err := gpiocdev.RequestLine(chip, dataPin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp)
	if err != nil {
		return nil, fmt.Errorf("request encoder data line %d: %w", dataPin, err)
	}
	enc.dt = dt

	clk, err := gpiocdev.RequestLine(chip, clockPin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(enc.handleEvent))
	if err != nil {
		dt.Close()
		return nil, fmt.Errorf("request encoder clock line %d: %w", clockPin, err)
	}
	enc.clk = clk

	logger.Info("rotary encoder attached", "chip", chip, "clk", clockPin, "dt", dataPin,
		"debounce_ms", debounce.Milliseconds())
	return enc, nil
}

// handleEvent runs on the gpiocdev event goroutine, concurrently with the
// worker thread; the state machine and counter are responsible for their
// own locking.
func (g *gpioEncoder) handleEvent(ev gpiocdev.LineEvent) {
	level, err := g.dt.Value()
	if err != nil {
		g.state.logger.Warn("encoder data line read failed", "error", err)
		return
	}
	g.state.ClockEdge(time.Now(), ev.Type == gpiocdev.LineEventFallingEdge, level != 0)
}

// Close releases both GPIO lines, detaching the edge handler.
func (g *gpioEncoder) Close() error {
	var firstErr error
	if g.clk != nil {
		if err := g.clk.Close(); err != nil {
			firstErr = err
		}
		g.clk = nil
	}
	if g.dt != nil {
		if err := g.dt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		g.dt = nil
	}
	return firstErr
}
