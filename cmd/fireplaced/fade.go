package main

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// FadeScheduler linearly ramps the shared volume/brightness counter toward
// zero over the trailing fade window of a run.
//
// It is invoked periodically by the controller (every few seconds, not every
// frame). The anchor value is captured exactly once, when the remaining time
// first drops into the window, and must be reset whenever a run starts or
// its duration is updated.
type FadeScheduler struct {
	counter *Counter
	logger  *slog.Logger

	mu        sync.Mutex
	anchor    float64
	anchorSet bool
}

// NewFadeScheduler creates a scheduler driving the given counter.
func NewFadeScheduler(counter *Counter, logger *slog.Logger) *FadeScheduler {
	return &FadeScheduler{counter: counter, logger: logger}
}

// Reset clears the captured anchor. Called on start and on live duration
// updates; a fade in progress hard-resets rather than continuing.
func (f *FadeScheduler) Reset() {
	f.mu.Lock()
	f.anchorSet = false
	f.anchor = 0
	f.mu.Unlock()
}

// Apply computes the fade target for the current remaining time and applies
// it to the counter. No-op when the window is disabled or not yet entered.
// Updates are gated by a minimum delta of one unit to avoid callback storms.
func (f *FadeScheduler) Apply(remaining, window time.Duration) {
	if window <= 0 || remaining > window {
		return
	}

	f.mu.Lock()
	if !f.anchorSet {
		f.anchor = f.counter.Value()
		f.anchorSet = true
		f.logger.Info("starting fade-out",
			"from", f.anchor, "window_minutes", window.Minutes())
	}
	anchor := f.anchor
	f.mu.Unlock()

	if remaining < 0 {
		remaining = 0
	}
	progress := 1 - remaining.Seconds()/window.Seconds()
	target := anchor * (1 - progress)

	current := f.counter.Value()
	if math.Abs(current-target) >= 1 {
		f.counter.Set(target)
		f.logger.Debug("fade", "target", target, "remaining_s", remaining.Seconds())
	}
}
