package main

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"fireplaced/internal/noise"
)

type fakeAudio struct {
	mu      sync.Mutex
	played  int
	volumes []float64
	closed  bool
}

func (a *fakeAudio) Play() error {
	a.mu.Lock()
	a.played++
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) SetVolume(pct float64) {
	a.mu.Lock()
	a.volumes = append(a.volumes, pct)
	a.mu.Unlock()
}

func (a *fakeAudio) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

type fakeCloser struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeCloser) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func testDeps(display *fakeDisplay, audio *fakeAudio, encoder *fakeCloser) Deps {
	return Deps{
		OpenDisplay: func() (Display, error) { return display, nil },
		OpenAudio:   func() (Audio, error) { return audio, nil },
		OpenEncoder: func(*Counter) (io.Closer, error) { return encoder, nil },
		LoadNoise:   func() (*noise.Field, error) { return rampField(64, 2), nil },
	}
}

func testController(t *testing.T, deps Deps) *Controller {
	t.Helper()
	return NewController(deps, mustColorMap(t, defaultHexPalette), 2, 2, 100000, testLogger())
}

func waitFor(t *testing.T, timeout time.Duration, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestController_StartRendersAndStopCleansUp(t *testing.T) {
	display := &fakeDisplay{}
	audio := &fakeAudio{}
	encoder := &fakeCloser{}
	c := testController(t, testDeps(display, audio, encoder))

	if err := c.Start(time.Minute, 10*time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := c.Status(); !st.Running {
		t.Fatal("Status().Running = false right after Start")
	}

	waitFor(t, 2*time.Second, "frames to be rendered", func() bool {
		return display.frameCount() > 2
	})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := c.Status(); st.Running {
		t.Error("Status().Running = true after Stop")
	}

	display.mu.Lock()
	defer display.mu.Unlock()
	if !display.closed {
		t.Error("display not closed after stop")
	}
	last := display.frames[len(display.frames)-1]
	for i, p := range last {
		if p != (RGB{}) {
			t.Errorf("final frame pixel %d = %v, want blanked", i, p)
			break
		}
	}

	audio.mu.Lock()
	if audio.played == 0 || !audio.closed {
		t.Errorf("audio played=%d closed=%v, want started and closed", audio.played, audio.closed)
	}
	audio.mu.Unlock()

	encoder.mu.Lock()
	if !encoder.closed {
		t.Error("encoder not released after stop")
	}
	encoder.mu.Unlock()
}

func TestController_StopWhenIdle(t *testing.T) {
	c := testController(t, testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{}))
	if err := c.Stop(); !errors.Is(err, errNotRunning) {
		t.Errorf("Stop on idle = %v, want errNotRunning", err)
	}
}

func TestController_DurationExpiry(t *testing.T) {
	display := &fakeDisplay{}
	c := testController(t, testDeps(display, &fakeAudio{}, &fakeCloser{}))

	if err := c.Start(50*time.Millisecond, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, "run to expire", func() bool {
		return !c.Status().Running
	})

	display.mu.Lock()
	closed := display.closed
	display.mu.Unlock()
	if !closed {
		t.Error("display not released after expiry")
	}
}

func TestController_LiveUpdateResetsClock(t *testing.T) {
	c := testController(t, testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{}))

	if err := c.Start(80*time.Millisecond, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	// Live update: new duration, clock restarts, no worker restart.
	if err := c.Start(time.Minute, 0); err != nil {
		t.Fatalf("live update: %v", err)
	}

	time.Sleep(100 * time.Millisecond) // past the original 80ms deadline
	st := c.Status()
	if !st.Running {
		t.Fatal("run ended despite extended duration")
	}
	if st.RemainingSeconds < 55 {
		t.Errorf("remaining = %vs, want close to 60s after clock reset", st.RemainingSeconds)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestController_FadeRampsVolumeDown(t *testing.T) {
	c := testController(t, testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{}))
	c.fadeEvery = time.Millisecond

	// The whole run is inside the fade window.
	if err := c.Start(300*time.Millisecond, 300*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, "fade to pull volume down", func() bool {
		return c.Counter().Value() < counterInitial/2
	})
	c.Stop()
}

func TestController_StartValidation(t *testing.T) {
	c := testController(t, testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{}))

	tests := []struct {
		name             string
		duration, window time.Duration
	}{
		{"zero duration", 0, 0},
		{"negative duration", -time.Minute, 0},
		{"duration above cap", (maxDurationMinutes + 1) * time.Minute, 0},
		{"negative fade window", time.Minute, -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Start(tt.duration, tt.window); !errors.Is(err, errBadRequest) {
				t.Errorf("Start(%v, %v) = %v, want errBadRequest", tt.duration, tt.window, err)
			}
		})
	}
	if c.Status().Running {
		t.Error("rejected Start left the controller running")
	}
}

func TestController_SetVolumeRejectsOutOfRange(t *testing.T) {
	c := testController(t, testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{}))
	before := c.Counter().Value()

	for _, v := range []float64{-1, 100.5, 500} {
		if err := c.SetVolume(v); !errors.Is(err, errBadRequest) {
			t.Errorf("SetVolume(%v) = %v, want errBadRequest", v, err)
		}
	}
	if got := c.Counter().Value(); got != before {
		t.Errorf("counter = %v after rejected requests, want untouched %v", got, before)
	}
}

func TestController_SetVolumeReachesCollaborators(t *testing.T) {
	display := &fakeDisplay{}
	audio := &fakeAudio{}
	c := testController(t, testDeps(display, audio, &fakeCloser{}))

	if err := c.Start(time.Minute, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, "collaborators to attach", func() bool {
		return display.frameCount() > 0
	})

	if err := c.SetVolume(60); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}

	waitFor(t, time.Second, "volume to reach audio", func() bool {
		audio.mu.Lock()
		defer audio.mu.Unlock()
		for _, v := range audio.volumes {
			if v == 60 {
				return true
			}
		}
		return false
	})
	waitFor(t, time.Second, "brightness to reach display", func() bool {
		display.mu.Lock()
		defer display.mu.Unlock()
		for _, v := range display.brightness {
			if v == 60 {
				return true
			}
		}
		return false
	})
	c.Stop()
}

func TestController_DisplayFailureAbortsRun(t *testing.T) {
	deps := testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{})
	deps.OpenDisplay = func() (Display, error) { return nil, errors.New("no spi") }
	c := testController(t, deps)

	if err := c.Start(time.Minute, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, "aborted run to reset to idle", func() bool {
		return !c.Status().Running
	})
}

func TestController_RunStateNotifications(t *testing.T) {
	c := testController(t, testDeps(&fakeDisplay{}, &fakeAudio{}, &fakeCloser{}))

	var mu sync.Mutex
	var states []RunState
	c.OnRunState(func(st RunState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})

	if err := c.Start(time.Minute, 0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	waitFor(t, time.Second, "start and stop notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2
	})
	mu.Lock()
	defer mu.Unlock()
	if !states[0].Running {
		t.Error("first notification should report a running state")
	}
	if states[len(states)-1].Running {
		t.Error("last notification should report idle")
	}
}
