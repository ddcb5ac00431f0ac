package main

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"fireplaced/internal/noise"
)

// fakeDisplay records frames for assertions; shared by render and controller
// tests.
type fakeDisplay struct {
	mu         sync.Mutex
	frames     [][]RGB
	presents   int
	brightness []float64
	closed     bool
	frameErr   error
	presentErr error
}

func (d *fakeDisplay) Frame(pixels []RGB) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frameErr != nil {
		return d.frameErr
	}
	d.frames = append(d.frames, append([]RGB(nil), pixels...))
	return nil
}

func (d *fakeDisplay) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.presentErr != nil {
		return d.presentErr
	}
	d.presents++
	return nil
}

func (d *fakeDisplay) SetBrightness(pct float64) {
	d.mu.Lock()
	d.brightness = append(d.brightness, pct)
	d.mu.Unlock()
}

func (d *fakeDisplay) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDisplay) frameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

// rampField returns a fieldRows×cols field whose value at (r,c) is unique,
// so window position is observable in the output.
func rampField(rows, cols int) *noise.Field {
	f := &noise.Field{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
	for i := range f.Data {
		f.Data[i] = float64(i) / float64(len(f.Data))
	}
	return f
}

func testRenderLoop(t *testing.T, field *noise.Field, display Display, rows, cols int) *RenderLoop {
	t.Helper()
	p := NewPrefetcher(func() (*noise.Field, error) { return field, nil }, testLogger())
	return NewRenderLoop(p, mustColorMap(t, defaultHexPalette), display, rows, cols, 100000, testLogger())
}

// TestRenderLoop_IndexTable checks the strip-to-grid mapping: pixel i lives
// at grid row (rows−1) − i/cols, column i%cols.
func TestRenderLoop_IndexTable(t *testing.T) {
	r := testRenderLoop(t, rampField(8, 2), &fakeDisplay{}, 3, 2)

	want := []int{4, 5, 2, 3, 0, 1}
	for i, w := range want {
		if r.idx[i] != w {
			t.Errorf("idx[%d] = %d, want %d", i, r.idx[i], w)
		}
	}
}

// TestRenderLoop_MaskFollowsGridRows checks the mask is the quadratic
// gradient sampled through the same flip as the pixels.
func TestRenderLoop_MaskFollowsGridRows(t *testing.T) {
	rows, cols := 4, 2
	r := testRenderLoop(t, rampField(8, cols), &fakeDisplay{}, rows, cols)

	a := (maskFinal - maskInitial) / float64(rows*rows)
	for i := range r.mask {
		gridRow := (rows - 1) - i/cols
		want := maskInitial + a*float64(gridRow*gridRow)
		if math.Abs(r.mask[i]-want) > 1e-12 {
			t.Errorf("mask[%d] = %v, want %v", i, r.mask[i], want)
		}
	}
}

// TestRenderLoop_ScansThenRefetches verifies the window advances one row per
// tick and a fresh field is fetched once the scan is exhausted.
func TestRenderLoop_ScansThenRefetches(t *testing.T) {
	display := &fakeDisplay{}
	r := testRenderLoop(t, rampField(6, 2), display, 2, 2)

	if err := r.Tick(); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	first := r.field
	if r.maxStep != 4 || r.step != 1 {
		t.Fatalf("after first tick step=%d maxStep=%d, want 1/4", r.step, r.maxStep)
	}

	for i := 0; i < 3; i++ {
		if err := r.Tick(); err != nil {
			t.Fatalf("tick %d: %v", i+2, err)
		}
	}
	if r.field != first || r.step != 4 {
		t.Fatalf("scan should exhaust field before refetch (step=%d)", r.step)
	}

	if err := r.Tick(); err != nil {
		t.Fatalf("refetch tick: %v", err)
	}
	if r.step != 1 {
		t.Errorf("step after refetch = %d, want 1", r.step)
	}
	if got := display.frameCount(); got != 5 {
		t.Errorf("frames emitted = %d, want 5", got)
	}
}

// TestRenderLoop_FrameMatchesMaskedWindow recomputes one frame by hand and
// compares it against what the display received.
func TestRenderLoop_FrameMatchesMaskedWindow(t *testing.T) {
	rows, cols := 2, 3
	field := rampField(6, cols)
	display := &fakeDisplay{}
	r := testRenderLoop(t, field, display, rows, cols)

	if err := r.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}

	cm := mustColorMap(t, defaultHexPalette)
	window := field.Window(0, rows)
	temps := make([]float64, rows*cols)
	for i := range temps {
		temps[i] = window[r.idx[i]] * r.mask[i]
	}
	want := make([]RGB, rows*cols)
	cm.Apply(temps, want)

	got := display.frames[0]
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pixel %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestRenderLoop_RejectsUnusableField verifies shape mismatches surface as
// errors instead of corrupt frames.
func TestRenderLoop_RejectsUnusableField(t *testing.T) {
	tests := []struct {
		name  string
		field *noise.Field
	}{
		{"wrong column count", rampField(8, 3)},
		{"too few rows", rampField(2, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRenderLoop(t, tt.field, &fakeDisplay{}, 2, 2)
			if err := r.Tick(); err == nil {
				t.Error("expected error for unusable field shape")
			}
		})
	}
}

// TestRenderLoop_DisplayErrorPropagates ensures hardware faults stop the
// loop rather than being swallowed.
func TestRenderLoop_DisplayErrorPropagates(t *testing.T) {
	wantErr := errors.New("spi gone")
	display := &fakeDisplay{frameErr: wantErr}
	r := testRenderLoop(t, rampField(6, 2), display, 2, 2)

	if err := r.Tick(); !errors.Is(err, wantErr) {
		t.Errorf("Tick error = %v, want %v", err, wantErr)
	}
}

// TestRenderLoop_Paces verifies the fixed-period sleep between frames.
func TestRenderLoop_Paces(t *testing.T) {
	p := NewPrefetcher(func() (*noise.Field, error) { return rampField(64, 2), nil }, testLogger())
	r := NewRenderLoop(p, mustColorMap(t, defaultHexPalette), &fakeDisplay{}, 2, 2, 20, testLogger())

	if err := r.Tick(); err != nil { // first tick establishes frameStart
		t.Fatalf("tick: %v", err)
	}
	start := time.Now()
	if err := r.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("second frame completed in %v, want >= ~50ms pacing", elapsed)
	}
}
