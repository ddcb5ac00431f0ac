package main

import (
	"fmt"
	"log/slog"
	"time"

	"fireplaced/internal/noise"
)

// RenderLoop scans a window down the active noise field one row per frame,
// shapes it with the vertical flame mask, maps temperatures to colors and
// pushes the frame to the display. When the scan reaches the end of the
// field it swaps in the next one from the prefetcher and starts over.
type RenderLoop struct {
	prefetch *Prefetcher
	colormap *ColorMap
	display  Display
	logger   *slog.Logger

	rows, cols int

	// mask and idx are precomputed for the grid shape: mask is the
	// quadratic vertical gradient in strip order, idx maps strip pixel i
	// to its flat index in the temperature window (vertical flip).
	mask []float64
	idx  []int

	field   *noise.Field
	step    int
	maxStep int

	temps  []float64
	colors []RGB

	framePeriod time.Duration
	frameStart  time.Time
}

// NewRenderLoop builds a loop for a rows×cols display driven at targetFPS.
func NewRenderLoop(prefetch *Prefetcher, colormap *ColorMap, display Display, rows, cols, targetFPS int, logger *slog.Logger) *RenderLoop {
	n := rows * cols
	r := &RenderLoop{
		prefetch:    prefetch,
		colormap:    colormap,
		display:     display,
		logger:      logger,
		rows:        rows,
		cols:        cols,
		mask:        make([]float64, n),
		idx:         make([]int, n),
		temps:       make([]float64, n),
		colors:      make([]RGB, n),
		framePeriod: time.Second / time.Duration(targetFPS),
	}

	grad := noise.QuadraticMask(rows, cols, maskInitial, maskFinal)
	for i := 0; i < n; i++ {
		// Strip pixel i sits at grid row (rows−1) − i/cols, column i%cols:
		// the strip is wired bottom-up while the field scrolls top-down.
		r.idx[i] = ((rows-1)-i/cols)*cols + i%cols
		r.mask[i] = grad.Data[r.idx[i]]
	}
	return r
}

// Tick renders one frame and paces to the fixed frame period. The frame-start
// timestamp is re-taken after the sleep so jitter does not accumulate across
// frames.
func (r *RenderLoop) Tick() error {
	if err := r.renderFrame(); err != nil {
		return err
	}

	elapsed := time.Since(r.frameStart)
	if wait := r.framePeriod - elapsed; wait > 0 {
		time.Sleep(wait)
	}
	r.frameStart = time.Now()
	return nil
}

func (r *RenderLoop) renderFrame() error {
	if r.field == nil || r.step >= r.maxStep {
		field, err := r.prefetch.Take()
		if err != nil {
			return fmt.Errorf("fetch noise field: %w", err)
		}
		if field.Cols != r.cols || field.Rows <= r.rows {
			return fmt.Errorf("noise field %dx%d unusable for %dx%d display window",
				field.Rows, field.Cols, r.rows, r.cols)
		}
		r.field = field
		r.maxStep = field.Rows - r.rows
		r.step = 0
		r.logger.Debug("switched noise field", "rows", field.Rows, "max_step", r.maxStep)
	}

	window := r.field.Window(r.step, r.rows)
	r.step++

	for i := range r.temps {
		r.temps[i] = window[r.idx[i]] * r.mask[i]
	}
	r.colormap.Apply(r.temps, r.colors)

	if err := r.display.Frame(r.colors); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if err := r.display.Present(); err != nil {
		return fmt.Errorf("present frame: %w", err)
	}
	return nil
}
