// Package noise implements tileable multi-octave 2D gradient noise used as
// the fire's temperature field, and the on-disk store for precomputed fields.
//
// A Generator holds an immutable lattice of unit gradient vectors derived
// from a seed; indices into the lattice wrap modulo the repetition period so
// rendered fields tile seamlessly when scrolled. Rendering is deterministic:
// the same seed, shape, period and parameters always produce a bit-identical
// field.
package noise

import (
	"log/slog"
	"math"
	"math/rand"
)

// Field is a 2D grid of scalar values in [0,1], row-major. Fields are
// immutable once produced and owned by exactly one component at a time.
type Field struct {
	Rows, Cols int
	Data       []float64
}

// At returns the value at row r, column c.
func (f *Field) At(r, c int) float64 {
	return f.Data[r*f.Cols+c]
}

// Window returns the rows [start, start+height) as a flat slice.
// The slice aliases the field's data; callers must not mutate it.
func (f *Field) Window(start, height int) []float64 {
	return f.Data[start*f.Cols : (start+height)*f.Cols]
}

// Generator produces noise fields from a fixed gradient lattice.
type Generator struct {
	rows, cols int
	period     int
	gx, gy     []float64 // (period+1)² unit gradient vectors, row-major
	logger     *slog.Logger
}

// NewGenerator builds a (period+1)×(period+1) lattice of unit gradient
// vectors at pseudo-random angles derived from seed.
func NewGenerator(rows, cols, period int, seed int64, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	rng := rand.New(rand.NewSource(seed))
	n := (period + 1) * (period + 1)
	g := &Generator{
		rows:   rows,
		cols:   cols,
		period: period,
		gx:     make([]float64, n),
		gy:     make([]float64, n),
		logger: logger,
	}
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * rng.Float64()
		g.gx[i] = math.Cos(angle)
		g.gy[i] = math.Sin(angle)
	}
	return g
}

// smoothStep is the degree-5 easing polynomial 6t⁵ − 15t⁴ + 10t³.
func smoothStep(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

// wrap reduces n modulo period into [0, period).
func wrap(n, period int) int {
	n %= period
	if n < 0 {
		n += period
	}
	return n
}

// Render sums octave layers of gradient noise at halving cell sizes and
// geometrically decaying amplitude, then applies the postprocessing step
// clip(1.2×(sum+0.45), 0, 1). The pixel offset scrolls the sampling window
// across the lattice for animation. Rendering stops early, with a log line,
// once a requested cell size would fall below one pixel.
func (g *Generator) Render(octaves int, offsetX, offsetY int, persistence, relativeFactor float64) *Field {
	sum := make([]float64, g.rows*g.cols)
	amplitude := 1.0
	size := g.rows
	if g.cols < size {
		size = g.cols
	}

	for octave := 0; octave < octaves; octave++ {
		cellX := float64(size)
		cellY := float64(size) * relativeFactor
		if math.Min(cellX, cellY) < 1 {
			g.logger.Warn("cell size below one pixel, stopping octave summation",
				"octave", octave, "cell_x", cellX, "cell_y", cellY)
			break
		}
		g.addLayer(sum, cellX, cellY, offsetX, offsetY, amplitude)
		size /= 2
		amplitude *= persistence
	}

	for i, v := range sum {
		v = 1.2 * (v + 0.45)
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		sum[i] = v
	}
	return &Field{Rows: g.rows, Cols: g.cols, Data: sum}
}

// addLayer accumulates one gradient-noise layer into dst.
//
// Output pixel coordinates map to fractional lattice positions scaled by
// 1/cellSize plus the pixel offset; the four surrounding lattice nodes are
// wrapped modulo the period; the four corner dot products are blended
// bilinearly using smoothed fractional positions.
func (g *Generator) addLayer(dst []float64, cellX, cellY float64, offsetX, offsetY int, amplitude float64) {
	stride := g.period + 1

	xs := axis(g.rows, float64(g.rows)/cellX, float64(offsetX)/cellX)
	ys := axis(g.cols, float64(g.cols)/cellY, float64(offsetY)/cellY)

	for i, x := range xs {
		xFloor := math.Floor(x)
		x0 := wrap(int(xFloor), g.period)
		x1 := wrap(int(math.Ceil(x)), g.period)
		fx := x - xFloor
		sx := smoothStep(fx)

		for j, y := range ys {
			yFloor := math.Floor(y)
			y0 := wrap(int(yFloor), g.period)
			y1 := wrap(int(math.Ceil(y)), g.period)
			fy := y - yFloor
			sy := smoothStep(fy)

			i00 := x0*stride + y0
			i10 := x1*stride + y0
			i01 := x0*stride + y1
			i11 := x1*stride + y1

			n00 := fx*g.gx[i00] + fy*g.gy[i00]
			n10 := (fx-1)*g.gx[i10] + fy*g.gy[i10]
			n01 := fx*g.gx[i01] + (fy-1)*g.gy[i01]
			n11 := (fx-1)*g.gx[i11] + (fy-1)*g.gy[i11]

			n0 := n00*(1-sx) + sx*n10
			n1 := n01*(1-sx) + sx*n11

			dst[i*g.cols+j] += amplitude * ((1-sy)*n0 + sy*n1)
		}
	}
}

// axis returns n evenly spaced samples over [0, span] shifted by delta,
// matching an inclusive-endpoint linspace.
func axis(n int, span, delta float64) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = delta
		return out
	}
	step := span / float64(n-1)
	for i := range out {
		out[i] = float64(i)*step + delta
	}
	return out
}

// QuadraticMask returns a rows×cols grid whose value at row r is
// initial + sign·a·r² with a = (final−initial)/rows², constant along each
// row. sign is 1 when final > initial and 0 otherwise, so a descending mask
// degenerates to the initial value. Multiplying a temperature window by the
// mask produces the vertical brightness gradient of the flame.
func QuadraticMask(rows, cols int, initial, final float64) *Field {
	a := (final - initial) / float64(rows*rows)
	sign := 0.0
	if final > initial {
		sign = 1.0
	}
	data := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		v := initial + sign*a*float64(r*r)
		for c := 0; c < cols; c++ {
			data[r*cols+c] = v
		}
	}
	return &Field{Rows: rows, Cols: cols, Data: data}
}
