package main

import (
	"fmt"
	"math"
	"strconv"
)

// RGB is one display pixel.
type RGB struct {
	R, G, B uint8
}

// hexToRGB parses a 6-digit hex color, with or without a leading '#'.
func hexToRGB(s string) (RGB, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return RGB{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// parsePalette converts hex color strings into an RGB palette.
func parsePalette(hex []string) ([]RGB, error) {
	palette := make([]RGB, len(hex))
	for i, h := range hex {
		c, err := hexToRGB(h)
		if err != nil {
			return nil, err
		}
		palette[i] = c
	}
	return palette, nil
}

// ColorMap maps scalar temperature values in [0,1] to gamma-corrected RGB
// via linear interpolation along a palette gradient. The palette and gamma
// table are immutable after construction, so Apply is safe to call from the
// render loop without synchronization.
type ColorMap struct {
	// palette holds the configured entries plus the last entry repeated
	// once, so a temperature of exactly 1 never indexes out of bounds.
	palette []RGB
	n       int
	gamma   [256]uint8
}

// NewColorMap builds a color map from an ordered palette of at least two
// entries. The gamma table is corrected[v] = round(255·(v/255)^gamma).
func NewColorMap(palette []RGB, gamma float64) (*ColorMap, error) {
	if len(palette) < 2 {
		return nil, fmt.Errorf("palette needs at least 2 entries, got %d", len(palette))
	}
	m := &ColorMap{
		palette: append(append([]RGB(nil), palette...), palette[len(palette)-1]),
		n:       len(palette),
	}
	for v := 0; v < 256; v++ {
		m.gamma[v] = uint8(math.Round(255 * math.Pow(float64(v)/255, gamma)))
	}
	return m, nil
}

// Apply maps a whole temperature grid to colors in one call, writing into
// out. len(out) must equal len(temps).
func (m *ColorMap) Apply(temps []float64, out []RGB) {
	span := float64(m.n - 1)
	for i, x := range temps {
		if x < 0 {
			x = 0
		} else if x > 1 {
			x = 1
		}
		pos := x * span
		base := math.Floor(pos)
		frac := pos - base
		idx := int(base)

		c1 := m.palette[idx]
		c2 := m.palette[idx+1]
		out[i] = RGB{
			R: m.gamma[lerpChannel(c1.R, c2.R, frac)],
			G: m.gamma[lerpChannel(c1.G, c2.G, frac)],
			B: m.gamma[lerpChannel(c1.B, c2.B, frac)],
		}
	}
}

func lerpChannel(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}
