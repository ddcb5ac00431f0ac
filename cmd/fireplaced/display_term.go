package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// termDisplay previews the flame in a true-color terminal, one block glyph
// per LED. Useful for tuning palettes and noise parameters on a machine
// without the panel attached.
type termDisplay struct {
	rows, cols int

	mu    sync.Mutex
	scale float64
	frame []RGB
	sb    strings.Builder
}

func newTermDisplay(rows, cols int) *termDisplay {
	fmt.Print("\033[?25l\033[2J") // hide cursor, clear screen
	return &termDisplay{
		rows:  rows,
		cols:  cols,
		scale: counterInitial / counterMax,
		frame: make([]RGB, rows*cols),
	}
}

func (t *termDisplay) Frame(pixels []RGB) error {
	if len(pixels) != len(t.frame) {
		return fmt.Errorf("frame has %d pixels, display expects %d", len(pixels), len(t.frame))
	}
	t.mu.Lock()
	copy(t.frame, pixels)
	t.mu.Unlock()
	return nil
}

// Present draws the strip as the grid the viewer sees: strip pixels run
// bottom row first, so terminal row r (top first) shows strip block
// rows−1−r.
func (t *termDisplay) Present() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sb.Reset()
	t.sb.WriteString("\033[H")
	for r := 0; r < t.rows; r++ {
		base := (t.rows - 1 - r) * t.cols
		for c := 0; c < t.cols; c++ {
			p := t.frame[base+c]
			fmt.Fprintf(&t.sb, "\033[38;2;%d;%d;%dm██",
				scaleChannel(p.R, t.scale), scaleChannel(p.G, t.scale), scaleChannel(p.B, t.scale))
		}
		t.sb.WriteString("\033[0m\n")
	}
	_, err := os.Stdout.WriteString(t.sb.String())
	return err
}

func (t *termDisplay) SetBrightness(pct float64) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	t.scale = pct / 100
	t.mu.Unlock()
}

func (t *termDisplay) Close() error {
	fmt.Print("\033[?25h\033[0m\033[2J")
	return nil
}
