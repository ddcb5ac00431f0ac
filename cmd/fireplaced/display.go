package main

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Display is the render loop's output device. Frame stages a full strip of
// pixels, Present pushes the staged frame to the hardware. Brightness is
// independent of frame content and may be set from any goroutine.
type Display interface {
	Frame(pixels []RGB) error
	Present() error
	SetBrightness(pct float64)
	Close() error
}

// WS2812B signalling over SPI at 2.4 MHz: each data bit becomes three SPI
// bits, 0 → 100 and 1 → 110, so one color byte expands to three SPI bytes.
// The strip latches after the line idles low; latchBytes of zeros at 2.4 Mbps
// comfortably exceed the 50 µs reset time.
const (
	spiClockKHz = 2400
	latchBytes  = 30
)

// spiBitTable expands one color byte to its three-byte SPI pattern.
var spiBitTable = buildSPIBitTable()

func buildSPIBitTable() [256][3]byte {
	var table [256][3]byte
	for v := 0; v < 256; v++ {
		var bits uint32
		for b := 7; b >= 0; b-- {
			bits <<= 3
			if v&(1<<b) != 0 {
				bits |= 0b110
			} else {
				bits |= 0b100
			}
		}
		table[v] = [3]byte{byte(bits >> 16), byte(bits >> 8), byte(bits)}
	}
	return table
}

// spiDisplay drives a WS2812B strip through the SPI MOSI line.
type spiDisplay struct {
	port   spi.PortCloser
	conn   spi.Conn
	pixels int
	logger *slog.Logger

	mu    sync.Mutex
	scale float64 // brightness multiplier applied at encode time
	buf   []byte  // pixels*9 data bytes + latch tail
}

// openSPIDisplay initialises the host drivers, opens the SPI port and
// returns a display for a strip of the given pixel count.
func openSPIDisplay(dev string, pixels int, logger *slog.Logger) (*spiDisplay, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("open spi port %s: %w", dev, err)
	}
	conn, err := port.Connect(spiClockKHz*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi port %s: %w", dev, err)
	}

	d := &spiDisplay{
		port:   port,
		conn:   conn,
		pixels: pixels,
		logger: logger,
		scale:  counterInitial / counterMax * maxBrightnessScale,
		buf:    make([]byte, pixels*9+latchBytes),
	}
	logger.Info("spi display opened", "dev", dev, "pixels", pixels, "clock_khz", spiClockKHz)
	return d, nil
}

// Frame encodes the strip into the SPI buffer, scaling each channel by the
// current brightness. WS2812B expects GRB channel order.
func (d *spiDisplay) Frame(pixels []RGB) error {
	if len(pixels) != d.pixels {
		return fmt.Errorf("frame has %d pixels, display expects %d", len(pixels), d.pixels)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range pixels {
		off := i * 9
		copy(d.buf[off:off+3], spiBitTable[scaleChannel(p.G, d.scale)][:])
		copy(d.buf[off+3:off+6], spiBitTable[scaleChannel(p.R, d.scale)][:])
		copy(d.buf[off+6:off+9], spiBitTable[scaleChannel(p.B, d.scale)][:])
	}
	return nil
}

func scaleChannel(v uint8, scale float64) uint8 {
	return uint8(float64(v) * scale)
}

// Present transmits the staged frame followed by the latch tail.
func (d *spiDisplay) Present() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.conn.Tx(d.buf, nil); err != nil {
		return fmt.Errorf("spi tx: %w", err)
	}
	return nil
}

// SetBrightness maps the counter's 0–100 range onto the hardware duty cycle,
// capped at maxBrightnessScale.
func (d *spiDisplay) SetBrightness(pct float64) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	d.mu.Lock()
	d.scale = pct / 100 * maxBrightnessScale
	d.mu.Unlock()
}

// Close blanks the strip before releasing the port so the panel does not
// freeze on the last frame.
func (d *spiDisplay) Close() error {
	d.mu.Lock()
	for i := range d.buf {
		d.buf[i] = 0
	}
	for i := 0; i < d.pixels*3; i++ {
		copy(d.buf[i*3:i*3+3], spiBitTable[0][:])
	}
	err := d.conn.Tx(d.buf, nil)
	d.mu.Unlock()

	if cerr := d.port.Close(); err == nil {
		err = cerr
	}
	return err
}

// nopDisplay discards frames; used when the daemon runs without a panel
// attached (driver "none").
type nopDisplay struct {
	mu    sync.Mutex
	scale float64
}

func newNopDisplay() *nopDisplay { return &nopDisplay{} }

func (n *nopDisplay) Frame([]RGB) error { return nil }
func (n *nopDisplay) Present() error    { return nil }
func (n *nopDisplay) SetBrightness(pct float64) {
	n.mu.Lock()
	n.scale = pct
	n.mu.Unlock()
}
func (n *nopDisplay) Close() error { return nil }
