package main

import "time"

// Animation defaults
const (
	defaultTargetFPS = 32 // render loop frame rate

	// Vertical flame mask endpoints (temperature multipliers, top to bottom)
	maskInitial = 0.2
	maskFinal   = 1.2

	// Gamma exponent for the LED color correction table
	defaultGamma = 2.8
)

// defaultHexPalette is the fire gradient, coldest to hottest.
var defaultHexPalette = []string{
	"1f0900",
	"54370b",
	"754b03",
	"8e5318",
	"ad5c00",
	"d97b09",
	"fa9a2c",
	"fcb308",
}

// Volume/brightness counter defaults
const (
	counterInitial = 80.0
	counterMin     = 0.0
	counterMax     = 100.0
	counterStep    = 2.0

	// NeoPixel-style strips are blinding at full duty; cap the hardware
	// brightness at half scale and let the counter span the rest.
	maxBrightnessScale = 0.5
)

// Run timing
const (
	defaultDurationMinutes = 60.0
	defaultFadeOutMinutes  = 10.0
	maxDurationMinutes     = 480.0 // 8 hours

	fadeCheckInterval = 5 * time.Second
	workerJoinTimeout = 5 * time.Second
)

// Rotary encoder defaults (BCM pin numbers on gpiochip0)
const (
	defaultEncoderChip     = "gpiochip0"
	defaultEncoderClockPin = 23
	defaultEncoderDataPin  = 8
	defaultDebounceMS      = 2
)

// Linux input event types and codes used by the auxiliary /dev/input reader
// (from <linux/input.h>)
const (
	evKey = 0x01
	evRel = 0x02

	keyVolumeDown = 114
	keyVolumeUp   = 115

	relDial  = 0x07
	relWheel = 0x08
)

// Input event value constants
const (
	evValuePress  = 1
	evValueRepeat = 2
)
