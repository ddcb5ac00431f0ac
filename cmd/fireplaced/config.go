package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the fireplaced daemon.
//
// This is intentionally user-facing and stable-ish. Keep defaults and
// validation centralized so the rest of the code can assume a well-formed
// config.
//
// Design goals:
// - Make config file the primary configuration surface.
// - Keep flags for small overrides and for environments where a file is awkward.
type Config struct {
	// LED panel configuration
	LEDs LEDConfig `yaml:"leds"`

	// Precomputed noise field storage
	Noise NoiseConfig `yaml:"noise"`

	// Crackling audio configuration
	Audio AudioConfig `yaml:"audio"`

	// Rotary encoder configuration
	Encoder EncoderConfig `yaml:"encoder"`

	// Auxiliary /dev/input devices (volume keys, dials)
	Input InputConfig `yaml:"input"`

	// HTTP API server configuration
	API APIConfig `yaml:"api"`

	// IPC configuration (used by fireplace-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type LEDConfig struct {
	// Driver selects the output device: "spi", "term" or "none".
	Driver string `yaml:"driver"`

	// SPIDev is the SPI port the strip's data line hangs off, e.g.
	// "/dev/spidev0.0".
	SPIDev string `yaml:"spi_dev"`

	// Rows and Cols describe the panel as the viewer sees it; the strip is
	// wired row-major from the bottom-left.
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	// TargetFPS is the render loop frame rate.
	TargetFPS int `yaml:"target_fps"`
}

type NoiseConfig struct {
	// Dir holds the precomputed .fnf noise fields (see noisegen).
	Dir string `yaml:"dir"`
}

type AudioConfig struct {
	// Dir with mp3 files; empty disables audio.
	Dir string `yaml:"dir,omitempty"`

	// Device is the ALSA output device passed to mpg123 (-a). Empty uses
	// the default device.
	Device string `yaml:"device,omitempty"`
}

type EncoderConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Chip     string `yaml:"chip"`
	ClockPin int    `yaml:"clock_pin"`
	DataPin  int    `yaml:"data_pin"`

	// DebounceMS is the minimum spacing between accepted clock edges.
	DebounceMS int `yaml:"debounce_ms"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults.
func DefaultConfig() Config {
	return Config{
		LEDs: LEDConfig{
			Driver:    "spi",
			SPIDev:    "/dev/spidev0.0",
			Rows:      10,
			Cols:      10,
			TargetFPS: defaultTargetFPS,
		},
		Noise: NoiseConfig{
			Dir: "/var/lib/fireplaced/noise",
		},
		Audio: AudioConfig{
			Dir: "",
		},
		Encoder: EncoderConfig{
			Enabled:    true,
			Chip:       defaultEncoderChip,
			ClockPin:   defaultEncoderClockPin,
			DataPin:    defaultEncoderDataPin,
			DebounceMS: defaultDebounceMS,
		},
		API: APIConfig{
			Port: 3000,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/fireplaced.sock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Notes:
//   - The file must be valid YAML.
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags should pass pointers; each override is only applied if the pointer
// is non-nil. main.go decides which flags exist; keeping the override
// mechanism separate makes it easy to evolve flags without proliferating
// conditionals all over the code.
type FlagOverrides struct {
	LEDDriver *string
	SPIDev    *string
	Rows      *int
	Cols      *int
	TargetFPS *int

	NoiseDir *string

	AudioDir    *string
	AudioDevice *string

	EncoderEnabled *bool

	InputDevice *string

	APIPort       *int
	IPCSocketPath *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is
// ignored. If the pointer is non-nil, the value is applied (even if it is a
// zero value).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LEDDriver != nil {
		cfg.LEDs.Driver = *o.LEDDriver
	}
	if o.SPIDev != nil {
		cfg.LEDs.SPIDev = *o.SPIDev
	}
	if o.Rows != nil {
		cfg.LEDs.Rows = *o.Rows
	}
	if o.Cols != nil {
		cfg.LEDs.Cols = *o.Cols
	}
	if o.TargetFPS != nil {
		cfg.LEDs.TargetFPS = *o.TargetFPS
	}

	if o.NoiseDir != nil {
		cfg.Noise.Dir = *o.NoiseDir
	}

	if o.AudioDir != nil {
		cfg.Audio.Dir = *o.AudioDir
	}
	if o.AudioDevice != nil {
		cfg.Audio.Device = *o.AudioDevice
	}

	if o.EncoderEnabled != nil {
		cfg.Encoder.Enabled = *o.EncoderEnabled
	}

	if o.InputDevice != nil {
		cfg.Input.Devices = []string{*o.InputDevice}
	}

	if o.APIPort != nil {
		cfg.API.Port = *o.APIPort
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	switch c.LEDs.Driver {
	case "spi", "term", "none":
	default:
		return fmt.Errorf("leds.driver must be \"spi\", \"term\" or \"none\", got %q", c.LEDs.Driver)
	}
	if c.LEDs.Driver == "spi" && c.LEDs.SPIDev == "" {
		return errors.New("leds.spi_dev must not be empty with the spi driver")
	}
	if c.LEDs.Rows < 2 || c.LEDs.Cols < 1 {
		return fmt.Errorf("leds dimensions %dx%d too small (need at least 2x1)", c.LEDs.Rows, c.LEDs.Cols)
	}
	if c.LEDs.TargetFPS <= 0 || c.LEDs.TargetFPS > 240 {
		return errors.New("leds.target_fps must be between 1 and 240")
	}

	if c.Noise.Dir == "" {
		return errors.New("noise.dir must not be empty")
	}

	if c.Encoder.Enabled {
		if c.Encoder.Chip == "" {
			return errors.New("encoder.chip must not be empty when the encoder is enabled")
		}
		if c.Encoder.ClockPin == c.Encoder.DataPin {
			return errors.New("encoder.clock_pin and encoder.data_pin must differ")
		}
		if c.Encoder.DebounceMS < 0 {
			return errors.New("encoder.debounce_ms must be >= 0")
		}
	}

	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return errors.New("api.port must be a valid TCP port")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
