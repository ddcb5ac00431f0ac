package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fireplaced/internal/noise"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("fireplaced v%s\n", version)
	fmt.Println("Simulated fireplace daemon for WS2812B LED panels")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  fireplaced [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Animates procedural fire on an LED matrix from precomputed noise")
	fmt.Println("  fields (see noisegen), with optional crackling audio via mpg123 and")
	fmt.Println("  a rotary encoder for volume/brightness. Controlled over a small")
	fmt.Println("  HTTP API, a /ws state websocket and a Unix-socket IPC interface")
	fmt.Println("  (see fireplace-ctl).")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -led-driver string")
	fmt.Println("        Output device: spi, term or none (default \"spi\")")
	fmt.Println()
	fmt.Println("  -spi-dev string")
	fmt.Println("        SPI port for the LED strip (default \"/dev/spidev0.0\")")
	fmt.Println()
	fmt.Println("  -rows int / -cols int")
	fmt.Println("        Panel dimensions as the viewer sees it (default 10x10)")
	fmt.Println()
	fmt.Printf("  -fps int\n        Render loop frame rate (default %d)\n", defaultTargetFPS)
	fmt.Println()
	fmt.Println("  -noise-dir string")
	fmt.Println("        Directory of precomputed noise fields (default \"/var/lib/fireplaced/noise\")")
	fmt.Println()
	fmt.Println("  -audio-dir string")
	fmt.Println("        Directory of mp3 files for crackling audio (empty disables audio)")
	fmt.Println()
	fmt.Println("  -audio-device string")
	fmt.Println("        ALSA output device passed to mpg123 -a (default: system default)")
	fmt.Println()
	fmt.Println("  -encoder")
	fmt.Println("        Enable the rotary encoder (default true)")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Auxiliary /dev/input device for volume keys/dials")
	fmt.Println()
	fmt.Println("  -api-port int")
	fmt.Println("        HTTP API listener port (default 3000)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/fireplaced.sock\")")
	fmt.Println()
	fmt.Println("  -autostart")
	fmt.Println("        Start a run immediately on boot")
	fmt.Println()
	fmt.Printf("  -duration float\n        Run duration in minutes for -autostart (default %.0f)\n", defaultDurationMinutes)
	fmt.Println()
	fmt.Printf("  -fade-out float\n        Trailing fade-out window in minutes for -autostart (default %.0f)\n", defaultFadeOutMinutes)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run against real hardware with audio")
	fmt.Println("  fireplaced -config /etc/fireplaced/config.yaml")
	fmt.Println()
	fmt.Println("  # Preview in a terminal without a panel attached")
	fmt.Println("  fireplaced -led-driver term -encoder=false -noise-dir ./noise -autostart")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - SPI access requires permissions on /dev/spidev* (spi group or root)")
	fmt.Println("  - Generate noise fields first: noisegen -dir /var/lib/fireplaced/noise")
	fmt.Println()
}

func main() {
	// Check for version/help flags early
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		ledDriver   = flag.String("led-driver", "spi", "Output device: spi, term or none")
		spiDev      = flag.String("spi-dev", "/dev/spidev0.0", "SPI port for the LED strip")
		rows        = flag.Int("rows", 10, "Panel rows")
		cols        = flag.Int("cols", 10, "Panel columns")
		fps         = flag.Int("fps", defaultTargetFPS, "Render loop frame rate")
		noiseDir    = flag.String("noise-dir", "/var/lib/fireplaced/noise", "Directory of precomputed noise fields")
		audioDir    = flag.String("audio-dir", "", "Directory of mp3 files (empty disables audio)")
		audioDevice = flag.String("audio-device", "", "ALSA output device for mpg123")
		encoderOn   = flag.Bool("encoder", true, "Enable the rotary encoder")
		inputDevice = flag.String("input-device", "", "Auxiliary /dev/input device")
		apiPort     = flag.Int("api-port", 3000, "HTTP API listener port")
		ipcSocket   = flag.String("ipc-socket", "/tmp/fireplaced.sock", "Unix domain socket path for IPC")
		autostart   = flag.Bool("autostart", false, "Start a run immediately on boot")
		duration    = flag.Float64("duration", defaultDurationMinutes, "Run duration in minutes for -autostart")
		fadeOut     = flag.Float64("fade-out", defaultFadeOutMinutes, "Fade-out window in minutes for -autostart")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config file first, then flag overrides for flags that were actually set.
	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	var overrides FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "led-driver":
			overrides.LEDDriver = ledDriver
		case "spi-dev":
			overrides.SPIDev = spiDev
		case "rows":
			overrides.Rows = rows
		case "cols":
			overrides.Cols = cols
		case "fps":
			overrides.TargetFPS = fps
		case "noise-dir":
			overrides.NoiseDir = noiseDir
		case "audio-dir":
			overrides.AudioDir = audioDir
		case "audio-device":
			overrides.AudioDevice = audioDevice
		case "encoder":
			overrides.EncoderEnabled = encoderOn
		case "input-device":
			overrides.InputDevice = inputDevice
		case "api-port":
			overrides.APIPort = apiPort
		case "ipc-socket":
			overrides.IPCSocketPath = ipcSocket
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	palette, err := parsePalette(defaultHexPalette)
	if err != nil {
		logger.Error("invalid palette", "error", err)
		os.Exit(1)
	}
	colormap, err := NewColorMap(palette, defaultGamma)
	if err != nil {
		logger.Error("invalid palette", "error", err)
		os.Exit(1)
	}

	store := noise.NewStore(ExpandPath(cfg.Noise.Dir), logger)

	pixels := cfg.LEDs.Rows * cfg.LEDs.Cols
	deps := Deps{
		OpenDisplay: func() (Display, error) {
			switch cfg.LEDs.Driver {
			case "spi":
				return openSPIDisplay(cfg.LEDs.SPIDev, pixels, logger)
			case "term":
				return newTermDisplay(cfg.LEDs.Rows, cfg.LEDs.Cols), nil
			default:
				return newNopDisplay(), nil
			}
		},
		OpenAudio: func() (Audio, error) {
			if cfg.Audio.Dir == "" {
				return nopAudio{}, nil
			}
			return openMPG123(ExpandPath(cfg.Audio.Dir), cfg.Audio.Device, logger)
		},
		OpenEncoder: func(counter *Counter) (io.Closer, error) {
			if !cfg.Encoder.Enabled {
				return nil, nil
			}
			enc, err := openGPIOEncoder(cfg.Encoder.Chip, cfg.Encoder.ClockPin, cfg.Encoder.DataPin,
				counter, time.Duration(cfg.Encoder.DebounceMS)*time.Millisecond, logger)
			if err != nil {
				return nil, err
			}
			return enc, nil
		},
		LoadNoise: func() (*noise.Field, error) {
			return store.Load(-1) // random field each cycle
		},
	}

	ctrl := NewController(deps, colormap, cfg.LEDs.Rows, cfg.LEDs.Cols, cfg.LEDs.TargetFPS, logger)

	stateSrv := newStateServer(ctrl, logger, HubConfig{})
	ctrl.OnRunState(stateSrv.NotifyRunState)
	ctrl.Counter().Subscribe(stateSrv.NotifyVolume)

	mux := newAPIServer(ctrl, logger).routes()
	stateSrv.Register(mux, "/ws")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting fireplaced", "version", version,
		"driver", cfg.LEDs.Driver, "panel", fmt.Sprintf("%dx%d", cfg.LEDs.Rows, cfg.LEDs.Cols),
		"fps", cfg.LEDs.TargetFPS, "noise_dir", cfg.Noise.Dir,
		"api_port", cfg.API.Port, "ipc", cfg.IPC.SocketPath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stateSrv.Hub().Run(ctx)
		return nil
	})
	g.Go(func() error {
		return runAPIServer(ctx, cfg.API.Port, mux, logger)
	})
	g.Go(func() error {
		return runIPCServer(ctx, cfg.IPC.SocketPath, ctrl, logger)
	})
	if len(cfg.Input.Devices) > 0 {
		devices := cfg.Input.Devices
		g.Go(func() error {
			return runAuxInput(ctx, devices, ctrl.Counter(), logger)
		})
	}

	if *autostart {
		err := ctrl.Start(
			time.Duration(*duration*float64(time.Minute)),
			time.Duration(*fadeOut*float64(time.Minute)))
		if err != nil {
			logger.Error("autostart failed", "error", err)
		}
	}

	err = g.Wait()

	// Servers are down; end any run in progress so the panel blanks.
	if stopErr := ctrl.Stop(); stopErr != nil && !errors.Is(stopErr, errNotRunning) {
		logger.Warn("stopping run on shutdown", "error", stopErr)
	}

	if err != nil {
		logger.Error("shutting down", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
