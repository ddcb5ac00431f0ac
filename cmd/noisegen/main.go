package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"fireplaced/internal/noise"
)

// ============================================================================
// noisegen - Noise Field Generator
// ============================================================================
// Pregenerates the smooth-noise fields the fireplaced render loop scrolls
// through. Rendering a field is far too slow for the frame loop, so a pool
// of fields is generated once and picked from at random at runtime.
// ============================================================================

func main() {
	var (
		dir      = flag.String("dir", "/var/lib/fireplaced/noise", "Output directory for .fnf field files")
		files    = flag.Int("files", 10, "Number of fields to generate")
		length   = flag.Int("length", 6000, "Field length in rows (scroll axis, also the repetition period)")
		width    = flag.Int("width", 10, "Field width in columns (must match the panel)")
		logLevel = flag.String("log-level", "info", "Log level: error, warn, info, debug")
	)
	flag.Parse()

	if *files <= 0 {
		fmt.Fprintln(os.Stderr, "error: -files must be positive")
		os.Exit(1)
	}
	if *length < 16 || *width < 1 {
		fmt.Fprintln(os.Stderr, "error: field too small (need -length >= 16 and -width >= 1)")
		os.Exit(1)
	}

	var level slog.Level
	switch strings.ToLower(*logLevel) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		fmt.Fprintf(os.Stderr, "error: invalid log level: %s\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store := noise.NewStore(*dir, logger)
	if err := store.GenerateAndSave(*files, *length, *width); err != nil {
		logger.Error("generation failed", "error", err)
		os.Exit(1)
	}
	logger.Info("done", "files", *files, "dir", store.Dir())
}
