package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
)

// ============================================================================
// fireplace-ctl - Command-line IPC Client
// ============================================================================
// This tool sends commands to the fireplaced daemon via its Unix socket.
//
// Usage:
//   fireplace-ctl start [duration-minutes] [fade-out-minutes]
//   fireplace-ctl stop
//   fireplace-ctl status
//   fireplace-ctl set-volume 80
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/fireplaced.sock)
// ============================================================================

// Wire types (duplicated from the daemon for a standalone binary)

type request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type startData struct {
	DurationMinutes *float64 `json:"duration_minutes,omitempty"`
	FadeOutMinutes  *float64 `json:"fade_out_minutes,omitempty"`
}

type volumeData struct {
	Volume float64 `json:"volume"`
}

type runState struct {
	Running          bool    `json:"running"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Volume           float64 `json:"volume"`
}

func main() {
	socketPath := "/tmp/fireplaced.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Check for -socket flag
	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	var req request

	switch args[0] {
	case "start":
		var data startData
		if len(args) > 1 {
			v, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid duration: %v\n", err)
				os.Exit(1)
			}
			data.DurationMinutes = &v
		}
		if len(args) > 2 {
			v, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: invalid fade-out window: %v\n", err)
				os.Exit(1)
			}
			data.FadeOutMinutes = &v
		}
		req = mustRequest("start", data)

	case "stop":
		req = request{Type: "stop"}

	case "status":
		req = request{Type: "status"}

	case "set-volume", "volume":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: set-volume requires a value\n")
			os.Exit(1)
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid volume: %v\n", err)
			os.Exit(1)
		}
		req = mustRequest("set_volume", volumeData{Volume: v})

	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}

	resp, err := sendRequest(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	printState(resp)
}

func mustRequest(typ string, data any) request {
	raw, err := json.Marshal(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal %s data: %v\n", typ, err)
		os.Exit(1)
	}
	return request{Type: typ, Data: raw}
}

func sendRequest(socketPath string, req request) (response, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("marshal request: %w", err)
	}

	// Send request (line-delimited JSON)
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return response{}, fmt.Errorf("send request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status == "error" {
		return response{}, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printState(resp response) {
	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return
	}
	var st runState
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		fmt.Println("ok")
		return
	}
	if st.Running {
		fmt.Printf("running, %.0f minutes remaining, volume %.0f\n",
			st.RemainingSeconds/60, st.Volume)
	} else {
		fmt.Printf("idle, volume %.0f\n", st.Volume)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `fireplace-ctl - Control the fireplaced daemon via IPC

Usage:
  fireplace-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/fireplaced.sock)

Commands:
  start [duration] [fade-out]   Start a run (durations in minutes; defaults 60/10)
  stop                          Stop the current run
  status                        Print the daemon's run state
  set-volume, volume <0-100>    Set the shared volume/brightness level
  help, -h, --help              Show this help message

Examples:
  fireplace-ctl start 90 15
  fireplace-ctl set-volume 60
  fireplace-ctl -socket /var/run/fireplaced.sock stop
`)
}
