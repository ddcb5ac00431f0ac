package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local control without going through HTTP:
//   - fireplace-ctl command-line tool
//   - scripting and automation on the device itself
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "start"|"stop"|"status"|"set_volume", "data": {...}}
//   - Server responds: {"status": "ok", "data": {...}} or
//     {"status": "error", "error": "msg"}
// ============================================================================

// IPCRequest is one command line from a client.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse is the reply sent back to IPC clients.
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // error message if status == "error"
	Data   any    `json:"data,omitempty"`
}

type ipcStartData struct {
	DurationMinutes *float64 `json:"duration_minutes"`
	FadeOutMinutes  *float64 `json:"fade_out_minutes"`
}

type ipcVolumeData struct {
	Volume *float64 `json:"volume"`
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, ctrl *Controller, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Make socket accessible (consider security implications in production)
	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, ctrl, logger)
	}
}

// handleIPCConnection processes a single IPC client connection.
func handleIPCConnection(conn net.Conn, ctrl *Controller, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		var req IPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			respond(encoder, logger, IPCResponse{
				Status: "error",
				Error:  fmt.Sprintf("parse request: %v", err),
			})
			continue
		}

		respond(encoder, logger, dispatchIPC(req, ctrl))
	}

	logger.Debug("IPC connection closed")
}

func respond(encoder *json.Encoder, logger *slog.Logger, resp IPCResponse) {
	if err := encoder.Encode(resp); err != nil {
		logger.Error("IPC failed to send response", "error", err)
	}
}

// dispatchIPC executes one command against the controller.
func dispatchIPC(req IPCRequest, ctrl *Controller) IPCResponse {
	switch req.Type {
	case "start":
		var data ipcStartData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				return IPCResponse{Status: "error", Error: fmt.Sprintf("parse start data: %v", err)}
			}
		}
		duration := defaultDurationMinutes
		if data.DurationMinutes != nil {
			duration = *data.DurationMinutes
		}
		fade := defaultFadeOutMinutes
		if data.FadeOutMinutes != nil {
			fade = *data.FadeOutMinutes
		}
		err := ctrl.Start(
			time.Duration(duration*float64(time.Minute)),
			time.Duration(fade*float64(time.Minute)))
		if err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		return IPCResponse{Status: "ok", Data: ctrl.Status()}

	case "stop":
		if err := ctrl.Stop(); err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		return IPCResponse{Status: "ok", Data: ctrl.Status()}

	case "status":
		return IPCResponse{Status: "ok", Data: ctrl.Status()}

	case "set_volume":
		var data ipcVolumeData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &data); err != nil {
				return IPCResponse{Status: "error", Error: fmt.Sprintf("parse volume data: %v", err)}
			}
		}
		if data.Volume == nil {
			return IPCResponse{Status: "error", Error: "missing volume field"}
		}
		if err := ctrl.SetVolume(*data.Volume); err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		return IPCResponse{Status: "ok", Data: ctrl.Status()}

	default:
		return IPCResponse{Status: "error", Error: fmt.Sprintf("unknown command %q", req.Type)}
	}
}
