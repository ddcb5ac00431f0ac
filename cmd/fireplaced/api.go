package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// HTTP API Server
// ============================================================================
// Small REST surface for home-automation integrations:
//   POST /start  {"duration_minutes": 60, "fade_out_minutes": 10}
//   POST /stop
//   POST /volume {"volume": 80}
//   GET  /status
//   GET  /health
// Responses: {"status": "ok", "state": {...}} or {"status": "error", ...}
// ============================================================================

type apiServer struct {
	ctrl   *Controller
	logger *slog.Logger
}

type apiEnvelope struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	State  *RunState `json:"state,omitempty"`
}

type startRequest struct {
	DurationMinutes *float64 `json:"duration_minutes"`
	FadeOutMinutes  *float64 `json:"fade_out_minutes"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func newAPIServer(ctrl *Controller, logger *slog.Logger) *apiServer {
	return &apiServer{ctrl: ctrl, logger: logger}
}

// routes builds the request mux; split out so tests can drive it through
// httptest without a listener.
func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /volume", s.handleVolume)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("parse request: %v", err))
		return
	}

	duration := defaultDurationMinutes
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}
	fade := defaultFadeOutMinutes
	if req.FadeOutMinutes != nil {
		fade = *req.FadeOutMinutes
	}

	err := s.ctrl.Start(
		time.Duration(duration*float64(time.Minute)),
		time.Duration(fade*float64(time.Minute)))
	if err != nil {
		if errors.Is(err, errBadRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeState(w)
}

func (s *apiServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		if errors.Is(err, errNotRunning) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeState(w)
}

func (s *apiServer) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeBody(r.Body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("parse request: %v", err))
		return
	}
	if req.Volume == nil {
		s.writeError(w, http.StatusBadRequest, "missing volume field")
		return
	}
	if err := s.ctrl.SetVolume(*req.Volume); err != nil {
		if errors.Is(err, errBadRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeState(w)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeState(w)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiEnvelope{Status: "ok"})
}

func (s *apiServer) writeState(w http.ResponseWriter) {
	state := s.ctrl.Status()
	writeJSON(w, http.StatusOK, apiEnvelope{Status: "ok", State: &state})
}

func (s *apiServer) writeError(w http.ResponseWriter, code int, msg string) {
	s.logger.Warn("api request rejected", "code", code, "error", msg)
	writeJSON(w, code, apiEnvelope{Status: "error", Error: msg})
}

// decodeBody parses an optional JSON body; an empty body decodes to the
// zero request so every field falls back to its default.
func decodeBody(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// runAPIServer starts the HTTP server and shuts it down gracefully when ctx
// is canceled.
//
// This replaces http.ListenAndServe so we can call Server.Shutdown during
// program shutdown.
func runAPIServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	logger.Info("api server listening", "port", port)

	errCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
