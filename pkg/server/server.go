// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the agent runtime over HTTP: blocking runs, SSE
// streaming runs, checkpoint inspection, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/omni/pkg/agent"
	"github.com/kadirpekel/omni/pkg/checkpoint"
	"github.com/kadirpekel/omni/pkg/model"
	"github.com/kadirpekel/omni/pkg/session"
)

// AgentFactory builds a fresh agent per request. Request-scoped state
// (conversation, step counters) must not leak between requests.
type AgentFactory func(threadID string) (*agent.Agent, error)

// Config configures the HTTP server.
type Config struct {
	Host string
	Port int

	// SessionTTL evicts idle sessions on a background sweep. Zero disables.
	SessionTTL time.Duration
}

// Server is the HTTP API front of the runtime.
type Server struct {
	cfg         Config
	factory     AgentFactory
	sessions    *session.Manager
	checkpoints checkpoint.Store
	http        *http.Server
}

// New assembles the server. sessions and checkpoints may be nil; the
// corresponding endpoints then report 404 / skip history.
func New(cfg Config, factory AgentFactory, sessions *session.Manager, checkpoints checkpoint.Store) (*Server, error) {
	if factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	s := &Server{
		cfg:         cfg,
		factory:     factory,
		sessions:    sessions,
		checkpoints: checkpoints,
	}
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.routes(),
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/agent", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Post("/stream", s.handleStream)
	})

	r.Route("/v1/checkpoints/{threadID}", func(r chi.Router) {
		r.Get("/", s.handleListCheckpoints)
		r.Delete("/", s.handleDeleteCheckpoints)
	})

	return r
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s.sessions != nil && s.cfg.SessionTTL > 0 {
		go s.sweepSessions(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.sessions.CleanupExpired(ctx, s.cfg.SessionTTL)
			if err != nil {
				slog.Warn("Session cleanup failed", "error", err)
			} else if count > 0 {
				slog.Info("Expired sessions removed", "count", count)
			}
		}
	}
}

type runRequest struct {
	Task      string `json:"task"`
	SessionID string `json:"session_id,omitempty"`
}

type runResponse struct {
	Result       string `json:"result"`
	Status       string `json:"status"`
	Steps        int    `json:"steps"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	SessionID    string `json:"session_id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, a, ok := s.prepareRun(w, r)
	if !ok {
		return
	}

	result, _, err := a.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.persistRun(r.Context(), req, result)

	state := a.State()
	writeJSON(w, http.StatusOK, runResponse{
		Result:       result,
		Status:       string(state.Status),
		Steps:        state.CurrentStep,
		InputTokens:  state.TotalInputTokens,
		OutputTokens: state.TotalOutputTokens,
		SessionID:    req.SessionID,
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, a, ok := s.prepareRun(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	final := ""
	for ev, err := range a.RunStream(r.Context()) {
		if err != nil {
			writeSSE(w, flusher, &agent.StreamEvent{
				Type: "error",
				Data: map[string]any{"message": err.Error()},
			})
			return
		}
		if ev.Type == agent.StreamDone {
			if text, ok := ev.Data["message"].(string); ok {
				final = text
			}
		}
		if !writeSSE(w, flusher, ev) {
			return
		}
	}

	if final != "" {
		s.persistRun(r.Context(), req, final)
	}
}

// prepareRun decodes the request and builds a session-seeded agent.
func (s *Server) prepareRun(w http.ResponseWriter, r *http.Request) (runRequest, *agent.Agent, bool) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, nil, false
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return req, nil, false
	}

	a, err := s.factory(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return req, nil, false
	}

	if s.sessions != nil && req.SessionID != "" {
		history, err := s.sessions.History(r.Context(), req.SessionID, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return req, nil, false
		}
		for _, msg := range history {
			a.State().Append(msg)
		}
	}

	a.AddUserMessage(req.Task)
	return req, a, true
}

func (s *Server) persistRun(ctx context.Context, req runRequest, result string) {
	if s.sessions == nil || req.SessionID == "" {
		return
	}
	err := s.sessions.Append(ctx, req.SessionID,
		model.NewUserMessage(req.Task),
		model.NewAssistantMessage(result))
	if err != nil {
		slog.Warn("Failed to persist session", "session_id", req.SessionID, "error", err)
	}
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusNotFound, "checkpointing is not enabled")
		return
	}
	threadID := chi.URLParam(r, "threadID")
	list, err := s.checkpoints.List(r.Context(), threadID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":   threadID,
		"checkpoints": list,
	})
}

func (s *Server) handleDeleteCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeError(w, http.StatusNotFound, "checkpointing is not enabled")
		return
	}
	threadID := chi.URLParam(r, "threadID")
	count, err := s.checkpoints.DeleteThread(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"deleted":   count,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev *agent.StreamEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
