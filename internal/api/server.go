package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/switchboard/internal/session"
	"github.com/MikeSquared-Agency/switchboard/internal/store"
)

type Server struct {
	store    store.RecordStore
	registry *session.Registry
	srv      *http.Server
}

// NewServer wires the HTTP surface: the media-stream WebSocket endpoint
// plus a small read API over call records.
func NewServer(s store.RecordStore, reg *session.Registry, mediaStream http.Handler, port int) *Server {
	srv := &Server{
		store:    s,
		registry: reg,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Handle("/media-stream", mediaStream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/calls", srv.handleListCalls)
		r.Get("/calls/{callSid}", srv.handleGetCall)
	})

	srv.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return srv
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	slog.Info("starting HTTP API", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Live media streams are drained separately by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"service":         "switchboard",
		"active_sessions": s.registry.Count(),
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	calls, err := s.store.ListCalls(r.Context(), status, limit)
	if err != nil {
		slog.Error("query calls failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")

	call, err := s.store.GetCall(r.Context(), callSid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
			return
		}
		slog.Error("get call failed", "call_sid", callSid, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	// Surface the live state when the call is still in flight.
	if sess, ok := s.registry.Get(callSid); ok {
		call["live_state"] = sess.State().String()
	}

	writeJSON(w, http.StatusOK, call)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
