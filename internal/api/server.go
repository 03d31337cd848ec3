package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/chatsync/internal/store"
	"github.com/MikeSquared-Agency/chatsync/internal/syncer"
)

// Syncer runs sync attempts on behalf of HTTP callers.
type Syncer interface {
	Sync(ctx context.Context, req syncer.Request) syncer.Outcome
	SyncBatch(ctx context.Context, reqs []syncer.Request) []syncer.Outcome
}

// FingerprintReader exposes the persisted sync state.
type FingerprintReader interface {
	GetLast(ctx context.Context, chatID string) (string, bool, error)
	List(ctx context.Context) ([]store.Entry, error)
}

// EventBus reports the event bus connection for the status route.
type EventBus interface {
	Connected() bool
}

type Server struct {
	router *chi.Mux
	port   int
	http   *http.Server
	syncer Syncer
	state  FingerprintReader
	events EventBus
	logger *slog.Logger
}

// NewServer wires the routes. An empty apiToken leaves the sync routes open.
func NewServer(port int, apiToken string, sy Syncer, state FingerprintReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		syncer: sy,
		state:  state,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/chatsync/status", s.status)

	router.Route("/api/v1/sync", func(r chi.Router) {
		if apiToken != "" {
			r.Use(BearerAuthMiddleware(apiToken))
		}
		r.Post("/", s.syncOne)
		r.Post("/batch", s.syncBatch)
		r.Get("/{chatID}", s.fingerprint)
	})

	return s
}

// SetEventBus makes the status route report the bus connection.
func (s *Server) SetEventBus(b EventBus) {
	s.events = b
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	entries, err := s.state.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("list state: %v", err))
		return
	}

	resp := map[string]any{
		"service":  "chatsync",
		"tracked":  len(entries),
		"last_run": nil,
		"events":   "disabled",
	}
	if s.events != nil {
		resp["events"] = "disconnected"
		if s.events.Connected() {
			resp["events"] = "connected"
		}
	}
	var latest time.Time
	for _, e := range entries {
		if e.UpdatedAt.After(latest) {
			latest = e.UpdatedAt
		}
	}
	if !latest.IsZero() {
		resp["last_run"] = latest
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
