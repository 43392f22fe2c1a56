// Package server exposes the HTTP API: controller status, decisions,
// plans, load state, scheduler controls, a websocket feed and Prometheus
// metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridpilot/gridpilot/pkg/config"
	"github.com/gridpilot/gridpilot/pkg/hub"
	"github.com/gridpilot/gridpilot/pkg/loadmgr"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/planner"
	"github.com/gridpilot/gridpilot/pkg/prices"
	"github.com/gridpilot/gridpilot/pkg/scheduler"
	"github.com/gridpilot/gridpilot/pkg/solar"
	"github.com/gridpilot/gridpilot/pkg/storage"
)

// Server handles the HTTP API for the controller. It reads from the
// scheduler and storage; all control flows through the scheduler.
type Server struct {
	cfg       *config.Config
	hub       hub.System
	db        storage.Database
	sched     *scheduler.Scheduler
	planner   *planner.Planner
	prices    prices.Provider
	solar     solar.Provider
	loads     *loadmgr.Manager
	wsHub     *wsHub

	listenAddr string
	apiToken   string
	httpServer *http.Server
}

// Deps are the collaborators the server exposes.
type Deps struct {
	Config  *config.Config
	Hub     hub.System
	DB      storage.Database
	Sched   *scheduler.Scheduler
	Planner *planner.Planner
	Prices  prices.Provider
	Solar   solar.Provider
	Loads   *loadmgr.Manager
}

// Configured initializes the Server with dependencies and registers its
// flags. The scheduler's tick snapshots are broadcast to websocket
// clients.
func Configured(deps Deps) *Server {
	srv := New(deps)

	// honor PORT for container platforms
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	apiToken := lflag.String("api-token", "", "Bearer token required for /api requests (empty disables auth)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.apiToken = *apiToken
	})

	return srv
}

// New creates a Server without flags, primarily for testing.
func New(deps Deps) *Server {
	srv := &Server{
		cfg:     deps.Config,
		hub:     deps.Hub,
		db:      deps.DB,
		sched:   deps.Sched,
		planner: deps.Planner,
		prices:  deps.Prices,
		solar:   deps.Solar,
		loads:   deps.Loads,
		wsHub:   newWSHub(),
	}
	if srv.sched != nil {
		srv.sched.OnTick(func(snap scheduler.Snapshot) {
			srv.wsHub.broadcastJSON("tick", snap)
		})
	}
	return srv
}

func (s *Server) setupHandler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/decision", s.handleLastDecision).Methods("GET")
	api.HandleFunc("/decisions", s.handleDecisionHistory).Methods("GET")
	api.HandleFunc("/plan", s.handlePlan).Methods("GET")
	api.HandleFunc("/loads", s.handleLoads).Methods("GET")
	api.HandleFunc("/stats", s.handleHourlyStats).Methods("GET")
	api.HandleFunc("/scheduler/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/scheduler/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/scheduler/tick", s.handleForceTick).Methods("POST")
	api.HandleFunc("/ws", s.handleWS).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	var h http.Handler = r
	h = gziphandler.GzipHandler(s.securityHeadersMiddleware(h))
	h = handlers.CustomLoggingHandler(io.Discard, h, writeAccessLog)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	return h
}

func writeAccessLog(_ io.Writer, params handlers.LogFormatterParams) {
	slog.Debug("http request",
		slog.String("method", params.Request.Method),
		slog.String("path", params.URL.Path),
		slog.Int("status", params.StatusCode),
		slog.Int("size", params.Size),
	)
}

// Run starts the HTTP server and blocks until the context is canceled or
// an error occurs, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	ctx, l := log.Component(ctx, "server")

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		l.InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.wsHub.closeAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" && r.Header.Get("Authorization") != "Bearer "+s.apiToken {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
