// Package adminhttp is a small health/metrics/stats surface, replacing the
// console-proxy web UI this codebase's teacher exposed with the minimal
// thing a binary protocol proxy needs: liveness, Prometheus scraping, and a
// JSON session snapshot. No authentication — this surface carries no
// secrets and spec.md's non-goals already rule out adding auth anywhere in
// this proxy, so it is off by default (empty listen address).
package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// SessionCounter reports live session counts for the /stats handler.
type SessionCounter interface {
	Count() (paired, simulating int)
}

// Server is the admin HTTP surface.
type Server struct {
	addr       string
	sessions   SessionCounter
	ready      func() bool
	router     *mux.Router
	httpServer *http.Server
}

// New builds the router. addr may be empty, in which case Run is a no-op —
// the surface stays disabled.
func New(addr string, sessions SessionCounter, ready func() bool) *Server {
	s := &Server{addr: addr, sessions: sessions, ready: ready, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/stats", s.handleStats).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type statsResponse struct {
	SessionsPaired     int `json:"sessions_paired"`
	SessionsSimulating int `json:"sessions_simulating"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	paired, simulating := 0, 0
	if s.sessions != nil {
		paired, simulating = s.sessions.Count()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsResponse{SessionsPaired: paired, SessionsSimulating: simulating})
}

// Run serves until ctx is cancelled, shutting down gracefully. A no-op if
// addr is empty.
func (s *Server) Run(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.router}

	go func() {
		<-ctx.Done()
		log.Info("adminhttp: context done, shutting down")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("adminhttp: listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return fmt.Errorf("adminhttp: %w", err)
}
