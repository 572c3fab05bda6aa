// Package core serves the operational HTTP endpoints of the daemon.
package core

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	cfg Config
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, errors.New("no backend configured")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{cfg: cfg}, nil
}

// Handler returns the operational routes wrapped in the logging and
// recovery middleware. Administrative routes are only mounted when an
// AuthEngine is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	if s.cfg.Auth != nil {
		mux.Handle("POST /reconcile", RequireAuthentication(s.cfg.Auth, http.HandlerFunc(s.handleReconcile)))
	} else {
		slog.Warn("No admin credentials configured, POST /reconcile is disabled")
	}

	return Recoverer(LogRequest(mux))
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Backend.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type reconcileResponse struct {
	Accepted []int64 `json:"accepted"`
	Rejected []int64 `json:"rejected"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := s.cfg.Backend.Reconcile(r.Context())
	if err != nil {
		slog.Error("Reconcile commissions", "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	resp := reconcileResponse{Accepted: result.Accepted, Rejected: result.Rejected}
	if resp.Accepted == nil {
		resp.Accepted = []int64{}
	}
	if resp.Rejected == nil {
		resp.Rejected = []int64{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}
