// Package web serves the operational endpoints: liveness, pipeline stats,
// and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Probes supplies the point-in-time snapshots the endpoints serve. Health
// reports the reasons the process is unhealthy (empty means healthy); Stats
// returns the body of /stats.
type Probes struct {
	Health func() []string
	Stats  func() map[string]any
}

type Server struct {
	srv *http.Server
	log *zerolog.Logger
}

func NewServer(port int, probes Probes, logger *zerolog.Logger) *Server {
	compLog := logger.With().Str("component", "AdminServer").Logger()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(probes.Health))
	mux.HandleFunc("/stats", statsHandler(probes.Stats))
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: &compLog,
	}
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("admin server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func healthHandler(health func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problems := health()
		status := http.StatusOK
		body := map[string]any{"status": "ok"}
		if len(problems) > 0 {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "unhealthy", "problems": problems}
		}
		writeJSON(w, status, body)
	}
}

func statsHandler(stats func() map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := stats()
		body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
