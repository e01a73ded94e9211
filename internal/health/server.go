// Package health serves the liveness probe and the Prometheus scrape endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"voice_scribe_bot/internal/logging"
)

const (
	ledgerPingTimeout  = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// LedgerChecker is the ledger behavior needed by the probe.
type LedgerChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts /healthz and /metrics and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry
	ledger LedgerChecker
}

type response struct {
	Status string `json:"status"`
	Ledger string `json:"ledger,omitempty"`
}

// NewServer constructs a server on port. metrics may be nil, in which case the
// default Prometheus registry is exposed.
func NewServer(port int, ledger LedgerChecker, metrics http.Handler, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	srv := &Server{
		logger: logger,
		ledger: ledger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", metrics)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}
	status := http.StatusOK

	if s.ledger == nil {
		resp.Status, resp.Ledger = "degraded", "error"
		s.logger.WithField("event", "health_ledger_missing").Warn("ledger checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(r.Context(), ledgerPingTimeout)
		err := s.ledger.Ping(pingCtx)
		cancel()

		if err != nil {
			resp.Status, resp.Ledger = "degraded", "error"
			status = http.StatusServiceUnavailable
			s.logger.WithField("event", "health_ledger_error").WithError(err).Warn("ledger ping failed during health check")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
