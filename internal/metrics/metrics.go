// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - upstream connection counts and reconnect attempts
//   - relayed event rates by kind
//   - subscriber counts
//   - admission control denials
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Upstream connection metrics
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Current number of live upstream connections.",
	})
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_connections_total",
		Help: "Total number of successful upstream connections (initial and reconnect).",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_reconnect_attempts_total",
		Help: "Total number of upstream reconnect attempts.",
	})

	// Relay metrics
	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_relayed_total",
		Help: "Total number of events relayed to subscribers.",
	}, []string{"kind"})
	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_subscribers_active",
		Help: "Current number of connected subscribers.",
	})

	// Admission metrics
	AdmissionDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_admission_denied_total",
		Help: "Total number of session requests denied by admission control.",
	}, []string{"reason"})
)

// Serve runs the Prometheus metrics endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr, "path", path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
