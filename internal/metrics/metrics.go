// Package metrics exposes Prometheus counters for the bidding-fee economy and
// a small side server for /metrics and /healthz.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "honeyhive"

var (
	// Reservations counts Reserve attempts by result: ok, insufficient, busy, error.
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fee_reservations_total",
		Help:      "Bidding-fee reservation attempts by result.",
	}, []string{"result"})

	Refunds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fee_refunds_total",
		Help:      "Bidding fees returned to applicants.",
	})

	Captures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fee_captures_total",
		Help:      "Bidding fees kept after acceptance.",
	})

	// ContentBlocked counts guard findings by kind and call site (preview, submit).
	ContentBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "content_guard_findings_total",
		Help:      "Contact-information findings reported by the content guard.",
	}, []string{"kind", "site"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "application_transitions_total",
		Help:      "Application lifecycle transitions by resulting status.",
	}, []string{"status"})

	LedgerInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_inconsistencies_total",
		Help:      "Fan-out or compensation failures handed to reconciliation.",
	})
)

type HealthFunc func(ctx context.Context) error

// StartServer serves /metrics and /healthz on port in a background goroutine.
// A server that cannot listen is logged on log; nil means slog.Default.
func StartServer(port string, healthFn HealthFunc, log *slog.Logger) *http.Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           Handler(healthFn),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", srv.Addr, "error", err)
		}
	}()
	return srv
}

// Handler routes /metrics to Prometheus and /healthz to healthFn.
func Handler(healthFn HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := healthFn(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "unhealthy: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
