package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Role queue metrics
var (
	// RoleMutationsTotal tracks executed role mutations by operation and status
	RoleMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "role_mutations_total",
			Help: "Total role mutations executed by operation (add/remove) and status (success/error)",
		},
		[]string{"op", "status"},
	)

	// RoleQueueDepth tracks the number of role mutations waiting to run
	RoleQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "role_queue_depth",
			Help: "Number of role mutations waiting in the queue",
		},
	)
)

// Mute metrics
var (
	// MutesActive tracks mutes with a pending restoration timer
	MutesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mutes_active",
			Help: "Number of members currently muted by the bot",
		},
	)

	// MuteRestorationsTotal tracks restoration attempts by result
	MuteRestorationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mute_restorations_total",
			Help: "Mute restorations by result (restored/skipped/error)",
		},
		[]string{"result"},
	)
)

// SacrificeCyclesTotal tracks how each sacrifice cycle ended
var SacrificeCyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sacrifice_cycles_total",
		Help: "Sacrifice cycles by outcome (sacrificed/punished/timeout/replaced)",
	},
	[]string{"outcome"},
)

// Serve exposes /metrics on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown failed", "error", err)
		}
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
