package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"secondbrain/internal/session"
)

// InitProvider creates a MeterProvider backed by a Prometheus exporter that
// registers on reg. The returned function flushes and shuts the provider
// down.
func InitProvider(reg prometheus.Registerer) (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	return mp, mp.Shutdown, nil
}

// health is the /healthz body.
type health struct {
	Status string `json:"status"`
	Phase  string `json:"phase"`
	Cycles int    `json:"cycles"`
	Uptime string `json:"uptime"`
}

// Handler serves /metrics from gatherer and /healthz from snapshot.
func Handler(gatherer prometheus.Gatherer, snapshot func() session.Snapshot) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := snapshot()
		status, code := "ok", http.StatusOK
		if snap.Phase == session.Terminated {
			status, code = "terminated", http.StatusServiceUnavailable
		}
		writeJSON(w, code, health{
			Status: status,
			Phase:  snap.Phase.String(),
			Cycles: snap.Cycles,
			Uptime: time.Since(snap.CreatedAt).Round(time.Second).String(),
		})
	})
	return mux
}

// Serve listens on addr and serves h until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("observe: listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("observability server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("observe: serve: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
