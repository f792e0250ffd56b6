package observ

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// MetricsServer exposes the process counters and gauges over HTTP so an
// operator can poll a running engine without attaching to its log stream.
//
//	GET /healthz  -> {"status":"ok","uptime_seconds":...}
//	GET /metrics  -> JSON snapshot of all counters and gauges
type MetricsServer struct {
	srv     *http.Server
	started time.Time
}

func NewMetricsServer(addr string) *MetricsServer {
	m := &MetricsServer{started: time.Now()}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", m.handleHealth)
	mux.HandleFunc("/metrics", m.handleMetrics)
	m.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return m
}

// Start serves in the background. Listen errors other than a clean shutdown
// are logged, not fatal: metrics are an aid, not a dependency.
func (m *MetricsServer) Start() {
	go func() {
		Log("metrics_server_started", map[string]any{"addr": m.srv.Addr})
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			LogError("metrics_server_failed", err, nil)
		}
	}()
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

func (m *MetricsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(m.started).Seconds()),
	})
}

func (m *MetricsServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"counters": Snapshot(),
		"gauges":   SnapshotGauges(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
