package metrics

// Prometheus counters for a long crawl. They exist only when metrics.listen_addr is set;
// without it the pipeline runs with a nil *Metrics and nothing is collected.

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	logging "holders-snapshot/internal/infra/log"
)

// Metrics groups every collector the pipeline updates. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RPCRequests    *prometheus.CounterVec   // method, outcome
	RPCLatency     *prometheus.HistogramVec // method
	Chunks         *prometheus.CounterVec   // outcome: ok, skipped
	TransferLogs   prometheus.Counter
	MalformedLogs  prometheus.Counter
	HubRequests    *prometheus.CounterVec // operation, outcome
	PowerLookups   *prometheus.CounterVec // outcome: resolved, retried, fallback
	ThrottlePauses *prometheus.CounterVec // client: rpc, hub
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_rpc_requests_total",
			Help: "JSON-RPC calls by method and outcome",
		}, []string{"method", "outcome"}),
		RPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snapshot_rpc_request_duration_seconds",
			Help:    "JSON-RPC call latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"method"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_log_chunks_total",
			Help: "Block-range chunks by outcome",
		}, []string{"outcome"}),
		TransferLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_transfer_logs_total",
			Help: "Transfer logs applied to the ledger",
		}),
		MalformedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snapshot_malformed_logs_total",
			Help: "Logs that did not decode as ERC-20 transfers",
		}),
		HubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_hub_requests_total",
			Help: "GraphQL requests to the voting-power hub",
		}, []string{"operation", "outcome"}),
		PowerLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_power_lookups_total",
			Help: "Per-holder voting-power lookups by final state",
		}, []string{"outcome"}),
		ThrottlePauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_throttle_pauses_total",
			Help: "Pacing delays inserted before or between requests",
		}, []string{"client"}),
	}

	m.Registry.MustRegister(
		m.RPCRequests, m.RPCLatency, m.Chunks, m.TransferLogs, m.MalformedLogs,
		m.HubRequests, m.PowerLookups, m.ThrottlePauses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRPC(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(method, outcome).Inc()
	m.RPCLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveChunk(outcome string, logs, malformed int) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues(outcome).Inc()
	m.TransferLogs.Add(float64(logs))
	m.MalformedLogs.Add(float64(malformed))
}

func (m *Metrics) ObserveHub(operation, outcome string) {
	if m == nil {
		return
	}
	m.HubRequests.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveLookup(outcome string) {
	if m == nil {
		return
	}
	m.PowerLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePause(client string) {
	if m == nil {
		return
	}
	m.ThrottlePauses.WithLabelValues(client).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	if m == nil || addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		logging.LogInfo("Metrics server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogWarn("Metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
