package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics exposed on /metrics.
var (
	searchLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qac_search_latency_seconds",
		Help:    "Semantic search latency including query embedding",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.0, 12),
	})

	askTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qac_ask_total",
		Help: "Answered /api/ask requests",
	})

	askFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qac_ask_failures_total",
		Help: "Failed /api/ask requests",
	})

	ingestJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qac_ingest_jobs_total",
		Help: "Ingestion jobs enqueued via the API, by handler",
	}, []string{"handler"})

	artifactCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qac_artifacts",
		Help: "Indexed artifacts by kind",
	}, []string{"kind"})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qac_ws_clients",
		Help: "Connected WebSocket clients",
	})
)

// recordSearchLatency records one search duration in seconds
func recordSearchLatency(seconds float64) {
	searchLatencySeconds.Observe(seconds)
}

// incAsk counts a successful ask
func incAsk() {
	askTotal.Inc()
}

// incAskFailure counts a failed ask
func incAskFailure() {
	askFailures.Inc()
}

// incIngestJob counts an enqueued ingestion job
func incIngestJob(handler string) {
	ingestJobsTotal.WithLabelValues(handler).Inc()
}

// updateArtifactMetrics refreshes the per-kind artifact gauges
func (s *Server) updateArtifactMetrics() {
	counts, err := s.artifacts.CountByKind()
	if err != nil {
		s.logger.Debugw("Failed to count artifacts for metrics", "error", err)
		return
	}
	for kind, n := range counts {
		artifactCount.WithLabelValues(string(kind)).Set(float64(n))
	}
}

// setConnectedClients updates the WebSocket client gauge
func setConnectedClients(n int) {
	connectedClients.Set(float64(n))
}

// startArtifactMetricsRefresher keeps the artifact gauges current while
// the server runs
func (s *Server) startArtifactMetricsRefresher() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.updateArtifactMetrics()

		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.updateArtifactMetrics()
			}
		}
	}()
}
