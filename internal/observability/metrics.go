// Package observability exports Steam cache activity as Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"steamdash/internal/core"
	"steamdash/internal/steamdata"
)

var (
	// FetchTotal counts settled endpoint calls.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steamdash_fetch_total",
			Help: "Total number of Steam endpoint fetches by outcome and payload origin",
		},
		[]string{"endpoint", "outcome", "origin"},
	)

	// FetchDuration observes endpoint call latency, including failed calls.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "steamdash_fetch_duration_seconds",
			Help:    "Duration of Steam endpoint fetches in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// CacheReadsTotal counts persistent cache lookups by result.
	CacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steamdash_cache_reads_total",
			Help: "Total number of Steam cache reads by result",
		},
		[]string{"endpoint", "result"},
	)

	// BatchesTotal counts settled fetch batches.
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "steamdash_batches_total",
			Help: "Total number of settled fetch batches by result",
		},
		[]string{"result"},
	)

	// BatchDuration observes time from fetch start to batch settlement.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "steamdash_batch_duration_seconds",
			Help:    "Duration of fetch batches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// PrometheusHooks records steamdata.Hooks events into the package metrics.
type PrometheusHooks struct{}

// NewPrometheusHooks returns hooks backed by the default registry.
func NewPrometheusHooks() *PrometheusHooks {
	return &PrometheusHooks{}
}

var _ steamdata.Hooks = (*PrometheusHooks)(nil)

func (PrometheusHooks) CacheRead(ep core.Endpoint, result string) {
	CacheReadsTotal.WithLabelValues(ep.String(), result).Inc()
}

func (PrometheusHooks) EndpointSettled(ep core.Endpoint, success bool, origin steamdata.Origin, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	FetchTotal.WithLabelValues(ep.String(), outcome, string(origin)).Inc()
	FetchDuration.WithLabelValues(ep.String()).Observe(elapsed.Seconds())
}

func (PrometheusHooks) BatchSettled(result string, elapsed time.Duration) {
	BatchesTotal.WithLabelValues(result).Inc()
	BatchDuration.Observe(elapsed.Seconds())
}
