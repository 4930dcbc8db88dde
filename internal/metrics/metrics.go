// Package metrics holds the Prometheus collectors shared by the ingestion components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gios",
		Name:      "upstream_requests_total",
		Help:      "Upstream API requests by endpoint kind and outcome.",
	}, []string{"kind", "outcome"})

	UpstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gios",
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	ProbesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gios",
		Name:      "liveness_probes_in_flight",
		Help:      "Liveness probes currently waiting on upstream.",
	})

	ProbeResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gios",
		Name:      "liveness_probe_results_total",
		Help:      "Liveness probe results.",
	}, []string{"result"})

	ActiveSensors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gios",
		Name:      "active_sensors",
		Help:      "Sensors marked active by the last reconciliation.",
	})

	MeasurementsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gios",
		Name:      "measurements_inserted_total",
		Help:      "Measurement rows appended by the ingestor.",
	})

	IngestCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gios",
		Name:      "ingest_cycles_total",
		Help:      "Periodic ingest cycles by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		UpstreamRequests,
		UpstreamLatency,
		ProbesInFlight,
		ProbeResults,
		ActiveSensors,
		MeasurementsInserted,
		IngestCycles,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
