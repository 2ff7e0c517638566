// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics represents the collection of sync related Prometheus metrics
type Metrics struct {
	SyncRuns         *prometheus.CounterVec
	SyncRecords      *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	LastSuccess      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered, which tests use to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvefeed_sync_runs_total",
			Help: "Total number of sync passes by flow and result",
		},
		[]string{"flow", "result"},
	)

	m.SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvefeed_sync_records_total",
			Help: "Total number of upstream records applied to the store by flow and upsert result",
		},
		[]string{"flow", "result"},
	)

	m.UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvefeed_upstream_requests_total",
			Help: "Total number of NVD API page requests by outcome",
		},
		[]string{"status"},
	)

	m.LastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cvefeed_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync pass by flow",
		},
		[]string{"flow"},
	)

	if reg != nil {
		reg.MustRegister(m.SyncRuns, m.SyncRecords, m.UpstreamRequests, m.LastSuccess)
	}

	return m
}
