package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgestamp/forgestamp/internal/version"
)

var (
	// buildInfo exposes the four build metadata values of the running
	// registry as constant labels, following the standard build_info pattern.
	buildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgestamp",
			Name:      "build_info",
			Help:      "Build metadata of the running registry. The value is always 1.",
			ConstLabels: prometheus.Labels{
				"release": version.ReleaseVersion(),
				"commit":  version.GitCommit(),
				"runtime": version.RuntimeVersion(),
				"shim":    version.ShimVersion(),
			},
		},
	)

	releasesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgestamp",
			Name:      "publishes_total",
			Help:      "Total number of releases published to the registry.",
		},
	)

	checkInsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "forgestamp",
			Name:      "checkins_total",
			Help:      "Total number of agent check-ins recorded.",
		},
	)

	knownAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgestamp",
			Name:      "known_agents",
			Help:      "Number of agents the registry has seen.",
		},
	)

	staleAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "forgestamp",
			Name:      "stale_agents",
			Help:      "Number of agents running a release older than the latest one.",
		},
	)
)

//nolint:gochecknoinits // Prometheus collectors must register once at package load.
func init() {
	prometheus.MustRegister(
		buildInfo,
		releasesPublished,
		checkInsRecorded,
		knownAgents,
		staleAgents,
	)

	buildInfo.Set(1)
}

// handleMetrics exposes Prometheus metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// updateFleetGauges refreshes the per-fleet gauges after an inventory scan.
func updateFleetGauges(total, stale int) {
	knownAgents.Set(float64(total))
	staleAgents.Set(float64(stale))
}
