// Package metrics holds the Prometheus collectors for the generation and
// deployment pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "r3kt_generation_requests_total",
			Help: "Generation requests by provider used and outcome",
		},
		[]string{"provider", "outcome"},
	)

	providerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "r3kt_provider_call_duration_seconds",
			Help:    "AI provider call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"provider", "outcome"},
	)

	containerStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "r3kt_container_starts_total",
			Help: "Container start attempts by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	portAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "r3kt_port_allocations_total",
			Help: "Host port allocations by outcome",
		},
		[]string{"outcome"},
	)

	containersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "r3kt_containers_running",
			Help: "Preview containers currently running",
		},
	)
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRandom  = "random"
)

// RecordGeneration counts a finished generation request.
func RecordGeneration(provider, outcome string) {
	generationRequests.WithLabelValues(provider, outcome).Inc()
}

// ObserveProviderCall records the duration of one provider call.
func ObserveProviderCall(provider string, err error, d time.Duration) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	providerCallDuration.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

// RecordContainerStart counts a start attempt on a backend.
func RecordContainerStart(backend, outcome string) {
	containerStarts.WithLabelValues(backend, outcome).Inc()
}

// RecordPortAllocation counts a port allocation outcome.
func RecordPortAllocation(outcome string) {
	portAllocations.WithLabelValues(outcome).Inc()
}

// ContainerUp and ContainerDown track the running container gauge.
func ContainerUp()   { containersRunning.Inc() }
func ContainerDown() { containersRunning.Dec() }
