package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the attestation verifier.
type Metrics struct {
	// Verification attempts, broken down by engine kind and outcome.
	VerifyAttemptsTotal *prometheus.CounterVec
	VerifySuccessTotal  *prometheus.CounterVec
	VerifyFailuresTotal *prometheus.CounterVec
	VerifyDuration      *prometheus.HistogramVec

	// Chain validation outcomes, broken down by trust-reason label.
	ChainValidationFailuresTotal *prometheus.CounterVec

	// Revocation list client.
	RevocationFetchTotal    *prometheus.CounterVec
	RevocationFetchDuration prometheus.Histogram
	RevocationCacheHits     prometheus.Counter
	RevocationCacheMisses   prometheus.Counter

	// gRPC interceptor.
	GRPCRequestsInFlight prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		VerifyAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestation_verify_attempts_total",
				Help: "Total number of attestation verification attempts",
			},
			[]string{"engine"},
		),
		VerifySuccessTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestation_verify_success_total",
				Help: "Total number of successful attestation verifications",
			},
			[]string{"engine"},
		),
		VerifyFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestation_verify_failures_total",
				Help: "Total number of rejected attestation verifications",
			},
			[]string{"engine", "reason"},
		),
		VerifyDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "attestation_verify_duration_seconds",
				Help:    "Full verify() call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"engine"},
		),
		ChainValidationFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestation_chain_validation_failures_total",
				Help: "Total number of certificate chain validation failures",
			},
			[]string{"reason"},
		),
		RevocationFetchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestation_revocation_fetch_total",
				Help: "Total number of revocation list fetch attempts",
			},
			[]string{"status"},
		),
		RevocationFetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "attestation_revocation_fetch_duration_seconds",
				Help:    "Revocation list HTTP fetch duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		RevocationCacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "attestation_revocation_cache_hits_total",
				Help: "Total number of revocation list cache hits",
			},
		),
		RevocationCacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "attestation_revocation_cache_misses_total",
				Help: "Total number of revocation list cache misses",
			},
		),
		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "attestation_grpc_requests_in_flight",
				Help: "Number of gRPC requests currently gated on attestation verification",
			},
		),
	}
}
