package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks auth info resolutions by outcome.
	AuthInfoResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_authinfo_resolutions_total",
			Help: "Total number of auth info resolutions (by source and result).",
		},
		[]string{"source", "result"}, // source = override | default | none
	)

	// Counts credential store operations.
	CredentialStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_credential_store_ops_total",
			Help: "Total number of credential store operations (by op and result).",
		},
		[]string{"op", "result"},
	)

	// Tracks job submissions by kind and result.
	JobSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_job_submissions_total",
			Help: "Total number of push/test job submissions.",
		},
		[]string{"kind", "result"}, // result = "ok" | "error" | "throttled"
	)

	QueuePublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_queue_publish_latency_seconds",
			Help:    "Time taken to hand a job to the queue backend.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms → ~2s
		},
		[]string{"backend"},
	)

	// Tracks cache hits and misses for keyring identities.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_keyring_cache_access_total",
			Help: "Number of cache hits/misses in the keyring identity cache.",
		},
		[]string{"result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful scheduled run (seconds since epoch).
	LastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_last_run_timestamp",
			Help: "Timestamp (unix seconds) of the last successful scheduled run.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time elapsed since start on a histogram or summary.
func ObserveDuration(v prometheus.Collector, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

func IncResolution(source, result string) {
	AuthInfoResolutions.WithLabelValues(source, result).Inc()
}

func IncStoreOp(op, result string) {
	CredentialStoreOps.WithLabelValues(op, result).Inc()
}

func IncJobSubmission(kind, result string) {
	JobSubmissions.WithLabelValues(kind, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastRun(component string, t time.Time) {
	LastRunTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
