// Package metrics exports service metrics in the Prometheus format.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"atlasprep/internal/core"
)

const namespace = "atlasprep"

var (
	_ core.MetricsRecorder   = (*Recorder)(nil)
	_ core.AlignmentObserver = (*Recorder)(nil)
)

// Recorder implements core.MetricsRecorder and core.AlignmentObserver on a
// dedicated Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
	found    *prometheus.HistogramVec
	padded   *prometheus.HistogramVec
}

// NewRecorder registers the atlasprep collectors on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of service operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		found: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alignment_genes_found",
			Help:      "Panel genes present in aligned inputs.",
			Buckets:   geneBuckets,
		}, []string{"panel"}),
		padded: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alignment_genes_padded",
			Help:      "Panel genes zero-padded into aligned inputs.",
			Buckets:   geneBuckets,
		}, []string{"panel"}),
	}
	r.registry.MustRegister(r.duration, r.results, r.found, r.padded)
	return r
}

var geneBuckets = []float64{0, 10, 100, 500, 1000, 1500, 2000, 3000, 5000}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Observe implements core.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.duration.WithLabelValues(operation).Observe(d.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// ObserveAlignment implements core.AlignmentObserver.
func (r *Recorder) ObserveAlignment(_ context.Context, panel string, found, padded int) {
	r.found.WithLabelValues(panel).Observe(float64(found))
	r.padded.WithLabelValues(panel).Observe(float64(padded))
}

// WriteTextfile writes the current metrics for the node exporter textfile
// collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
