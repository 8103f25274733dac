package importer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of importers.
type Metrics struct {
	FlushedRows   *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	FailedFlushes *prometheus.CounterVec
	FlushDuration *prometheus.HistogramVec
}

// NewMetrics creates Metrics. They are labeled by table.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		FlushedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "importer",
				Name:      "flushed_rows_total",
				Help:      "number of flushed rows",
			}, []string{"table", "type"}),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "importer",
				Name:      "retries_total",
				Help:      "number of flush retries",
			}, []string{"table"}),
		FailedFlushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "importer",
				Name:      "failed_flushes_total",
				Help:      "number of failed flush attempts",
			}, []string{"table"}),
		FlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "importer",
				Name:      "flush_duration_seconds",
				Help:      "bucketed histogram of flush time of a table group",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
			}, []string{"table"}),
	}
}

// Register registers all metrics.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.FlushedRows, m.Retries, m.FailedFlushes, m.FlushDuration} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
