package promutil

import "github.com/prometheus/client_golang/prometheus"

// WaitSecondsBuckets covers waits from a millisecond to about an hour and a
// half, which is the range requests queue for exclusive resources.
var WaitSecondsBuckets = prometheus.ExponentialBuckets(0.001, 4, 12)

// Factory creates metrics that are registered on creation under the
// component ID of the factory. Metric names get the rescloud prefix, and
// every metric carries the component ID as a const label, so several
// managers can share one registry.
//
// All methods panic if registration fails, like promauto does.
type Factory interface {
	NewCounter(opts prometheus.CounterOpts) prometheus.Counter
	NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec
	NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge
	NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec
	NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram
	NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec
}
