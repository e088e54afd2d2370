package rescmgr

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rescloud/rescloud/pkg/promutil"
)

type managerMetrics struct {
	admitted        *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	waiting         *prometheus.GaugeVec
	holding         *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	declined        *prometheus.CounterVec
	orphanRecovered *prometheus.CounterVec
	waitDuration    *prometheus.HistogramVec
}

func newManagerMetrics(f promutil.Factory) *managerMetrics {
	return &managerMetrics{
		admitted: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "manager",
			Name:      "requests_admitted_total",
			Help:      "Number of resource requests admitted into the queue.",
		}, []string{"resource_type"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "manager",
			Name:      "requests_rejected_total",
			Help:      "Number of resource requests rejected at admission.",
		}, []string{"resource_type", "reason"}),
		waiting: f.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "manager",
			Name:      "waiting_requests",
			Help:      "Number of requests waiting for a resource.",
		}, []string{"resource_type"}),
		holding: f.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "manager",
			Name:      "held_resources",
			Help:      "Number of resources currently held by requests.",
		}, []string{"resource_type"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "manager",
			Name:      "request_transitions_total",
			Help:      "Number of request state transitions by target state.",
		}, []string{"state"}),
		declined: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "manager",
			Name:      "offers_declined_total",
			Help:      "Number of resource offers declined by every listener.",
		}, []string{"resource_type"}),
		orphanRecovered: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "manager",
			Name:      "orphans_recovered_total",
			Help:      "Number of abandoned resources taken back.",
		}, []string{"resource_type"}),
		waitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "manager",
			Name:      "request_wait_seconds",
			Help:      "Time requests spent waiting for a resource.",
			Buckets:   promutil.WaitSecondsBuckets,
		}, []string{"resource_type"}),
	}
}
