package promutil

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// systemID owns the process and runtime collectors.
	systemID = "system"

	namespace = "rescloud"

	// constLabelComponentKey tells apart metrics of two components of the
	// same kind, e.g. two managers in one process.
	constLabelComponentKey = "component_id"
)

// HTTPHandlerForMetric serves the global registry.
func HTTPHandlerForMetric() http.Handler {
	return globalMetricRegistry.Handler()
}

// Handler serves the metrics of r in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r, promhttp.HandlerOpts{})
}

// NewFactory returns a Factory registering to r under componentID.
func NewFactory(r *Registry, componentID string) Factory {
	return &wrappingFactory{
		r:      r,
		id:     componentID,
		prefix: namespace,
		constLabels: prometheus.Labels{
			constLabelComponentKey: componentID,
		},
	}
}
