package promutil

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
)

// The global registry is not prometheus.DefaultRegisterer, so that every
// exposed metric is created through a Factory and has a component label.
var globalMetricRegistry = newSystemRegistry()

func newSystemRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(systemID, collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(systemID, collectors.NewGoCollector(collectors.WithGoCollections(
		collectors.GoRuntimeMemStatsCollection|collectors.GoRuntimeMetricsCollection)))
	return r
}

// GlobalRegistry returns the process-level registry served by
// HTTPHandlerForMetric.
func GlobalRegistry() *Registry {
	return globalMetricRegistry
}

// Registry is a prometheus registry that remembers which component
// registered each collector, so a closed component can drop all of its
// metrics at once.
type Registry struct {
	mu    sync.Mutex
	inner *prometheus.Registry
	owned map[string][]prometheus.Collector
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		inner: prometheus.NewRegistry(),
		owned: make(map[string][]prometheus.Collector),
	}
}

// MustRegister registers c on behalf of componentID. It panics on
// conflicting collectors.
func (r *Registry) MustRegister(componentID string, c prometheus.Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inner.MustRegister(c)
	r.owned[componentID] = append(r.owned[componentID], c)
}

// Unregister drops every collector of componentID and returns how many
// there were.
func (r *Registry) Unregister(componentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.owned[componentID]
	for _, c := range owned {
		r.inner.Unregister(c)
	}
	delete(r.owned, componentID)
	return len(owned)
}

// Gather implements prometheus.Gatherer.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.inner.Gather()
}
