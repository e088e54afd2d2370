package promutil

import (
	"github.com/prometheus/client_golang/prometheus"
)

type wrappingFactory struct {
	r *Registry
	// id is the component the collectors are registered under.
	id string
	// prefix turns names into $prefix_$namespace_$subsystem_$name.
	prefix      string
	constLabels prometheus.Labels
}

func register[C prometheus.Collector](f *wrappingFactory, c C) C {
	f.r.MustRegister(f.id, c)
	return c
}

func (f *wrappingFactory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	f.wrap(&opts.Namespace, &opts.ConstLabels)
	return register(f, prometheus.NewCounter(opts))
}

func (f *wrappingFactory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	f.wrap(&opts.Namespace, &opts.ConstLabels)
	return register(f, prometheus.NewCounterVec(opts, labelNames))
}

func (f *wrappingFactory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	f.wrap(&opts.Namespace, &opts.ConstLabels)
	return register(f, prometheus.NewGauge(opts))
}

func (f *wrappingFactory) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	f.wrap(&opts.Namespace, &opts.ConstLabels)
	return register(f, prometheus.NewGaugeVec(opts, labelNames))
}

func (f *wrappingFactory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	f.wrap(&opts.Namespace, &opts.ConstLabels)
	return register(f, prometheus.NewHistogram(opts))
}

func (f *wrappingFactory) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	f.wrap(&opts.Namespace, &opts.ConstLabels)
	return register(f, prometheus.NewHistogramVec(opts, labelNames))
}

// wrap applies the factory prefix and const labels to the namespace and
// const labels of a metric's options.
func (f *wrappingFactory) wrap(ns *string, labels *prometheus.Labels) {
	*ns = wrapNamespace(f.prefix, *ns)
	*labels = wrapConstLabels(f.constLabels, *labels)
}

func wrapNamespace(prefix, ns string) string {
	switch {
	case prefix == "":
		return ns
	case ns == "":
		return prefix
	}
	return prefix + "_" + ns
}

// wrapConstLabels returns a copy of cls extended with constLabels. It panics
// if both define the same label.
func wrapConstLabels(constLabels, cls prometheus.Labels) prometheus.Labels {
	if len(constLabels) == 0 {
		return cls
	}
	ret := make(prometheus.Labels, len(constLabels)+len(cls))
	for name, value := range cls {
		ret[name] = value
	}
	for name, value := range constLabels {
		if _, exists := ret[name]; exists {
			panic("duplicate label name " + name)
		}
		ret[name] = value
	}
	return ret
}
