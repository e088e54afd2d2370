package promutil

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestWrapNamespace(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prefix, ns, expected string
	}{
		{"", "", ""},
		{"", "manager", "manager"},
		{"rescloud", "", "rescloud"},
		{"rescloud", "manager", "rescloud_manager"},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, wrapNamespace(c.prefix, c.ns), "%+v", c)
	}
}

func TestWrapConstLabels(t *testing.T) {
	t.Parallel()

	require.Nil(t, wrapConstLabels(nil, nil))

	own := prometheus.Labels{"k0": "v0", "k1": "v1"}
	require.Equal(t, own, wrapConstLabels(nil, own))

	merged := wrapConstLabels(prometheus.Labels{"component_id": "m-1"}, own)
	require.Equal(t, prometheus.Labels{"k0": "v0", "k1": "v1", "component_id": "m-1"}, merged)
	// the caller's map is left alone
	require.Len(t, own, 2)

	require.Equal(t, prometheus.Labels{"component_id": "m-1"},
		wrapConstLabels(prometheus.Labels{"component_id": "m-1"}, nil))
}

func TestFactoryRejectsDuplicateLabel(t *testing.T) {
	t.Parallel()

	f := NewFactory(NewRegistry(), "m-1")
	require.PanicsWithValue(t, "duplicate label name component_id", func() {
		f.NewCounter(prometheus.CounterOpts{
			Name:        "offers_total",
			ConstLabels: prometheus.Labels{constLabelComponentKey: "other"},
		})
	})
}

func TestFactoryNamesAndLabels(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	f := NewFactory(reg, "m-1")
	f.NewGaugeVec(prometheus.GaugeOpts{Subsystem: "manager", Name: "waiting_requests"}, []string{"resource_type"}).
		WithLabelValues("linux").Set(3)
	f.NewHistogram(prometheus.HistogramOpts{Name: "wait_seconds", Buckets: WaitSecondsBuckets}).Observe(0.5)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 2)

	byName := make(map[string]float64)
	for _, mf := range mfs {
		m := mf.GetMetric()[0]
		labels := make(map[string]string)
		for _, lp := range m.GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		require.Equal(t, "m-1", labels[constLabelComponentKey])
		if g := m.GetGauge(); g != nil {
			byName[mf.GetName()] = g.GetValue()
			require.Equal(t, "linux", labels["resource_type"])
		}
		if h := m.GetHistogram(); h != nil {
			byName[mf.GetName()] = float64(h.GetSampleCount())
			require.Len(t, h.GetBucket(), len(WaitSecondsBuckets))
		}
	}
	require.Equal(t, map[string]float64{
		"rescloud_manager_waiting_requests": 3,
		"rescloud_wait_seconds":             1,
	}, byName)
}
